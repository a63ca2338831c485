package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/wehubfusion/uploadthing-node/internal/config"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	ut "github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
	"go.uber.org/zap"
)

// app carries state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
	logger  *zap.Logger

	// clients overrides the UploadThing client factory in tests
	clients uploadthing.ClientFactory
}

func newRootCmd() *cobra.Command {
	return newRootCmdFor(&app{v: config.New()})
}

func newRootCmdFor(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:          "uploadthing-node",
		Short:        "Upload files to UploadThing from workflow items",
		Version:      version,
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default ./uploadthing-node.yaml)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool("log-development", false, "human-readable development logging")
	_ = a.v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("log.development", flags.Lookup("log-development"))

	root.AddCommand(newRunCmd(a), newWorkerCmd(a), newDescribeCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func (a *app) clientFactory() uploadthing.ClientFactory {
	if a.clients != nil {
		return a.clients
	}
	return uploadthing.DefaultClientFactory(ut.DefaultConfig().
		WithAPIURL(a.cfg.UploadThing.APIURL).
		WithTimeout(a.cfg.UploadThing.Timeout).
		WithLogger(a.logger))
}

// credentials returns the configured fallback credentials, nil without a
// configured token.
func (a *app) credentials(token string) runtime.CredentialStore {
	if token == "" {
		token = a.cfg.UploadThing.Token
	}
	if token == "" {
		return nil
	}
	return runtime.NewStaticCredentialStore(map[string]map[string]interface{}{
		uploadthing.CredentialName: {"token": token},
	})
}
