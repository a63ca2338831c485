package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	"github.com/wehubfusion/uploadthing-node/pkg/storage"
	"go.uber.org/zap"
)

type runOptions struct {
	itemsFile      string
	params         string
	paramsFile     string
	files          []string
	token          string
	continueOnFail bool
}

func newRunCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the node once and print its output items",
		Long: `Run the node once over a list of items and print the output items as JSON.

Items come from --items (a JSON item array, "-" for stdin), from --file
(one item per local file, stored in the "data" binary property), or default
to a single empty item.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.itemsFile, "items", "i", "", "JSON file holding the input items (- for stdin)")
	f.StringVarP(&opts.params, "params", "p", "", "node parameters as a JSON object")
	f.StringVar(&opts.paramsFile, "params-file", "", "file holding the node parameters")
	f.StringArrayVarP(&opts.files, "file", "f", nil, "local file to upload as a binary item (repeatable)")
	f.StringVar(&opts.token, "token", "", "UploadThing token (overrides uploadthing.token)")
	f.BoolVar(&opts.continueOnFail, "continue-on-fail", false, "emit error items instead of failing")
	cmd.MarkFlagsMutuallyExclusive("params", "params-file")
	cmd.MarkFlagsMutuallyExclusive("items", "file")
	return cmd
}

func (a *app) run(cmd *cobra.Command, opts runOptions) error {
	params, err := readParams(opts)
	if err != nil {
		return err
	}
	items, err := readItems(cmd.InOrStdin(), opts)
	if err != nil {
		return err
	}

	node := runtime.EmbeddedNodeConfig{
		NodeId:         "cli",
		Label:          "UploadThing",
		PluginType:     uploadthing.PluginType,
		ContinueOnFail: opts.continueOnFail,
		NodeConfig:     runtime.NodeConfig{NodeId: "cli", Config: params},
	}

	cfg := embedded.ProcessorConfig{
		Credentials: a.credentials(opts.token),
		Logger:      a.logger,
	}
	if a.cfg.BlobStorageEnabled() {
		blobs, err := storage.NewAzureBlobClient(a.cfg.Azure.ConnectionString, a.cfg.Azure.Container, a.logger)
		if err != nil {
			return err
		}
		cfg.BinaryStore = blobs
	}

	processor := embedded.NewProcessor(processors.NewProcessorRegistryWithClient(a.clientFactory()), cfg)
	out, err := processor.Run(cmd.Context(), node, items, nil)
	if err != nil {
		return err
	}

	a.logger.Debug("Node run completed", zap.Int("items_in", len(items)), zap.Int("items_out", len(out)))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func readParams(opts runOptions) (json.RawMessage, error) {
	raw := []byte(opts.params)
	if opts.paramsFile != "" {
		data, err := os.ReadFile(opts.paramsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read parameters: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return json.RawMessage("{}"), nil
	}

	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("parameters must be a JSON object: %w", err)
	}
	return json.RawMessage(raw), nil
}

func readItems(stdin io.Reader, opts runOptions) ([]runtime.Item, error) {
	if len(opts.files) > 0 {
		items := make([]runtime.Item, 0, len(opts.files))
		for _, path := range opts.files {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			name := filepath.Base(path)
			items = append(items, runtime.Item{
				JSON:   map[string]interface{}{"fileName": name},
				Binary: map[string]*runtime.BinaryData{"data": runtime.NewBinaryData(data, name, detectMimeType(name, data))},
			})
		}
		return items, nil
	}

	if opts.itemsFile == "" {
		return []runtime.Item{runtime.NewItem(nil)}, nil
	}

	var (
		data []byte
		err  error
	)
	if opts.itemsFile == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(opts.itemsFile)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read items: %w", err)
	}

	var items []runtime.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("items must be a JSON array of items: %w", err)
	}
	return items, nil
}

func detectMimeType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
