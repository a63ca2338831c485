package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/wehubfusion/uploadthing-node/internal/nats"
	"github.com/wehubfusion/uploadthing-node/internal/tracing"
	"github.com/wehubfusion/uploadthing-node/pkg/client"
	"github.com/wehubfusion/uploadthing-node/pkg/concurrency"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/processors/uploadthing"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	"github.com/wehubfusion/uploadthing-node/pkg/runner"
	"github.com/wehubfusion/uploadthing-node/pkg/storage"
	"go.uber.org/zap"
)

func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process execution requests from NATS JetStream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.worker(ctx)
		},
	}
}

func (a *app) worker(ctx context.Context) error {
	cfg := a.cfg
	defer concurrency.SetMaxProcs(a.logger)()

	connCfg := nats.DefaultConnectionConfig(cfg.NATS.URL)
	connCfg.ResultStream = cfg.NATS.ResultStream
	connCfg.ResultSubject = cfg.NATS.ResultSubject
	connCfg.MaxDeliver = cfg.NATS.MaxDeliver

	c := client.NewClientWithConfig(connCfg)
	c.SetLogger(a.logger)

	procCfg := embedded.ProcessorConfig{
		Credentials: a.credentials(""),
		Logger:      a.logger,
	}
	if cfg.BlobStorageEnabled() {
		blobs, err := storage.NewAzureBlobClient(cfg.Azure.ConnectionString, cfg.Azure.Container, a.logger)
		if err != nil {
			return err
		}
		c.SetBlobStorage(blobs)
		procCfg.Blobs = blobs
		procCfg.BinaryStore = blobs
	} else {
		a.logger.Warn("Blob storage not configured, results over 1.5MB will fail")
	}

	if err := c.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			a.logger.Warn("Failed to close NATS connection", zap.Error(err))
		}
	}()

	runCfg := runner.DefaultConfig(cfg.NATS.Stream, cfg.NATS.Consumer)
	runCfg.BatchSize = cfg.Runner.BatchSize
	runCfg.Workers = cfg.Runner.Workers
	if runCfg.Workers == 0 {
		runCfg.Workers = concurrency.DefaultWorkers()
	}
	runCfg.ProcessTimeout = cfg.Runner.ProcessTimeout
	if cfg.Tracing.Enabled {
		tc := runner.DefaultTracingConfig(tracing.DefaultServiceName)
		tc.ServiceVersion = version
		tc.Environment = cfg.Tracing.Environment
		tc.OTLPEndpoint = cfg.Tracing.Endpoint
		tc.Insecure = cfg.Tracing.Insecure
		tc.SampleRatio = cfg.Tracing.SampleRatio
		runCfg.Tracing = &tc
	}

	if cfg.Sentry.DSN != "" {
		flush, err := initSentry(cfg.Sentry.DSN, cfg.Sentry.Environment)
		if err != nil {
			return err
		}
		defer flush()
		runCfg.ErrorHook = sentryHook
	}

	var limiter *concurrency.Limiter
	if cfg.UploadThing.MaxConcurrent > 0 {
		breaker := concurrency.NewCircuitBreaker("uploadthing", cfg.UploadThing.BreakerThreshold, cfg.UploadThing.BreakerReset, a.logger)
		limiter = concurrency.NewLimiter(cfg.UploadThing.MaxConcurrent, breaker)
	}
	clients := uploadthing.Guard(a.clientFactory(), limiter)

	processor := embedded.NewProcessor(processors.NewProcessorRegistryWithClient(clients), procCfg)
	r, err := runner.NewRunner(c.Messages, processor, runCfg, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			a.logger.Warn("Failed to shut down tracing", zap.Error(err))
		}
	}()

	a.logger.Info("Worker started",
		zap.String("stream", runCfg.Stream),
		zap.String("consumer", runCfg.Consumer),
		zap.Int("workers", runCfg.Workers),
		zap.Bool("blob_storage", cfg.BlobStorageEnabled()))

	err = r.Run(ctx)
	m := processor.Metrics()
	fields := []zap.Field{
		zap.Int64("runs", m.TotalRuns),
		zap.Int64("failed_runs", m.TotalErrors),
	}
	if limiter != nil {
		lm := limiter.Metrics()
		fields = append(fields,
			zap.Int64("api_calls", lm.TotalAcquired),
			zap.Int64("api_calls_rejected", lm.TotalRejected),
			zap.Int64("api_peak_concurrent", lm.PeakConcurrent),
			zap.Duration("api_avg_wait", limiter.AverageWaitTime()))
	}
	a.logger.Info("Worker stopped", fields...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func initSentry(dsn, environment string) (func(), error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     "uploadthing-node@" + version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise sentry: %w", err)
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// sentryHook reports a failed execution tagged with its identifiers.
func sentryHook(ctx context.Context, msg *message.Message, err error) {
	hub := sentry.CurrentHub().Clone()
	workflowID, runID := msg.WorkflowIDs()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("execution_id", msg.ExecutionID)
		scope.SetTag("node_id", msg.Node.NodeId)
		scope.SetTag("plugin_type", msg.Node.PluginType)
		if workflowID != "" {
			scope.SetTag("workflow_id", workflowID)
			scope.SetTag("run_id", runID)
		}
		hub.CaptureException(err)
	})
}
