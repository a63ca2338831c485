// Package runner pulls execution requests from a NATS JetStream consumer,
// runs them on a worker pool and reports each outcome on the result subject.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wehubfusion/uploadthing-node/internal/tracing"
	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Processor runs the node of one execution request.
type Processor interface {
	Process(ctx context.Context, msg *message.Message) ([]runtime.Item, error)
}

// Messages is the message transport a runner pulls from and reports to.
// *message.MessageService implements it.
type Messages interface {
	PullMessages(ctx context.Context, stream, consumer string, batchSize int) ([]*message.Message, error)
	ReportSuccess(ctx context.Context, msg *message.Message, items []runtime.Item, elapsed time.Duration) error
	ReportError(ctx context.Context, msg *message.Message, err error) error
}

// streamEnsurer is implemented by transports that can create the stream and
// consumer a runner reads from.
type streamEnsurer interface {
	EnsureStream(stream string) error
	EnsureConsumer(stream, consumer string) error
}

// ErrorHook observes every failed execution, e.g. to forward it to an error
// tracker.
type ErrorHook func(ctx context.Context, msg *message.Message, err error)

// Config configures a Runner.
type Config struct {
	Stream   string
	Consumer string

	// BatchSize is how many messages to pull at once
	BatchSize int

	// Workers is the number of goroutines processing messages
	Workers int

	// ProcessTimeout bounds the processing of a single message
	ProcessTimeout time.Duration

	// ReportTimeout bounds result reporting, which runs even after shutdown
	// has begun
	ReportTimeout time.Duration

	// Tracing, when set, configures an OTLP exporter owned by the runner
	Tracing *TracingConfig

	ErrorHook ErrorHook

	// Middleware wraps message processing, outermost first. Recovery,
	// logging and validation are always applied.
	Middleware []message.Middleware
}

// DefaultConfig returns a runner configuration for stream and consumer.
func DefaultConfig(stream, consumer string) Config {
	return Config{
		Stream:         stream,
		Consumer:       consumer,
		BatchSize:      10,
		Workers:        4,
		ProcessTimeout: 5 * time.Minute,
		ReportTimeout:  10 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.Stream == "":
		return errors.New("stream name cannot be empty")
	case c.Consumer == "":
		return errors.New("consumer name cannot be empty")
	case c.BatchSize <= 0:
		return errors.New("batchSize must be greater than 0")
	case c.Workers <= 0:
		return errors.New("workers must be greater than 0")
	case c.ProcessTimeout <= 0:
		return errors.New("processTimeout must be greater than 0")
	}
	return nil
}

// Runner manages concurrent processing of execution requests.
type Runner struct {
	messages        Messages
	processor       Processor
	cfg             Config
	middleware      message.Middleware
	logger          *zap.Logger
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
}

// NewRunner creates a runner. When messages can create streams, the stream
// and consumer are created if missing.
func NewRunner(messages Messages, processor Processor, cfg Config, logger *zap.Logger) (*Runner, error) {
	if messages == nil {
		return nil, errors.New("messages cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 10 * time.Second
	}

	if ensurer, ok := messages.(streamEnsurer); ok {
		if err := ensurer.EnsureStream(cfg.Stream); err != nil {
			return nil, fmt.Errorf("failed to ensure stream '%s' exists: %w", cfg.Stream, err)
		}
		if err := ensurer.EnsureConsumer(cfg.Stream, cfg.Consumer); err != nil {
			return nil, fmt.Errorf("failed to ensure consumer '%s' exists: %w", cfg.Consumer, err)
		}
	}

	r := &Runner{
		messages:  messages,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("uploadthing-node/runner"),
	}

	if cfg.Tracing != nil {
		shutdown, err := tracing.SetupTracing(context.Background(), cfg.Tracing.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			r.tracingShutdown = shutdown
		}
	}

	r.middleware = message.Chain(append([]message.Middleware{
		message.RecoveryMiddleware(logger),
		message.LoggingMiddleware(logger),
		message.ValidationMiddleware(),
	}, cfg.Middleware...)...)

	return r, nil
}

// Close shuts down tracing set up by the runner.
func (r *Runner) Close() error {
	if r.tracingShutdown == nil {
		return nil
	}
	return tracing.ShutdownTracing(r.tracingShutdown, r.logger)
}

// Run pulls and processes messages until ctx is cancelled. In-flight
// messages are finished and reported before Run returns ctx.Err().
func (r *Runner) Run(ctx context.Context) error {
	messageChan := make(chan *message.Message, r.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r.worker(ctx, workerID, messageChan)
		}(i)
	}

	go func() {
		defer close(messageChan)
		r.pull(ctx, messageChan)
	}()

	wg.Wait()
	r.logger.Info("Runner stopped")
	return ctx.Err()
}

func (r *Runner) pull(ctx context.Context, out chan<- *message.Message) {
	const (
		minBackoff = 100 * time.Millisecond
		maxBackoff = 5 * time.Second
		idleWait   = 500 * time.Millisecond
	)
	backoff := minBackoff

	for ctx.Err() == nil {
		messages, err := r.messages.PullMessages(ctx, r.cfg.Stream, r.cfg.Consumer, r.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Error("Error pulling messages", zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		if len(messages) == 0 {
			if !sleep(ctx, idleWait) {
				return
			}
			continue
		}

		for _, msg := range messages {
			select {
			case out <- msg:
			case <-ctx.Done():
				// Unsent messages are redelivered after their ack wait.
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *Runner) worker(ctx context.Context, workerID int, messageChan <-chan *message.Message) {
	r.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	defer r.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))

	for msg := range messageChan {
		r.processMessage(ctx, workerID, msg)
	}
}

// processMessage runs one message and reports its outcome.
func (r *Runner) processMessage(ctx context.Context, workerID int, msg *message.Message) {
	workflowID, runID := msg.WorkflowIDs()
	ctx, span := r.tracer.Start(ctx, "runner.processMessage",
		trace.WithAttributes(
			attribute.Int("worker.id", workerID),
			attribute.String("execution.id", msg.ExecutionID),
			attribute.String("workflow.id", workflowID),
			attribute.String("workflow.run_id", runID),
			attribute.String("node.id", msg.Node.NodeId),
			attribute.String("node.plugin_type", msg.Node.PluginType),
			attribute.Int("message.items", len(msg.Items)),
		))
	defer span.End()

	processCtx, cancel := context.WithTimeout(ctx, r.cfg.ProcessTimeout)
	defer cancel()

	start := time.Now()
	var items []runtime.Item
	processErr := r.middleware(func(ctx context.Context, msg *message.Message) error {
		var err error
		items, err = r.processor.Process(ctx, msg)
		return err
	})(processCtx, msg)
	elapsed := time.Since(start)
	span.SetAttributes(attribute.Int64("processing.duration_ms", elapsed.Milliseconds()))

	// Reporting must survive shutdown so the message is acked or nak'ed.
	reportCtx, reportCancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ReportTimeout)
	defer reportCancel()

	if processErr != nil {
		span.RecordError(processErr)
		span.SetStatus(codes.Error, processErr.Error())
		if r.cfg.ErrorHook != nil {
			r.cfg.ErrorHook(ctx, msg, processErr)
		}
		if err := r.messages.ReportError(reportCtx, msg, processErr); err != nil {
			r.logger.Error("Error reporting failure",
				zap.Int("worker_id", workerID),
				zap.String("execution_id", msg.ExecutionID),
				zap.Error(err))
		}
		return
	}

	span.SetAttributes(attribute.Int("result.items", len(items)))
	span.SetStatus(codes.Ok, "")
	if err := r.messages.ReportSuccess(reportCtx, msg, items, elapsed); err != nil {
		span.RecordError(err)
		r.logger.Error("Error reporting success",
			zap.Int("worker_id", workerID),
			zap.String("execution_id", msg.ExecutionID),
			zap.Error(err))
	}
}
