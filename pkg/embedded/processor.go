// Package embedded runs embedded nodes for execution requests received by a
// worker or issued from the command line.
package embedded

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	"github.com/wehubfusion/uploadthing-node/pkg/schema"
	"go.uber.org/zap"
)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Credentials used when a request carries none for a credential type
	Credentials runtime.CredentialStore

	// Blobs loads items sent by reference (nil rejects such requests)
	Blobs message.BlobStorageClient

	// BinaryStore loads binary payloads stored by reference
	BinaryStore runtime.BinaryDataStore

	Logger  *zap.Logger
	Metrics runtime.MetricsCollector

	ExpressionTimeout time.Duration
}

// Processor resolves the node of an execution request and runs it over the
// request's items.
type Processor struct {
	factory runtime.EmbeddedNodeFactory
	cfg     ProcessorConfig
}

// NewProcessor creates a processor creating nodes from factory.
func NewProcessor(factory runtime.EmbeddedNodeFactory, cfg ProcessorConfig) *Processor {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = runtime.NewMetricsCollector()
	}
	return &Processor{factory: factory, cfg: cfg}
}

// Metrics returns the run metrics collected so far.
func (p *Processor) Metrics() runtime.Metrics {
	return p.cfg.Metrics.GetMetrics()
}

// Process runs msg's node over msg's items.
func (p *Processor) Process(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
	if msg == nil {
		return nil, sdkerrors.NewValidationError("message cannot be nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
	}

	items, err := p.items(ctx, msg)
	if err != nil {
		return nil, err
	}

	var creds runtime.CredentialStore = p.cfg.Credentials
	if len(msg.Credentials) > 0 {
		creds = runtime.CredentialChain{runtime.NewStaticCredentialStore(msg.Credentials), p.cfg.Credentials}
	}
	return p.Run(ctx, msg.Node, items, creds)
}

// Run creates node and runs it over items. creds overrides the configured
// credential store when non-nil.
func (p *Processor) Run(ctx context.Context, node runtime.EmbeddedNodeConfig, items []runtime.Item, creds runtime.CredentialStore) ([]runtime.Item, error) {
	if creds == nil {
		creds = p.cfg.Credentials
	}

	instance, err := p.factory.Create(node)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", node.NodeId, err)
	}

	desc := describe(instance)
	cfg := runtime.DefaultExecutorConfig().
		WithCredentials(creds).
		WithBinaryStore(p.cfg.BinaryStore).
		WithLogger(p.cfg.Logger).
		WithMetrics(p.cfg.Metrics)
	if p.cfg.ExpressionTimeout > 0 {
		cfg = cfg.WithExpressionTimeout(p.cfg.ExpressionTimeout)
	}

	exec, err := runtime.NewExecutor(ctx, node, desc, items, cfg)
	if err != nil {
		return nil, err
	}
	return exec.Run(instance)
}

func (p *Processor) items(ctx context.Context, msg *message.Message) ([]runtime.Item, error) {
	if msg.ItemsRef == nil {
		return msg.Items, nil
	}
	if p.cfg.Blobs == nil {
		return nil, sdkerrors.NewBadRequestError("items sent by reference but no blob storage is configured", "BLOB_STORAGE_UNAVAILABLE", nil)
	}

	data, err := p.cfg.Blobs.DownloadResult(ctx, msg.ItemsRef.URL)
	if err != nil {
		return nil, sdkerrors.NewInternalError("failed to download items", "ITEMS_DOWNLOAD_FAILED", err)
	}
	var items []runtime.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, sdkerrors.NewValidationError("items blob is not a JSON item array", "INVALID_ITEMS", err)
	}
	p.cfg.Logger.Debug("Loaded items by reference",
		zap.String("execution_id", msg.ExecutionID),
		zap.Int("items", len(items)),
		zap.Int("size_bytes", len(data)))
	return items, nil
}

func describe(node runtime.EmbeddedNode) *schema.NodeDescription {
	if d, ok := node.(runtime.Describer); ok {
		return d.Description()
	}
	return nil
}
