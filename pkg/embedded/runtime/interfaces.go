// Package runtime provides the core types and interfaces for embedded node processing.
package runtime

import (
	"context"

	"github.com/wehubfusion/uploadthing-node/pkg/schema"
	"go.uber.org/zap"
)

// EmbeddedNode is the interface that all embedded node processors must implement.
// Each processor handles a specific plugin type and implements its own logic.
type EmbeddedNode interface {
	// Execute runs the node over the input items exposed by fns and returns
	// the output items.
	Execute(fns ExecuteFunctions) ([]Item, error)

	// NodeId returns the unique identifier of this node instance.
	NodeId() string

	// PluginType returns the type of plugin this node represents.
	PluginType() string
}

// Describer is implemented by nodes that declare their parameter surface.
// The executor uses the description for parameter defaults and validation.
type Describer interface {
	Description() *schema.NodeDescription
}

// EmbeddedNodeFactory creates embedded nodes from configuration.
// It acts as a registry for node creators.
type EmbeddedNodeFactory interface {
	// Create creates an embedded node from its configuration.
	// Returns an error if the plugin type is not registered or creation fails.
	Create(config EmbeddedNodeConfig) (EmbeddedNode, error)

	// Register registers a creator function for a plugin type.
	Register(pluginType string, creator NodeCreator)

	// HasCreator checks if a creator exists for a plugin type.
	HasCreator(pluginType string) bool

	// RegisteredTypes returns all registered plugin types.
	RegisteredTypes() []string
}

// NodeCreator is a function that creates an embedded node from configuration.
type NodeCreator func(config EmbeddedNodeConfig) (EmbeddedNode, error)

// ExecuteFunctions is the host contract a node sees while it runs.
type ExecuteFunctions interface {
	// Context returns the run context; cancellation stops the run.
	Context() context.Context

	// InputData returns the input items in order.
	InputData() []Item

	// NodeParameter resolves a parameter for one item. Missing parameters
	// take the node description default, then fallback.
	NodeParameter(name string, itemIndex int, fallback interface{}) (interface{}, error)

	// Credentials returns the credential fields stored under name.
	Credentials(name string) (map[string]interface{}, error)

	// BinaryData returns the binary descriptor attached to an item, or
	// ErrBinaryNotFound.
	BinaryData(itemIndex int, property string) (*BinaryData, error)

	// BinaryDataBuffer returns the bytes of a binary property.
	BinaryDataBuffer(itemIndex int, property string) ([]byte, error)

	// ContinueOnFail reports whether per-item failures become error items.
	ContinueOnFail() bool

	// Node returns the configuration of the running node.
	Node() EmbeddedNodeConfig

	// Logger returns a logger scoped to the running node.
	Logger() *zap.Logger
}

// CredentialStore resolves credentials by credential type name.
type CredentialStore interface {
	Credentials(ctx context.Context, name string) (map[string]interface{}, error)
}

// BinaryDataStore loads binary payloads stored by reference.
type BinaryDataStore interface {
	Download(ctx context.Context, id string) ([]byte, error)
}

// Metrics holds processing metrics for observability.
type Metrics struct {
	// TotalRuns is the count of node runs
	TotalRuns int64
	// TotalItemsProcessed is the count of output items produced
	TotalItemsProcessed int64
	// TotalErrors is the count of failed runs
	TotalErrors int64
	// ProcessingTimeNs is the total run time in nanoseconds
	ProcessingTimeNs int64
}

// MetricsCollector collects processing metrics.
type MetricsCollector interface {
	// RecordRun records a finished run and the number of items it produced
	RecordRun(durationNs int64, items int)
	// RecordError records a failed run
	RecordError()
	// GetMetrics returns the current metrics
	GetMetrics() Metrics
	// Reset resets all metrics
	Reset()
}
