package runtime

import (
	"time"

	"go.uber.org/zap"
)

// ExecutorConfig configures a node run.
type ExecutorConfig struct {
	// Credentials resolves credentials by name (nil means none available)
	Credentials CredentialStore

	// BinaryStore loads binary payloads stored by reference
	BinaryStore BinaryDataStore

	// Logger for structured logging (nil for no logging)
	Logger *zap.Logger

	// Metrics collects run metrics (nil for none)
	Metrics MetricsCollector

	// ExpressionTimeout bounds a single expression evaluation
	ExpressionTimeout time.Duration

	// ValidateParameters checks the node config against the node description
	// before the run starts
	ValidateParameters bool
}

// DefaultExecutorConfig returns sensible defaults for a run.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		ExpressionTimeout:  defaultExpressionTimeout,
		ValidateParameters: true,
	}
}

// WithCredentials sets the credential store.
func (c ExecutorConfig) WithCredentials(store CredentialStore) ExecutorConfig {
	c.Credentials = store
	return c
}

// WithBinaryStore sets the binary data store.
func (c ExecutorConfig) WithBinaryStore(store BinaryDataStore) ExecutorConfig {
	c.BinaryStore = store
	return c
}

// WithLogger sets the logger.
func (c ExecutorConfig) WithLogger(logger *zap.Logger) ExecutorConfig {
	c.Logger = logger
	return c
}

// WithMetrics sets the metrics collector.
func (c ExecutorConfig) WithMetrics(m MetricsCollector) ExecutorConfig {
	c.Metrics = m
	return c
}

// WithExpressionTimeout sets the expression timeout.
func (c ExecutorConfig) WithExpressionTimeout(d time.Duration) ExecutorConfig {
	c.ExpressionTimeout = d
	return c
}

// WithValidateParameters sets whether parameters are validated before a run.
func (c ExecutorConfig) WithValidateParameters(validate bool) ExecutorConfig {
	c.ValidateParameters = validate
	return c
}

// Validate applies defaults to unset fields.
func (c *ExecutorConfig) Validate() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = &NoOpMetricsCollector{}
	}
	if c.ExpressionTimeout <= 0 {
		c.ExpressionTimeout = defaultExpressionTimeout
	}
}
