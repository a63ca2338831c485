package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wehubfusion/uploadthing-node/pkg/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"

// Executor runs one node over a batch of items and implements ExecuteFunctions.
// An Executor is used by a single run and is not safe for concurrent use.
type Executor struct {
	ctx    context.Context
	node   EmbeddedNodeConfig
	desc   *schema.NodeDescription
	params map[string]interface{}
	items  []Item
	cfg    ExecutorConfig
	logger *zap.Logger
	expr   *ExpressionEvaluator
	tracer trace.Tracer
	creds  map[string]map[string]interface{}
}

var _ ExecuteFunctions = (*Executor)(nil)

// NewExecutor prepares a run of node over items. desc may be nil, in which
// case parameters have no defaults and are not validated.
func NewExecutor(ctx context.Context, node EmbeddedNodeConfig, desc *schema.NodeDescription, items []Item, cfg ExecutorConfig) (*Executor, error) {
	cfg.Validate()
	if ctx == nil {
		ctx = context.Background()
	}

	params, err := node.NodeConfig.Parameters()
	if err != nil {
		return nil, err
	}
	if cfg.ValidateParameters && desc != nil {
		if err := schema.NewValidator().Validate(desc, params); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	return &Executor{
		ctx:    ctx,
		node:   node,
		desc:   desc,
		params: params,
		items:  items,
		cfg:    cfg,
		logger: cfg.Logger.With(
			zap.String("node_id", node.NodeId),
			zap.String("plugin_type", node.PluginType),
		),
		expr:   NewExpressionEvaluator(cfg.ExpressionTimeout),
		tracer: otel.Tracer(tracerName),
		creds:  make(map[string]map[string]interface{}),
	}, nil
}

// Run executes node and records a span and metrics for the run.
func (e *Executor) Run(node EmbeddedNode) ([]Item, error) {
	ctx, span := e.tracer.Start(e.ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.id", e.node.NodeId),
			attribute.String("node.plugin_type", e.node.PluginType),
			attribute.Int("node.input_items", len(e.items)),
		),
	)
	defer span.End()

	prev := e.ctx
	e.ctx = ctx
	defer func() { e.ctx = prev }()

	start := time.Now()
	out, err := node.Execute(e)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.cfg.Metrics.RecordError()
		e.logger.Error("node run failed", zap.Error(err), zap.Duration("duration", elapsed))
		return nil, err
	}

	errorItems := 0
	for _, item := range out {
		if _, ok := item.JSON["error"]; ok {
			errorItems++
		}
	}
	span.SetAttributes(
		attribute.Int("node.output_items", len(out)),
		attribute.Int("node.error_items", errorItems),
	)
	span.SetStatus(codes.Ok, "")
	e.cfg.Metrics.RecordRun(elapsed.Nanoseconds(), len(out))
	e.logger.Debug("node run finished",
		zap.Int("input_items", len(e.items)),
		zap.Int("output_items", len(out)),
		zap.Int("error_items", errorItems),
		zap.Duration("duration", elapsed))
	return out, nil
}

// Context returns the run context.
func (e *Executor) Context() context.Context {
	return e.ctx
}

// InputData returns the input items.
func (e *Executor) InputData() []Item {
	return e.items
}

// Node returns the node configuration.
func (e *Executor) Node() EmbeddedNodeConfig {
	return e.node
}

// ContinueOnFail reports the node's continue-on-fail flag.
func (e *Executor) ContinueOnFail() bool {
	return e.node.ContinueOnFail
}

// Logger returns the node scoped logger.
func (e *Executor) Logger() *zap.Logger {
	return e.logger
}

// NodeParameter resolves a parameter for itemIndex. Expression values are
// evaluated against that item.
func (e *Executor) NodeParameter(name string, itemIndex int, fallback interface{}) (interface{}, error) {
	item, err := e.item(itemIndex)
	if err != nil {
		return nil, err
	}

	value, ok := e.params[name]
	if !ok && e.desc != nil {
		if prop, found := e.desc.Property(name); found {
			value, ok = prop.Default, true
		}
	}
	if !ok || value == nil {
		if fallback != nil {
			return fallback, nil
		}
		if ok {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrParameterNotFound, name)
	}

	if s, isString := value.(string); isString && schema.IsExpression(s) {
		resolved, err := e.expr.Evaluate(s, ExpressionData{
			JSON:   item.JSON,
			Binary: item.Binary,
			Index:  itemIndex,
			Node:   e.node,
		})
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", name, err)
		}
		return resolved, nil
	}
	return value, nil
}

// Credentials returns the credential fields stored under name. Results are
// cached for the run.
func (e *Executor) Credentials(name string) (map[string]interface{}, error) {
	if c, ok := e.creds[name]; ok {
		return c, nil
	}
	if e.cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, name)
	}
	c, err := e.cfg.Credentials.Credentials(e.ctx, name)
	if err != nil {
		return nil, err
	}
	e.creds[name] = c
	return c, nil
}

// BinaryData returns the binary descriptor under property.
func (e *Executor) BinaryData(itemIndex int, property string) (*BinaryData, error) {
	item, err := e.item(itemIndex)
	if err != nil {
		return nil, err
	}
	bd, ok := item.Binary[property]
	if !ok || bd == nil {
		return nil, fmt.Errorf("%w: %s", ErrBinaryNotFound, property)
	}
	return bd, nil
}

// BinaryDataBuffer returns the bytes of a binary property, loading stored
// payloads from the binary store.
func (e *Executor) BinaryDataBuffer(itemIndex int, property string) ([]byte, error) {
	bd, err := e.BinaryData(itemIndex, property)
	if err != nil {
		return nil, err
	}
	switch {
	case bd.Inline():
		return bd.Decode()
	case bd.ID != "":
		if e.cfg.BinaryStore == nil {
			return nil, fmt.Errorf("binary %s is stored by reference but no binary store is configured", property)
		}
		data, err := e.cfg.BinaryStore.Download(e.ctx, bd.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load binary %s: %w", property, err)
		}
		return data, nil
	default:
		return []byte{}, nil
	}
}

func (e *Executor) item(index int) (Item, error) {
	if index < 0 || index >= len(e.items) {
		return Item{}, fmt.Errorf("%w: %d", ErrItemIndexOutOfRange, index)
	}
	return e.items[index], nil
}

// StringParameter resolves a parameter as a string. Nil values yield fallback.
func StringParameter(fns ExecuteFunctions, name string, itemIndex int, fallback string) (string, error) {
	v, err := fns.NodeParameter(name, itemIndex, fallback)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case nil:
		return fallback, nil
	case string:
		return t, nil
	default:
		return stringify(t), nil
	}
}

// NumberParameter resolves a parameter as a number.
func NumberParameter(fns ExecuteFunctions, name string, itemIndex int, fallback float64) (float64, error) {
	v, err := fns.NodeParameter(name, itemIndex, fallback)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return fallback, nil
	}
	if f, ok := schema.ToFloat(v); ok {
		return f, nil
	}
	if s, ok := v.(string); ok {
		if strings.TrimSpace(s) == "" {
			return fallback, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: parameter %s is not a number", ErrInvalidConfig, name)
}

// JSONParameter resolves a json parameter into an object.
func JSONParameter(fns ExecuteFunctions, name string, itemIndex int) (map[string]interface{}, error) {
	v, err := fns.NodeParameter(name, itemIndex, "{}")
	if err != nil {
		return nil, err
	}
	obj, err := schema.ParseJSONObject(v)
	if err != nil {
		return nil, fmt.Errorf("%w: parameter %s: %v", ErrInvalidConfig, name, err)
	}
	return obj, nil
}
