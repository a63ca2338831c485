package message

import (
	"context"
	"fmt"
	"runtime/debug"

	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"go.uber.org/zap"
)

// Handler processes one execution request. It does not acknowledge the
// message; acknowledgment follows from the reported result.
type Handler func(ctx context.Context, msg *Message) error

// Middleware wraps a handler to add behavior around it.
type Middleware func(Handler) Handler

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(h Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			h = middlewares[i](h)
		}
		return h
	}
}

// RecoveryMiddleware turns a panic in the handler into an error.
func RecoveryMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Recovered from panic in message handler",
						zap.String("execution_id", msg.ExecutionID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()))
					err = fmt.Errorf("panic recovered: %v", r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// LoggingMiddleware logs the start and outcome of each execution.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) error {
			workflowID, runID := msg.WorkflowIDs()
			fields := []zap.Field{
				zap.String("execution_id", msg.ExecutionID),
				zap.String("node_id", msg.Node.NodeId),
				zap.String("plugin_type", msg.Node.PluginType),
			}
			if workflowID != "" {
				fields = append(fields,
					zap.String("workflow_id", workflowID),
					zap.String("run_id", runID))
			}

			logger.Debug("Processing message", fields...)
			err := next(ctx, msg)
			if err != nil {
				logger.Error("Error processing message", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("Processed message", fields...)
			}
			return err
		}
	}
}

// ValidationMiddleware rejects messages missing the fields a worker needs.
func ValidationMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg *Message) error {
			if msg == nil {
				return sdkerrors.NewValidationError("message is nil", "INVALID_MESSAGE", sdkerrors.ErrInvalidMessage)
			}
			if err := msg.Validate(); err != nil {
				return sdkerrors.NewValidationError("invalid message", "INVALID_MESSAGE", err)
			}
			return next(ctx, msg)
		}
	}
}
