package runtime

import (
	"context"
	"errors"
	"fmt"
)

// Common errors used throughout the runtime.
var (
	// ErrNoExecutor is returned when no executor is registered for a plugin type.
	ErrNoExecutor = errors.New("no executor registered for plugin type")

	// ErrInvalidConfig is returned when the node configuration is invalid.
	ErrInvalidConfig = errors.New("invalid node configuration")

	// ErrParameterNotFound is returned when a parameter has no value, no
	// default and no fallback.
	ErrParameterNotFound = errors.New("parameter not found")

	// ErrBinaryNotFound is returned when an item has no binary data under the
	// requested property.
	ErrBinaryNotFound = errors.New("binary data not found")

	// ErrCredentialsNotFound is returned when no credentials are stored under
	// the requested name.
	ErrCredentialsNotFound = errors.New("credentials not found")

	// ErrItemIndexOutOfRange is returned for an item index outside the input.
	ErrItemIndexOutOfRange = errors.New("item index out of range")
)

// NodeOperationError is a failure raised by a node while processing one item.
// Its message is what a continue-on-fail error item carries.
type NodeOperationError struct {
	// NodeId is the ID of the node that raised the error
	NodeId string
	// NodeLabel is the human-readable name of the node
	NodeLabel string
	// ItemIndex is the index of the item being processed (-1 if not item bound)
	ItemIndex int
	// Message is the user facing description
	Message string
	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *NodeOperationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *NodeOperationError) Unwrap() error {
	return e.Cause
}

// Describe returns the message with node and item context, for logs.
func (e *NodeOperationError) Describe() string {
	if e.ItemIndex >= 0 {
		return fmt.Sprintf("node %s (%s) at item %d: %s", e.NodeLabel, e.NodeId, e.ItemIndex, e.Message)
	}
	return fmt.Sprintf("node %s (%s): %s", e.NodeLabel, e.NodeId, e.Message)
}

// NewNodeOperationError creates an operation error for a node and item.
func NewNodeOperationError(node EmbeddedNodeConfig, itemIndex int, message string, cause error) *NodeOperationError {
	return &NodeOperationError{
		NodeId:    node.NodeId,
		NodeLabel: node.Label,
		ItemIndex: itemIndex,
		Message:   message,
		Cause:     cause,
	}
}

// ErrorMessage returns the text a continue-on-fail error item carries for err.
func ErrorMessage(err error) string {
	var opErr *NodeOperationError
	if errors.As(err, &opErr) {
		return opErr.Message
	}
	return err.Error()
}

// IsPermanentError determines if an error is permanent (not retryable).
func IsPermanentError(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidConfig),
		errors.Is(err, ErrNoExecutor),
		errors.Is(err, ErrParameterNotFound),
		errors.Is(err, ErrBinaryNotFound),
		errors.Is(err, ErrCredentialsNotFound):
		return true
	}
	return false
}

// IsCancelled reports whether err comes from a cancelled or expired context.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
