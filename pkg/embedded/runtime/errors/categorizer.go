// Package errors maps node run failures onto stable error codes and decides
// whether a failed run is worth retrying.
package errors

import (
	"context"
	stdErrors "errors"
	"net"
	"net/http"
	"strings"

	"github.com/wehubfusion/uploadthing-node/pkg/embedded/runtime"
	appErrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"github.com/wehubfusion/uploadthing-node/pkg/uploadthing"
)

// Error code constants
const (
	ErrorCodeUnknown       = "UNKNOWN_ERROR"
	ErrorCodeTimeout       = "TIMEOUT_ERROR"
	ErrorCodeNetwork       = "NETWORK_ERROR"
	ErrorCodeValidation    = "VALIDATION_ERROR"
	ErrorCodeNotFound      = "NOT_FOUND_ERROR"
	ErrorCodeUnauthorized  = "UNAUTHORIZED_ERROR"
	ErrorCodeForbidden     = "FORBIDDEN_ERROR"
	ErrorCodeBadRequest    = "BAD_REQUEST_ERROR"
	ErrorCodeInternal      = "INTERNAL_ERROR"
	ErrorCodeExecution     = "EXECUTION_ERROR"
	ErrorCodeConfiguration = "CONFIGURATION_ERROR"
	ErrorCodeUpload        = "UPLOAD_ERROR"
	ErrorCodeRateLimit     = "RATE_LIMIT_ERROR"
)

// CategorizeError maps an error to a standardized error code
func CategorizeError(err error) string {
	if err == nil {
		return ""
	}

	var appErr *appErrors.AppError
	if stdErrors.As(err, &appErr) {
		switch appErr.Type {
		case appErrors.ValidationFailed:
			return ErrorCodeValidation
		case appErrors.NotFound:
			return ErrorCodeNotFound
		case appErrors.Unauthorized:
			return ErrorCodeUnauthorized
		case appErrors.BadRequest:
			return ErrorCodeBadRequest
		case appErrors.Internal:
			return ErrorCodeInternal
		case appErrors.PermissionDenied:
			return ErrorCodeForbidden
		}
	}

	var utErr *uploadthing.Error
	if stdErrors.As(err, &utErr) {
		return categorizeUploadError(utErr)
	}

	switch {
	case stdErrors.Is(err, runtime.ErrInvalidConfig), stdErrors.Is(err, runtime.ErrNoExecutor):
		return ErrorCodeConfiguration
	case stdErrors.Is(err, runtime.ErrCredentialsNotFound):
		return ErrorCodeUnauthorized
	case stdErrors.Is(err, runtime.ErrBinaryNotFound), stdErrors.Is(err, runtime.ErrParameterNotFound):
		return ErrorCodeValidation
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}

	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorCodeTimeout
		}
		return ErrorCodeNetwork
	}

	var opErr *runtime.NodeOperationError
	if stdErrors.As(err, &opErr) {
		return ErrorCodeExecution
	}

	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "timed out"):
		return ErrorCodeTimeout
	case strings.Contains(errMsg, "connection"):
		return ErrorCodeNetwork
	case strings.Contains(errMsg, "not found"):
		return ErrorCodeNotFound
	}
	return ErrorCodeUnknown
}

func categorizeUploadError(e *uploadthing.Error) string {
	switch e.Status {
	case http.StatusTooManyRequests:
		return ErrorCodeRateLimit
	case http.StatusUnauthorized:
		return ErrorCodeUnauthorized
	case http.StatusForbidden:
		return ErrorCodeForbidden
	case http.StatusNotFound:
		return ErrorCodeNotFound
	}
	switch e.Code {
	case uploadthing.CodeInvalidToken, uploadthing.CodeMissingEnv:
		return ErrorCodeConfiguration
	case uploadthing.CodeBadRequest, uploadthing.CodeTooLarge, uploadthing.CodeTooManyFiles:
		return ErrorCodeBadRequest
	case uploadthing.CodeForbidden:
		return ErrorCodeForbidden
	case uploadthing.CodeNotFound:
		return ErrorCodeNotFound
	case uploadthing.CodeInternal:
		return ErrorCodeInternal
	case uploadthing.CodeInternalClient:
		return ErrorCodeNetwork
	}
	return ErrorCodeUpload
}

// IsRetryable determines if an error is transient and should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, context.Canceled) {
		return false
	}
	switch CategorizeError(err) {
	case ErrorCodeTimeout, ErrorCodeNetwork, ErrorCodeRateLimit, ErrorCodeInternal:
		return true
	}
	return false
}

// ExtractErrorDetails extracts additional context from an error
func ExtractErrorDetails(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	details := make(map[string]interface{})

	var appErr *appErrors.AppError
	if stdErrors.As(err, &appErr) {
		if appErr.Code != "" {
			details["error_code"] = appErr.Code
		}
		if appErr.Message != "" {
			details["error_message"] = appErr.Message
		}
	}

	var utErr *uploadthing.Error
	if stdErrors.As(err, &utErr) {
		details["upload_code"] = utErr.Code
		if utErr.Status != 0 {
			details["http_status"] = utErr.Status
		}
	}

	var opErr *runtime.NodeOperationError
	if stdErrors.As(err, &opErr) && opErr.ItemIndex >= 0 {
		details["item_index"] = opErr.ItemIndex
	}

	var netErr net.Error
	if stdErrors.As(err, &netErr) && netErr.Timeout() {
		details["timeout"] = true
	}

	return details
}
