package uploadthing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Error codes reported by the client. Codes returned by the API are passed
// through unchanged.
const (
	CodeBadRequest     = "BAD_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeForbidden      = "FORBIDDEN"
	CodeTooLarge       = "TOO_LARGE"
	CodeTooManyFiles   = "TOO_MANY_FILES"
	CodeInternal       = "INTERNAL_SERVER_ERROR"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeInvalidToken   = "INVALID_SERVER_CONFIG"
	CodeMissingEnv     = "MISSING_ENV"
	CodeInternalClient = "INTERNAL_CLIENT_ERROR"
)

// Error is returned by the API or produced by the client for a single source.
// It marshals to the same shape the API uses, so it can be emitted as-is.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Cause   error       `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("uploadthing: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("uploadthing: %s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// apiErrorBody covers both error body shapes the API returns.
type apiErrorBody struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// errorFromResponse builds an Error from a non-2xx response body.
func errorFromResponse(status int, body []byte) *Error {
	e := &Error{Code: codeForStatus(status), Status: status}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Code != "" {
			e.Code = parsed.Code
		}
		switch {
		case parsed.Message != "":
			e.Message = parsed.Message
		case parsed.Error != "":
			e.Message = parsed.Error
		}
		e.Data = parsed.Data
	}
	if e.Message == "" {
		text := strings.TrimSpace(string(body))
		if text == "" {
			text = http.StatusText(status)
		}
		e.Message = text
	}
	return e
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return CodeBadRequest
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusRequestEntityTooLarge:
		return CodeTooLarge
	case status >= 500:
		return CodeInternal
	default:
		return CodeUploadFailed
	}
}
