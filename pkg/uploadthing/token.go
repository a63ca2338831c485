package uploadthing

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Token is the decoded form of an UploadThing API token.
// The dashboard token is base64-encoded JSON of this structure.
type Token struct {
	APIKey  string   `json:"apiKey"`
	AppID   string   `json:"appId"`
	Regions []string `json:"regions"`
	// IngestHost overrides the default ingest host; rarely set.
	IngestHost string `json:"ingestHost,omitempty"`
}

// ParseToken decodes and validates a raw token string.
// Error messages never include the token itself.
func ParseToken(raw string) (*Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, &Error{Code: CodeMissingEnv, Message: "token is required"}
	}

	decoded, err := decodeBase64(raw)
	if err != nil {
		return nil, &Error{Code: CodeInvalidToken, Message: "token is not valid base64", Cause: err}
	}

	var tok Token
	if err := json.Unmarshal(decoded, &tok); err != nil {
		return nil, &Error{Code: CodeInvalidToken, Message: "token payload is not valid JSON", Cause: err}
	}
	if tok.APIKey == "" || !strings.HasPrefix(tok.APIKey, "sk_") {
		return nil, &Error{Code: CodeInvalidToken, Message: "token has no valid apiKey"}
	}
	if tok.AppID == "" {
		return nil, &Error{Code: CodeInvalidToken, Message: "token has no appId"}
	}
	return &tok, nil
}

// Encode returns the base64 form of the token, the inverse of ParseToken.
func (t Token) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to marshal token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// Region returns the first region of the token, or "" when none is set.
func (t Token) Region() string {
	if len(t.Regions) == 0 {
		return ""
	}
	return t.Regions[0]
}

func decodeBase64(s string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		out, err := enc.DecodeString(s)
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
