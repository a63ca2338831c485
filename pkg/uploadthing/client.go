package uploadthing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultAPIURL is the production API endpoint.
	DefaultAPIURL = "https://api.uploadthing.com"

	// SDKVersion is sent in the x-uploadthing-version header.
	SDKVersion = "7.7.4"

	defaultFileType  = "application/octet-stream"
	defaultFileName  = "file"
	maxErrorBodySize = 64 * 1024
)

// Uploader is the subset of the client used by callers that upload files.
type Uploader interface {
	UploadFiles(ctx context.Context, files []File, opts UploadOptions) ([]UploadFileResult, error)
	UploadFilesFromURL(ctx context.Context, input URLInput, opts UploadOptions) ([]UploadFileResult, error)
}

// Config holds client settings.
type Config struct {
	APIURL     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
	// MaxDownloadSize caps the bytes read from a remote URL. Zero disables the cap.
	MaxDownloadSize int64
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		APIURL:  DefaultAPIURL,
		Timeout: 60 * time.Second,
	}
}

// WithAPIURL sets the API base URL.
func (c Config) WithAPIURL(apiURL string) Config {
	c.APIURL = apiURL
	return c
}

// WithTimeout sets the timeout of the default HTTP client.
func (c Config) WithTimeout(d time.Duration) Config {
	c.Timeout = d
	return c
}

// WithHTTPClient replaces the HTTP client.
func (c Config) WithHTTPClient(hc *http.Client) Config {
	c.HTTPClient = hc
	return c
}

// WithLogger sets the logger.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.Logger = logger
	return c
}

// Client talks to the UploadThing API.
type Client struct {
	token   *Token
	apiURL  string
	http    *http.Client
	logger  *zap.Logger
	maxDown int64
	now     func() time.Time
}

var _ Uploader = (*Client)(nil)

// NewClient creates a client from a raw API token.
func NewClient(token string, cfg Config) (*Client, error) {
	tok, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	apiURL := strings.TrimRight(cfg.APIURL, "/")
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.ParseRequestURI(apiURL); err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", apiURL, err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger, _ = zap.NewProduction()
	}

	return &Client{
		token:   tok,
		apiURL:  apiURL,
		http:    hc,
		logger:  logger.With(zap.String("app_id", tok.AppID)),
		maxDown: cfg.MaxDownloadSize,
		now:     time.Now,
	}, nil
}

// AppID returns the application id from the token.
func (c *Client) AppID() string {
	return c.token.AppID
}

// UploadFiles uploads in-memory files and returns one result per file.
func (c *Client) UploadFiles(ctx context.Context, files []File, opts UploadOptions) ([]UploadFileResult, error) {
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	results := c.forEach(ctx, len(files), opts.Concurrency, func(ctx context.Context, i int) UploadFileResult {
		return c.uploadFile(ctx, files[i], opts)
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled: %w", err)
	}
	return results, nil
}

// UploadFilesFromURL downloads each URL and uploads its contents.
func (c *Client) UploadFilesFromURL(ctx context.Context, input URLInput, opts UploadOptions) ([]UploadFileResult, error) {
	if input == nil {
		return nil, &Error{Code: CodeBadRequest, Message: "no urls provided"}
	}
	if err := validateOptions(opts); err != nil {
		return nil, err
	}
	sources := Sources(input)
	results := c.forEach(ctx, len(sources), opts.Concurrency, func(ctx context.Context, i int) UploadFileResult {
		file, uerr := c.download(ctx, sources[i])
		if uerr != nil {
			return UploadFileResult{Error: uerr}
		}
		return c.uploadFile(ctx, file, opts)
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("upload cancelled: %w", err)
	}
	return results, nil
}

func validateOptions(opts UploadOptions) error {
	if opts.Concurrency < 0 || opts.Concurrency > MaxConcurrency {
		return &Error{
			Code:    CodeBadRequest,
			Message: fmt.Sprintf("concurrency must be between 1 and %d, got %d", MaxConcurrency, opts.Concurrency),
		}
	}
	switch opts.ACL {
	case "", ACLPublicRead, ACLPrivate:
	default:
		return &Error{Code: CodeBadRequest, Message: fmt.Sprintf("invalid acl %q", opts.ACL)}
	}
	switch opts.ContentDisposition {
	case "", ContentDispositionInline, ContentDispositionAttachment:
	default:
		return &Error{Code: CodeBadRequest, Message: fmt.Sprintf("invalid content disposition %q", opts.ContentDisposition)}
	}
	return nil
}

// forEach runs fn for every index with at most limit calls in flight and
// keeps results in index order. fn reports failures inside its result.
func (c *Client) forEach(ctx context.Context, n, limit int, fn func(context.Context, int) UploadFileResult) []UploadFileResult {
	results := make([]UploadFileResult, n)
	if limit < 1 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			results[i] = fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type prepareUploadRequest struct {
	FileName           string                 `json:"fileName"`
	FileSize           int64                  `json:"fileSize"`
	FileType           string                 `json:"fileType"`
	CustomID           *string                `json:"customId,omitempty"`
	ContentDisposition ContentDisposition     `json:"contentDisposition,omitempty"`
	ACL                ACL                    `json:"acl,omitempty"`
	Metadata           map[string]interface{} `json:"metadata,omitempty"`
}

type prepareUploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

type ingestResponse struct {
	URL        string      `json:"url"`
	AppURL     string      `json:"appUrl"`
	UfsURL     string      `json:"ufsUrl"`
	FileHash   string      `json:"fileHash"`
	ServerData interface{} `json:"serverData"`
}

func (c *Client) uploadFile(ctx context.Context, f File, opts UploadOptions) UploadFileResult {
	name := norm.NFC.String(f.Name)
	if name == "" {
		name = defaultFileName
	}
	fileType := f.Type
	if fileType == "" {
		fileType = defaultFileType
	}
	size := int64(len(f.Data))

	prep, uerr := c.prepareUpload(ctx, prepareUploadRequest{
		FileName:           name,
		FileSize:           size,
		FileType:           fileType,
		CustomID:           f.CustomID,
		ContentDisposition: opts.ContentDisposition,
		ACL:                opts.ACL,
		Metadata:           opts.Metadata,
	})
	if uerr != nil {
		c.logger.Debug("prepare upload failed", zap.String("file_name", name), zap.String("code", uerr.Code))
		return UploadFileResult{Error: uerr}
	}

	ingest, uerr := c.putFile(ctx, prep.URL, name, fileType, f.Data)
	if uerr != nil {
		c.logger.Debug("ingest failed", zap.String("file_key", prep.Key), zap.String("code", uerr.Code))
		return UploadFileResult{Error: uerr}
	}

	data := &UploadedFileData{
		Key:          prep.Key,
		URL:          ingest.URL,
		AppURL:       ingest.AppURL,
		UfsURL:       ingest.UfsURL,
		Name:         name,
		Size:         size,
		Type:         fileType,
		CustomID:     f.CustomID,
		FileHash:     ingest.FileHash,
		LastModified: c.now().UnixMilli(),
		ServerData:   ingest.ServerData,
	}
	if data.UfsURL == "" {
		data.UfsURL = fmt.Sprintf("https://%s.ufs.sh/f/%s", c.token.AppID, prep.Key)
	}
	if data.URL == "" {
		data.URL = "https://utfs.io/f/" + prep.Key
	}
	if data.AppURL == "" {
		data.AppURL = fmt.Sprintf("https://utfs.io/a/%s/%s", c.token.AppID, prep.Key)
	}

	c.logger.Debug("file uploaded", zap.String("file_key", prep.Key), zap.Int64("size", size))
	return UploadFileResult{Data: data}
}

func (c *Client) prepareUpload(ctx context.Context, body prepareUploadRequest) (*prepareUploadResponse, *Error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Code: CodeInternalClient, Message: "failed to encode upload request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/v7/prepareUpload", bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Code: CodeInternalClient, Message: "failed to build upload request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAPIHeaders(req)

	var out prepareUploadResponse
	if uerr := c.do(req, &out); uerr != nil {
		return nil, uerr
	}
	if out.Key == "" || out.URL == "" {
		return nil, &Error{Code: CodeUploadFailed, Message: "prepare upload response is missing key or url"}
	}
	return &out, nil
}

func (c *Client) putFile(ctx context.Context, target, name, fileType string, data []byte) (*ingestResponse, *Error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{"name": "file", "filename": name}))
	h.Set("Content-Type", fileType)
	part, err := mw.CreatePart(h)
	if err == nil {
		_, err = part.Write(data)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return nil, &Error{Code: CodeInternalClient, Message: "failed to encode file body", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, &buf)
	if err != nil {
		return nil, &Error{Code: CodeInternalClient, Message: "failed to build ingest request", Cause: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Range", "bytes=0-")
	req.Header.Set("x-uploadthing-version", SDKVersion)

	var out ingestResponse
	if uerr := c.do(req, &out); uerr != nil {
		return nil, uerr
	}
	return &out, nil
}

func (c *Client) setAPIHeaders(req *http.Request) {
	req.Header.Set("x-uploadthing-api-key", c.token.APIKey)
	req.Header.Set("x-uploadthing-version", SDKVersion)
	req.Header.Set("x-uploadthing-be-adapter", "server-sdk")
}

// do sends req and decodes a 2xx JSON body into out.
func (c *Client) do(req *http.Request, out interface{}) *Error {
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Code: CodeInternalClient, Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return errorFromResponse(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return &Error{Code: CodeUploadFailed, Message: "failed to decode response", Status: resp.StatusCode, Cause: err}
	}
	return nil
}

// download fetches a remote source into a File.
func (c *Client) download(ctx context.Context, src URLDescriptor) (File, *Error) {
	u, err := url.Parse(strings.TrimSpace(src.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return File{}, &Error{Code: CodeBadRequest, Message: fmt.Sprintf("invalid url: %s", src.URL), Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return File{}, &Error{Code: CodeInternalClient, Message: "failed to build download request", Cause: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return File{}, &Error{Code: CodeBadRequest, Message: fmt.Sprintf("failed to download %s", u.String()), Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return File{}, &Error{
			Code:    CodeBadRequest,
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("failed to download %s: %s", u.String(), resp.Status),
		}
	}

	var reader io.Reader = resp.Body
	if c.maxDown > 0 {
		reader = io.LimitReader(resp.Body, c.maxDown+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return File{}, &Error{Code: CodeBadRequest, Message: fmt.Sprintf("failed to read %s", u.String()), Cause: err}
	}
	if c.maxDown > 0 && int64(len(data)) > c.maxDown {
		return File{}, &Error{Code: CodeTooLarge, Message: fmt.Sprintf("%s exceeds %d bytes", u.String(), c.maxDown)}
	}

	name := fileNameFromURL(u)
	if src.Name != nil && *src.Name != "" {
		name = *src.Name
	}

	return File{
		Name:     name,
		Type:     contentType(resp.Header.Get("Content-Type")),
		Data:     data,
		CustomID: src.CustomID,
	}, nil
}

func fileNameFromURL(u *url.URL) string {
	base := path.Base(u.Path)
	if base == "" || base == "." || base == "/" {
		return defaultFileName
	}
	if unescaped, err := url.PathUnescape(base); err == nil {
		return unescaped
	}
	return base
}

func contentType(header string) string {
	if header == "" {
		return defaultFileType
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil || mt == "" {
		return defaultFileType
	}
	return mt
}
