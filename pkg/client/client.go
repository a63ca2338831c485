// Package client owns the worker's NATS connection and the JetStream message
// service built on it.
package client

import (
	"context"
	"fmt"

	natsclient "github.com/nats-io/nats.go"
	"github.com/wehubfusion/uploadthing-node/internal/nats"
	sdkerrors "github.com/wehubfusion/uploadthing-node/pkg/errors"
	"github.com/wehubfusion/uploadthing-node/pkg/message"
	"go.uber.org/zap"
)

// Client is the JetStream client a worker pulls execution requests and
// publishes results through.
//
//	c := client.NewClient("nats://localhost:4222")
//	if err := c.Connect(ctx); err != nil {
//	    logger.Fatal("Failed to connect", zap.Error(err))
//	}
//	defer c.Close()
type Client struct {
	conn   *natsclient.Conn
	js     natsclient.JetStreamContext
	config *nats.ConnectionConfig
	logger *zap.Logger
	blobs  message.BlobStorageClient

	// Messages is available after Connect.
	Messages *message.MessageService
}

// NewClient creates a client for url with default connection settings.
func NewClient(url string) *Client {
	return NewClientWithConfig(nats.DefaultConnectionConfig(url))
}

// NewClientWithConfig creates a client with custom connection settings.
func NewClientWithConfig(config *nats.ConnectionConfig) *Client {
	return &Client{
		config: config,
		logger: zap.NewNop(),
	}
}

// NewClientWithJSContext creates a client wired to js without a connection.
func NewClientWithJSContext(js message.JSContext) *Client {
	c := &Client{
		config: nats.DefaultConnectionConfig(""),
		logger: zap.NewNop(),
	}
	if svc, err := message.NewMessageService(js, c.config.MaxDeliver, c.config.PublishMaxRetries, c.config.ResultStream, c.config.ResultSubject); err == nil {
		svc.SetLogger(c.logger)
		c.Messages = svc
	}
	return c
}

// SetLogger sets the logger used by the client and its message service.
func (c *Client) SetLogger(logger *zap.Logger) {
	if logger == nil {
		return
	}
	c.logger = logger
	if c.Messages != nil {
		c.Messages.SetLogger(logger)
	}
}

// SetBlobStorage sets the store large results are offloaded to.
func (c *Client) SetBlobStorage(blobs message.BlobStorageClient) {
	c.blobs = blobs
	if c.Messages != nil {
		c.Messages.SetBlobStorage(blobs)
	}
}

// Connect connects to NATS, which must have JetStream enabled, and creates
// the message service.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil && c.conn.IsConnected() {
		return nil
	}
	if c.config == nil {
		return sdkerrors.NewBadRequestError("connection config is required", "INVALID_CONFIG", nil)
	}

	conn, err := nats.Connect(ctx, c.config, c.logger)
	if err != nil {
		return sdkerrors.NewInternalError("failed to connect to NATS", "CONNECTION_FAILED", err)
	}
	c.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		_ = nats.Close(c.conn)
		c.conn = nil
		return sdkerrors.NewInternalError("JetStream is not enabled on the NATS server", "JETSTREAM_NOT_ENABLED", err)
	}
	c.js = js

	msgService, err := message.NewMessageService(
		message.WrapNATSJetStream(c.js),
		c.config.MaxDeliver,
		c.config.PublishMaxRetries,
		c.config.ResultStream,
		c.config.ResultSubject,
	)
	if err != nil {
		_ = nats.Close(c.conn)
		c.conn = nil
		c.js = nil
		return sdkerrors.NewInternalError("failed to initialize message service", "SERVICE_INIT_FAILED", err)
	}
	msgService.SetLogger(c.logger)
	if c.blobs != nil {
		msgService.SetBlobStorage(c.blobs)
	}
	c.Messages = msgService

	c.logger.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("result_stream", c.config.ResultStream),
		zap.String("result_subject", c.config.ResultSubject))
	return nil
}

// Close drains the connection and releases the message service.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}

	if err := nats.Close(c.conn); err != nil {
		return sdkerrors.NewInternalError("failed to close connection", "CLOSE_FAILED", err)
	}

	c.conn = nil
	c.js = nil
	c.Messages = nil
	return nil
}

// IsConnected reports whether the client is connected.
func (c *Client) IsConnected() bool {
	return nats.IsConnected(c.conn)
}

// Connection returns the underlying NATS connection.
func (c *Client) Connection() *natsclient.Conn {
	return c.conn
}

// JetStream returns the JetStream context, or nil before Connect.
func (c *Client) JetStream() natsclient.JetStreamContext {
	return c.js
}

// ConnectionStats holds connection statistics.
type ConnectionStats struct {
	InMsgs     uint64
	OutMsgs    uint64
	InBytes    uint64
	OutBytes   uint64
	Reconnects uint64
}

// Stats returns the connection statistics.
func (c *Client) Stats() ConnectionStats {
	if c.conn == nil {
		return ConnectionStats{}
	}

	stats := c.conn.Stats()
	return ConnectionStats{
		InMsgs:     stats.InMsgs,
		OutMsgs:    stats.OutMsgs,
		InBytes:    stats.InBytes,
		OutBytes:   stats.OutBytes,
		Reconnects: stats.Reconnects,
	}
}

func (c *Client) ensureConnected() error {
	if !c.IsConnected() {
		return sdkerrors.NewInternalError("not connected to NATS", "NOT_CONNECTED", sdkerrors.ErrNotConnected)
	}
	return nil
}

// Ping flushes the connection to verify the server is responsive.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.ensureConnected(); err != nil {
		return err
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- c.conn.FlushTimeout(c.config.Timeout)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("ping cancelled: %w", ctx.Err())
	case err := <-resultCh:
		if err != nil {
			return sdkerrors.NewInternalError("ping failed", "PING_FAILED", err)
		}
		return nil
	}
}
