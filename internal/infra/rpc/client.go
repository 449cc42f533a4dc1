package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"toolgrid/internal/domain"
)

// Options configures a Client.
type Options struct {
	// Endpoint is the websocket URL of the remote registry.
	Endpoint string

	// DialTimeout bounds each connection attempt. Zero means
	// domain.DefaultRPCDialTimeout.
	DialTimeout time.Duration

	Logger  *zap.Logger
	Metrics domain.Metrics
}

// Client is a websocket RPC client. It maintains a single live
// connection and serializes requests over it. A request that fails on a
// broken connection is retried exactly once on a fresh connection.
type Client struct {
	endpoint    string
	dialTimeout time.Duration
	logger      *zap.Logger
	metrics     domain.Metrics

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewClient builds a Client. It does not connect; the first call to
// Connect or Request establishes the connection.
func NewClient(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = domain.NopMetrics{}
	}
	dialTimeout := opts.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = domain.DefaultRPCDialTimeoutSeconds * time.Second
	}
	return &Client{
		endpoint:    opts.Endpoint,
		dialTimeout: dialTimeout,
		logger:      logger.Named("rpc"),
		metrics:     metrics,
	}
}

// Connect establishes the connection if one is not already live.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.E(domain.CodeUnavailable, "rpc.Connect", "client is closed", domain.ErrConnectionClosed)
	}
	if c.conn != nil {
		return nil
	}
	return c.dialLocked(ctx)
}

// Request sends req and waits for the matching response. The connection
// mutex is held for the full round trip, so requests never interleave.
// If the round trip fails on a connection that turns out to be dead,
// the client reconnects and resends once; a second failure returns a
// CodeUnavailable error.
func (c *Client) Request(ctx context.Context, req Request) (Response, error) {
	const op = "rpc.Request"

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Response{}, domain.E(domain.CodeUnavailable, op, "client is closed", domain.ErrConnectionClosed)
	}

	if c.conn == nil {
		if err := c.dialLocked(ctx); err != nil {
			return Response{}, domain.E(domain.CodeUnavailable, op, "connect failed", err)
		}
	}

	resp, err := c.roundTripLocked(ctx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() != nil {
		return Response{}, domain.E(domain.CodeCanceled, op, "request canceled", ctx.Err())
	}

	c.logger.Warn("request failed, reconnecting",
		zap.String("action", req.Action),
		zap.Error(err))
	c.teardownLocked()
	if dialErr := c.dialLocked(ctx); dialErr != nil {
		return Response{}, domain.E(domain.CodeUnavailable, op, "reconnect failed", dialErr)
	}
	c.metrics.ObserveRPCReconnect()

	resp, err = c.roundTripLocked(ctx, req)
	if err != nil {
		c.teardownLocked()
		return Response{}, domain.E(domain.CodeUnavailable, op, "request failed after reconnect", err)
	}
	return resp, nil
}

// Close tears down the connection. Further calls fail with
// ErrConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		err := c.conn.Close(websocket.StatusNormalClosure, "client closing")
		c.conn = nil
		return err
	}
	return nil
}

func (c *Client) dialLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.endpoint, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	c.logger.Debug("connected", zap.String("endpoint", c.endpoint))
	return nil
}

func (c *Client) roundTripLocked(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	if err := c.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		return Response{}, err
	}
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

func (c *Client) teardownLocked() {
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusInternalError, "connection abandoned")
		c.conn = nil
	}
}
