package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a single websocket connection to the realtime feed.
type Client interface {
	// Connect establishes the websocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Request sends a command and waits for its correlated response.
	Request(ctx context.Context, cmd string, params any) (Response, error)

	// Authenticate binds the access token to the connection. Must happen
	// before subscribing or server-side filtering will not scope events.
	Authenticate(ctx context.Context, token string) error

	// Subscribe opens the logical channel for a collection and returns
	// the server-assigned subscription id.
	Subscribe(ctx context.Context, collection string) (string, error)

	// Unsubscribe closes a channel by subscription id.
	Unsubscribe(ctx context.Context, subscriptionID string) error

	// Frames returns the channel of non-response frames (change events).
	Frames() <-chan Frame

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	frames chan Frame
	errs   chan error
	done   chan struct{}

	writeMu sync.Mutex

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[int64]chan Response
	cmdID     int64

	mu         sync.RWMutex
	connected  bool
	lastPingAt time.Time
	closed     bool
}

// NewClient creates a websocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:     cfg,
		logger:  logger,
		frames:  make(chan Frame, cfg.BufferSize),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
		pending: make(map[int64]chan Response),
	}
}

// Connect establishes the websocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.lastPingAt = time.Now()
	c.mu.Unlock()

	// Server pings, we pong.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()
		return nil
	})

	go c.readLoop()
	go c.heartbeatLoop()

	c.logger.Debug("feed connected", "url", c.cfg.URL)
	return nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}
	return nil
}

// Request sends a command and waits for its correlated response.
func (c *client) Request(ctx context.Context, cmd string, params any) (Response, error) {
	id := atomic.AddInt64(&c.cmdID, 1)
	respCh := make(chan Response, 1)

	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	data, err := json.Marshal(Command{ID: id, Cmd: cmd, Params: params})
	if err != nil {
		return Response{}, err
	}
	if err := c.send(data); err != nil {
		return Response{}, err
	}

	timeout := c.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.done:
		return Response{}, ErrAlreadyClosed
	case <-time.After(timeout):
		return Response{}, ErrTimeout
	case resp := <-respCh:
		if resp.Type == "error" {
			var errMsg ErrorMsg
			if err := json.Unmarshal(resp.Msg, &errMsg); err != nil {
				return resp, fmt.Errorf("feed error: %q", resp.Msg)
			}
			return resp, fmt.Errorf("%s: %s", errMsg.Code, errMsg.Message)
		}
		return resp, nil
	}
}

// Authenticate binds the access token to the connection.
func (c *client) Authenticate(ctx context.Context, token string) error {
	_, err := c.Request(ctx, "auth", AuthParams{Token: token})
	if err != nil {
		return fmt.Errorf("bind credentials: %w", err)
	}
	return nil
}

// Subscribe opens the logical channel for a collection.
func (c *client) Subscribe(ctx context.Context, collection string) (string, error) {
	resp, err := c.Request(ctx, "subscribe", SubscribeParams{Collection: collection})
	if err != nil {
		return "", err
	}

	var sub SubscribedMsg
	if err := json.Unmarshal(resp.Msg, &sub); err != nil {
		return "", fmt.Errorf("parse subscribed ack: %w", err)
	}
	return sub.SubscriptionID, nil
}

// Unsubscribe closes a channel by subscription id.
func (c *client) Unsubscribe(ctx context.Context, subscriptionID string) error {
	_, err := c.Request(ctx, "unsubscribe", UnsubscribeParams{SubscriptionID: subscriptionID})
	return err
}

// Frames returns the non-response frame channel.
func (c *client) Frames() <-chan Frame {
	return c.frames
}

// Errors returns the error channel.
func (c *client) Errors() <-chan error {
	return c.errs
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// send writes raw bytes to the connection.
func (c *client) send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames, routing correlated responses to waiters and
// everything else to the frame channel.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close().
			select {
			case <-c.done:
				return
			default:
				select {
				case c.errs <- err:
				default:
				}
				return
			}
		}

		if resp, ok := tryParseResponse(data); ok {
			c.routeResponse(resp)
			continue
		}

		select {
		case c.frames <- Frame{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			c.logger.Warn("frame buffer full, dropping frame")
		}
	}
}

// tryParseResponse attempts to parse a frame as a command response.
func tryParseResponse(data []byte) (Response, bool) {
	if !bytes.Contains(data, []byte(`"id":`)) {
		return Response{}, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, false
	}

	switch resp.Type {
	case "subscribed", "unsubscribed", "error", "ok":
		return resp, true
	}
	return Response{}, false
}

// routeResponse hands a response to the waiting Request call.
func (c *client) routeResponse(resp Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if ok {
		select {
		case ch <- resp:
		default:
		}
	}
}

// heartbeatLoop pings the server and flags a silently dead socket.
func (c *client) heartbeatLoop() {
	interval := c.cfg.PingTimeout / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			if conn != nil {
				deadline := time.Now().Add(c.cfg.WriteTimeout)
				if err := conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
					c.logger.Debug("failed to send ping", "error", err)
				}
			}

			c.mu.RLock()
			lastPing := c.lastPingAt
			c.mu.RUnlock()

			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping activity, socket stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errs <- ErrStaleSocket:
				default:
				}
				return
			}
		}
	}
}
