package connection

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected  = errors.New("not connected")
	ErrStaleSocket   = errors.New("connection stale (no ping)")
	ErrTimeout       = errors.New("operation timeout")
	ErrAlreadyClosed = errors.New("already closed")
)

// Frame wraps raw feed bytes with the local receive timestamp.
type Frame struct {
	Data       []byte
	ReceivedAt time.Time
}

// Command is a client-to-server message on the feed socket.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"` // "auth", "subscribe", "unsubscribe"
	Params any    `json:"params,omitempty"`
}

// AuthParams binds credentials to the connection so server-side
// authorization filtering scopes events to the caller.
type AuthParams struct {
	Token string `json:"token"`
}

// SubscribeParams opens the logical channel for one collection.
type SubscribeParams struct {
	Collection string `json:"collection"`
}

// UnsubscribeParams closes a channel by subscription id.
type UnsubscribeParams struct {
	SubscriptionID string `json:"subscription_id"`
}

// Response is a correlated server reply to a Command.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "error", "ok"
	Msg  json.RawMessage `json:"msg"`
}

// SubscribedMsg is the payload of a "subscribed" response.
type SubscribedMsg struct {
	SubscriptionID string `json:"subscription_id"`
	Collection     string `json:"collection"`
}

// ErrorMsg is the payload of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ClientConfig configures one websocket client.
type ClientConfig struct {
	URL            string        // Feed URL (wss://...)
	Token          string        // Bearer token attached on dial
	PingTimeout    time.Duration // Max quiet period before the socket is considered stale
	WriteTimeout   time.Duration // Write deadline for sends
	RequestTimeout time.Duration // Round-trip timeout for correlated commands
	BufferSize     int           // Frame channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:    60 * time.Second,
		WriteTimeout:   5 * time.Second,
		RequestTimeout: 10 * time.Second,
		BufferSize:     1024,
	}
}
