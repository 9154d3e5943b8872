// Package transport ships JSON-RPC 2.0 messages to one downstream MCP
// server and correlates responses to requests. Two transports are provided:
// stdio (child process, line-framed) and SSE/HTTP (event stream + POST).
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers. Timeouts and connection loss are
// distinct kinds: a timeout fails one call, a lost connection fails them all.
var (
	ErrRequestTimeout = errors.New("request timeout")
	ErrConnectionLost = errors.New("connection lost")
	ErrNotStarted     = errors.New("transport not started")
	ErrAlreadyStarted = errors.New("transport already started")
)

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error formats the downstream error the way callers expect to see it.
func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// Message is a JSON-RPC 2.0 frame. ID is nil for notifications.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`

	// Notification marks a frame that expects no response.
	Notification bool `json:"-"`
}

// NewRequest builds a request frame. The caller may leave ID nil; Send
// generates one before writing.
func NewRequest(method string, params interface{}) *Message {
	return &Message{JSONRPC: "2.0", Method: method, Params: params}
}

// NewNotification builds a notification frame (no ID, no response expected).
func NewNotification(method string, params interface{}) *Message {
	return &Message{JSONRPC: "2.0", Method: method, Params: params, Notification: true}
}

// Handlers are the callbacks a transport owner registers before Start.
// OnMessage receives frames that did not correlate to a pending request
// (notifications and stray responses). OnClose fires once when the
// connection is gone for good; OnError reports transport-level failures.
type Handlers struct {
	OnMessage func(raw []byte)
	OnClose   func(reason string)
	OnError   func(err error)
}

// Transport is the contract shared by the stdio and SSE transports.
type Transport interface {
	// Start establishes the connection. It is an error to start twice.
	Start(ctx context.Context) error

	// Send writes a frame. For requests (Method set, response expected) it
	// blocks until the correlated response, the per-request deadline, ctx
	// cancellation, or connection loss. For notifications it returns after
	// the write.
	Send(ctx context.Context, msg *Message) (json.RawMessage, error)

	// Close tears the connection down. Pending requests fail with
	// ErrConnectionLost. Idempotent.
	Close() error

	// SetHandlers registers callbacks; must be called before Start.
	SetHandlers(h Handlers)
}
