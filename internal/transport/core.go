package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funnel/pkg/ids"
	"funnel/pkg/logging"
	"funnel/pkg/redact"

	"github.com/tidwall/gjson"
)

// core implements the send path and response correlation shared by both
// transports. The concrete transport supplies the frame writer and feeds
// incoming frames to dispatch.
type core struct {
	server   string
	timeout  time.Duration
	pending  *pendingTable
	handlers Handlers

	// writeFrame ships one serialized frame; set by the concrete transport.
	writeFrame func(ctx context.Context, raw []byte) error
}

func newCore(server string, timeout time.Duration) *core {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &core{
		server:  server,
		timeout: timeout,
		pending: newPendingTable(),
	}
}

// send serializes msg and, for requests, registers it in the pending table
// before writing and blocks for the correlated response.
func (c *core) send(ctx context.Context, msg *Message) (json.RawMessage, error) {
	if msg.JSONRPC == "" {
		msg.JSONRPC = "2.0"
	}

	isRequest := msg.Method != "" && !msg.Notification
	var id string
	if isRequest {
		if msg.ID == nil {
			msg.ID = ids.NewRequestID()
		}
		id = fmt.Sprintf("%v", msg.ID)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	if !isRequest {
		return nil, c.writeFrame(ctx, raw)
	}

	// Register before writing so a fast response cannot race its entry.
	ch := c.pending.register(id, c.timeout)

	if err := c.writeFrame(ctx, raw); err != nil {
		c.pending.fail(id, err)
		<-ch
		return nil, err
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		// A response may have won the race against the cancellation; the
		// channel always carries the authoritative outcome.
		c.pending.fail(id, ctx.Err())
		res := <-ch
		return res.payload, res.err
	}
}

// dispatch routes one incoming frame. Responses (no method, matching id)
// resolve their pending entry; everything else flows to OnMessage.
func (c *core) dispatch(raw []byte) {
	if !gjson.ValidBytes(raw) {
		logging.Warn("Transport", "Server %s sent invalid JSON frame: %s", c.server, redact.String(string(raw)))
		return
	}

	method := gjson.GetBytes(raw, "method")
	idField := gjson.GetBytes(raw, "id")

	if !method.Exists() && idField.Exists() {
		id := idField.String()
		errField := gjson.GetBytes(raw, "error")
		if errField.Exists() {
			rpcErr := &RPCError{
				Code:    int(errField.Get("code").Int()),
				Message: errField.Get("message").String(),
			}
			if data := errField.Get("data"); data.Exists() {
				rpcErr.Data = json.RawMessage(data.Raw)
			}
			if c.pending.resolve(id, nil, rpcErr) {
				return
			}
		} else {
			payload := json.RawMessage(gjson.GetBytes(raw, "result").Raw)
			if c.pending.resolve(id, payload, nil) {
				return
			}
		}
		logging.Debug("Transport", "Server %s sent response for unknown id %s", c.server, id)
	}

	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(raw)
	}
}

// failPending fails every in-flight request, typically with ErrConnectionLost.
func (c *core) failPending(err error) {
	c.pending.failAll(err)
}
