package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"funnel/internal/config"
	"funnel/internal/reconnect"
	"funnel/pkg/logging"
	"funnel/pkg/redact"
)

// HeaderProvider supplies per-request headers, typically an Authorization
// header from an auth provider. A nil provider means no extra headers.
type HeaderProvider func(ctx context.Context) (map[string]string, error)

// SSETransport speaks MCP over HTTP: a long-lived GET carrying
// text/event-stream for downstream-to-upstream messages, and POSTs with
// application/json for requests. The transport owns its stream reconnection:
// on a broken stream it fails pending requests, then re-opens the stream with
// backoff. Only when retries are exhausted does it report OnClose.
type SSETransport struct {
	*core

	url     string
	headers HeaderProvider
	client  *http.Client
	retrier *reconnect.Manager

	mu       sync.Mutex
	postURL  string
	started  bool
	closed   bool
	cancelFn context.CancelFunc
}

// NewSSETransport creates an SSE transport for url.
func NewSSETransport(server, url string, headers HeaderProvider, timeout time.Duration, policy config.ReconnectConfig) *SSETransport {
	return &SSETransport{
		core:    newCore(server, timeout),
		url:     url,
		headers: headers,
		client:  &http.Client{},
		retrier: reconnect.New(policy),
	}
}

// SetHandlers registers callbacks; must be called before Start.
func (t *SSETransport) SetHandlers(h Handlers) {
	t.handlers = h
}

// Start opens the event stream and waits for it to become ready.
func (t *SSETransport) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	t.started = true
	t.closed = false
	t.postURL = t.url
	t.writeFrame = t.post

	streamCtx, cancel := context.WithCancel(context.Background())
	t.cancelFn = cancel
	t.mu.Unlock()

	// The GET must carry the long-lived stream context: tying it to the
	// caller's (often deadline-bound) ctx would kill the stream when that
	// deadline fires.
	resp, err := t.openStream(streamCtx)
	if err != nil {
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		cancel()
		return err
	}

	go t.readLoop(streamCtx, resp)
	return nil
}

// openStream issues the GET and validates the response.
func (t *SSETransport) openStream(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if err := t.applyHeaders(ctx, req); err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSE stream to %s: %w", redact.URL(t.url), err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("SSE stream to %s returned status %d", redact.URL(t.url), resp.StatusCode)
	}

	logging.Debug("SSETransport", "Opened event stream for server %s", t.server)
	return resp, nil
}

func (t *SSETransport) applyHeaders(ctx context.Context, req *http.Request) error {
	if t.headers == nil {
		return nil
	}
	headers, err := t.headers(ctx)
	if err != nil {
		return fmt.Errorf("failed to resolve auth headers: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return nil
}

// readLoop parses the SSE wire format. An `endpoint` event updates the POST
// target; `message` events (and bare data lines) are JSON-RPC frames.
func (t *SSETransport) readLoop(ctx context.Context, resp *http.Response) {
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	eventName := ""
	var data bytes.Buffer

	flush := func() {
		if data.Len() == 0 {
			eventName = ""
			return
		}
		payload := data.String()
		data.Reset()
		name := eventName
		eventName = ""

		switch name {
		case "endpoint":
			t.setPostURL(strings.TrimSpace(payload))
		default:
			t.dispatch([]byte(payload))
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// Comment/keepalive.
		}
	}

	t.streamBroken(ctx, scanner.Err())
}

// setPostURL records the server-provided request endpoint. Relative
// endpoints resolve against the stream URL.
func (t *SSETransport) setPostURL(endpoint string) {
	resolved := endpoint
	if strings.HasPrefix(endpoint, "/") {
		if idx := strings.Index(t.url, "://"); idx >= 0 {
			if slash := strings.Index(t.url[idx+3:], "/"); slash >= 0 {
				resolved = t.url[:idx+3+slash] + endpoint
			} else {
				resolved = t.url + endpoint
			}
		}
	}
	t.mu.Lock()
	t.postURL = resolved
	t.mu.Unlock()
	logging.Debug("SSETransport", "Server %s announced endpoint %s", t.server, redact.URL(resolved))
}

// streamBroken handles a dropped event stream: fail pending requests, then
// reconnect with backoff unless the transport was closed.
func (t *SSETransport) streamBroken(ctx context.Context, err error) {
	t.failPending(ErrConnectionLost)

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed || ctx.Err() != nil {
		return
	}

	if err != nil {
		logging.Warn("SSETransport", "Server %s event stream broke: %v", t.server, err)
	} else {
		logging.Warn("SSETransport", "Server %s event stream ended", t.server)
	}
	if t.handlers.OnError != nil && err != nil {
		t.handlers.OnError(err)
	}

	delay := t.retrier.Schedule(func() { t.reopen(ctx) }, func() {
		logging.Error("SSETransport", nil, "Server %s stream reconnection exhausted", t.server)
		t.mu.Lock()
		t.started = false
		t.mu.Unlock()
		if t.handlers.OnClose != nil {
			t.handlers.OnClose("stream reconnection exhausted")
		}
	})
	if delay > 0 {
		logging.Info("SSETransport", "Server %s: reconnecting stream in %s (attempt %d)",
			t.server, delay, t.retrier.AttemptCount())
	}
}

// reopen re-establishes the event stream after a backoff delay.
func (t *SSETransport) reopen(ctx context.Context) {
	resp, err := t.openStream(ctx)
	if err != nil {
		t.streamBroken(ctx, err)
		return
	}
	t.retrier.Reset()
	logging.Info("SSETransport", "Server %s event stream re-established", t.server)
	go t.readLoop(ctx, resp)
}

// Send implements Transport.
func (t *SSETransport) Send(ctx context.Context, msg *Message) (json.RawMessage, error) {
	t.mu.Lock()
	started := t.started
	t.mu.Unlock()
	if !started {
		return nil, ErrNotStarted
	}
	return t.send(ctx, msg)
}

// post ships one frame as an HTTP POST. A JSON response body is dispatched
// through the same correlation path as stream messages, which covers servers
// that answer requests on the POST response instead of the stream.
func (t *SSETransport) post(ctx context.Context, raw []byte) error {
	t.mu.Lock()
	target := t.postURL
	t.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if err := t.applyHeaders(ctx, req); err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to POST frame to %s: %w", redact.URL(target), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, redact.String(string(body)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err == nil && len(bytes.TrimSpace(body)) > 0 &&
		strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		go t.dispatch(bytes.TrimSpace(body))
	}
	return nil
}

// Close tears the stream down. Pending requests fail with ErrConnectionLost.
// Idempotent.
func (t *SSETransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.started = false
	cancel := t.cancelFn
	t.mu.Unlock()

	t.retrier.Cancel()
	t.failPending(ErrConnectionLost)
	if cancel != nil {
		cancel()
	}
	return nil
}
