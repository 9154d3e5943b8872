// Package connection owns one downstream client+transport pair per server
// and drives its lifecycle state machine, including automatic reconnection
// with bounded exponential backoff.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"funnel/internal/config"
	"funnel/internal/events"
	"funnel/internal/reconnect"
	"funnel/internal/transport"
	"funnel/pkg/logging"
)

// Errors returned by manual lifecycle operations.
var (
	ErrAlreadyConnected = errors.New("server is already connected or connecting")
	ErrNotConnected     = errors.New("server not connected")
	ErrTerminated       = errors.New("connection manager terminated")
)

// TransportFactory builds a fresh transport for each connection attempt.
// Stdio children cannot be reused across restarts, so every attempt gets a
// new instance.
type TransportFactory func(cfg config.ServerConfig) (transport.Transport, error)

// StatusInfo is the externally visible connection state.
type StatusInfo struct {
	Status      events.Status
	Reason      string
	ConnectedAt time.Time
	Attempt     int
}

// Manager drives the connection state machine for one downstream server.
type Manager struct {
	cfg        config.ServerConfig
	policy     config.ReconnectConfig
	autoRetry  bool
	bus        *events.Bus
	newFactory TransportFactory
	retrier    *reconnect.Manager

	// onConnected is invoked after every successful (re)connect, outside
	// the state lock. The proxy uses it to refresh the server's catalog.
	onConnected func(server string)

	mu          sync.Mutex
	status      events.Status
	reason      string
	connectedAt time.Time
	client      *transport.Client
	terminated  bool
	// generation invalidates stale transport callbacks after disconnect.
	generation int
}

// NewManager creates a manager in the disconnected state.
func NewManager(cfg config.ServerConfig, auto config.AutoReconnectConfig, bus *events.Bus, factory TransportFactory, onConnected func(server string)) *Manager {
	policy := auto.ReconnectConfig
	if cfg.Reconnect != nil {
		policy = cfg.Reconnect.WithDefaults(auto.ReconnectConfig)
	}
	return &Manager{
		cfg:         cfg,
		policy:      policy,
		autoRetry:   auto.Enabled,
		bus:         bus,
		newFactory:  factory,
		retrier:     reconnect.New(policy),
		onConnected: onConnected,
		status:      events.StatusDisconnected,
	}
}

// Name returns the server name.
func (m *Manager) Name() string {
	return m.cfg.Name
}

// GetStatus returns the latest connection state.
func (m *Manager) GetStatus() StatusInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return StatusInfo{
		Status:      m.status,
		Reason:      m.reason,
		ConnectedAt: m.connectedAt,
		Attempt:     m.retrier.AttemptCount(),
	}
}

// Client returns the MCP client when connected.
func (m *Manager) Client() (*transport.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != events.StatusConnected || m.client == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, m.cfg.Name)
	}
	return m.client, nil
}

// Start performs the initial connection attempt. A failure transitions to
// error and, when auto-reconnect is on, schedules retries; Start itself
// returns the first attempt's error so callers can log it.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.Connect(ctx); err != nil {
		m.handleConnectFailure(err)
		return err
	}
	return nil
}

// Connect dials the downstream and performs the MCP handshake.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return ErrTerminated
	}
	if m.status == events.StatusConnected || m.status == events.StatusConnecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.setStatusLocked(events.StatusConnecting, "", 0)
	generation := m.generation
	m.mu.Unlock()

	tr, err := m.newFactory(m.cfg)
	if err != nil {
		return fmt.Errorf("failed to build transport for %s: %w", m.cfg.Name, err)
	}
	tr.SetHandlers(transport.Handlers{
		OnClose: func(reason string) { m.handleTransportDown(generation, reason, nil) },
		OnError: func(err error) { logging.Debug("Connection", "Server %s transport error: %v", m.cfg.Name, err) },
		OnMessage: func(raw []byte) {
			logging.Debug("Connection", "Server %s sent uncorrelated message", m.cfg.Name)
		},
	})

	if err := tr.Start(ctx); err != nil {
		return err
	}

	client := transport.NewClient(m.cfg.Name, tr)
	initCtx, cancel := context.WithTimeout(ctx, m.cfg.RequestTimeout())
	err = client.Initialize(initCtx)
	cancel()
	if err != nil {
		client.Close()
		return err
	}

	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		client.Close()
		return ErrTerminated
	}
	m.client = client
	m.connectedAt = time.Now()
	m.setStatusLocked(events.StatusConnected, "", 0)
	m.mu.Unlock()

	m.retrier.Reset()
	logging.Info("Connection", "Server %s connected", m.cfg.Name)
	if m.onConnected != nil {
		m.onConnected(m.cfg.Name)
	}
	return nil
}

// Reconnect is the manual reconnect operation. It fails when the server is
// already connected or connecting, and resets the retry budget on success.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.status == events.StatusConnected || m.status == events.StatusConnecting {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.mu.Unlock()

	m.retrier.Reset()
	if err := m.Connect(ctx); err != nil {
		m.handleConnectFailure(err)
		return err
	}
	return nil
}

// Disconnect is the manual disconnect operation. It fails when the server is
// not connected, closes the transport, and cancels any scheduled reconnect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.status != events.StatusConnected {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotConnected, m.cfg.Name)
	}
	client := m.client
	m.client = nil
	m.generation++
	m.setStatusLocked(events.StatusDisconnected, events.ReasonManualDisconnect, 0)
	m.mu.Unlock()

	m.retrier.Cancel()
	if client != nil {
		if err := client.Close(); err != nil {
			logging.Warn("Connection", "Error closing client for %s: %v", m.cfg.Name, err)
		}
	}
	logging.Info("Connection", "Server %s disconnected manually", m.cfg.Name)
	return nil
}

// Shutdown terminates the manager for good: the transport is closed, timers
// are released, and every further operation fails.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	client := m.client
	m.client = nil
	m.generation++
	m.setStatusLocked(events.StatusTerminated, events.ReasonShutdown, 0)
	m.mu.Unlock()

	m.retrier.Cancel()
	if client != nil {
		client.Close()
	}
}

// handleConnectFailure transitions to error and, when auto-reconnect is on,
// schedules the next attempt.
func (m *Manager) handleConnectFailure(err error) {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(events.StatusError, err.Error(), m.retrier.AttemptCount())
	m.mu.Unlock()

	if m.autoRetry {
		m.scheduleRetry()
	}
}

// handleTransportDown reacts to a transport-level close. Stale callbacks
// from a generation that was already torn down are ignored.
func (m *Manager) handleTransportDown(generation int, reason string, _ error) {
	m.mu.Lock()
	if m.terminated || generation != m.generation {
		m.mu.Unlock()
		return
	}
	m.client = nil
	m.generation++
	m.setStatusLocked(events.StatusDisconnected, reason, 0)
	autoRetry := m.autoRetry
	m.mu.Unlock()

	logging.Warn("Connection", "Server %s connection lost: %s", m.cfg.Name, reason)
	if autoRetry {
		m.scheduleRetry()
	}
}

// scheduleRetry arms the backoff timer for the next connection attempt.
func (m *Manager) scheduleRetry() {
	delay := m.retrier.Schedule(
		func() {
			m.mu.Lock()
			if m.terminated || m.status == events.StatusConnected || m.status == events.StatusConnecting {
				m.mu.Unlock()
				return
			}
			m.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			err := m.Connect(ctx)
			cancel()
			if err != nil && !errors.Is(err, ErrAlreadyConnected) {
				m.handleConnectFailure(err)
			}
		},
		func() {
			m.mu.Lock()
			if !m.terminated {
				m.setStatusLocked(events.StatusError, events.ReasonRetriesExhausted, m.retrier.AttemptCount())
			}
			m.mu.Unlock()
			logging.Error("Connection", nil, "Server %s: reconnection attempts exhausted", m.cfg.Name)
		},
	)
	if delay > 0 {
		m.mu.Lock()
		if !m.terminated {
			m.setStatusLocked(events.StatusReconnecting, "", m.retrier.AttemptCount())
		}
		m.mu.Unlock()
		logging.Info("Connection", "Server %s: retrying in %s (attempt %d)",
			m.cfg.Name, delay, m.retrier.AttemptCount())
	}
}

// setStatusLocked records a transition and publishes it. Caller holds m.mu.
func (m *Manager) setStatusLocked(status events.Status, reason string, attempt int) {
	if m.status == status && m.reason == reason {
		return
	}
	m.status = status
	m.reason = reason
	if m.bus != nil {
		m.bus.Publish(events.NewStatusEvent(m.cfg.Name, status, reason, attempt))
	}
}

// NewDefaultFactory returns the production transport factory: stdio for
// command servers, SSE for url servers. headerProvider may be nil.
func NewDefaultFactory(headerProvider transport.HeaderProvider) TransportFactory {
	return func(cfg config.ServerConfig) (transport.Transport, error) {
		switch cfg.Transport() {
		case config.TransportStdio:
			return transport.NewStdioTransport(cfg.Name, cfg.Command, cfg.Args, cfg.Env, cfg.RequestTimeout()), nil
		case config.TransportSSE:
			policy := config.ReconnectConfig{}
			if cfg.Reconnect != nil {
				policy = *cfg.Reconnect
			}
			return transport.NewSSETransport(cfg.Name, cfg.URL, headerProvider, cfg.RequestTimeout(), policy), nil
		default:
			return nil, fmt.Errorf("unknown transport for server %s", cfg.Name)
		}
	}
}
