// Package proxy is the aggregating core: it owns one connection manager per
// configured downstream, merges their tool catalogs under namespaced names,
// applies overrides, and serves the result to the upstream MCP client.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"funnel/internal/auth"
	"funnel/internal/config"
	"funnel/internal/connection"
	"funnel/internal/events"
	"funnel/internal/metrics"
	"funnel/internal/override"
	"funnel/internal/transport"
	"funnel/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Errors surfaced to the upstream client.
var (
	ErrToolNotFound       = errors.New("tool not found")
	ErrServerNotConnected = errors.New("server not connected")
)

// Namespace separator between server name and original tool name.
const namespaceSep = "__"

// routingEntry maps one exposed tool name back to its origin.
type routingEntry struct {
	server   string
	original string
}

// Proxy is the aggregating MCP proxy.
type Proxy struct {
	cfg config.Config

	bus           *events.Bus
	facade        *override.Facade
	stateRegistry *auth.StateRegistry
	metrics       *metrics.Metrics

	managers  map[string]*connection.Manager
	providers map[string]auth.Provider

	mcpServer  *server.MCPServer
	httpServer *http.Server
	endpoint   string

	mu sync.RWMutex
	// catalogs caches the raw (pre-namespace) tool list per server,
	// replaced on every (re)connect; override changes re-derive the exposed
	// catalog from it without refetching.
	catalogs map[string][]mcp.Tool
	// routing maps exposed names to their origin; rebuilt wholesale and
	// swapped on every catalog refresh.
	routing map[string]routingEntry
	// exposed tracks the names currently registered upstream, so a rebuild
	// can delete stale ones.
	exposed map[string]bool

	eventsDone func()
	started    bool
}

// New assembles a proxy from validated configuration.
func New(cfg config.Config) (*Proxy, error) {
	p := &Proxy{
		cfg:           cfg,
		bus:           events.NewBus(),
		stateRegistry: auth.NewStateRegistry(),
		metrics:       metrics.New(),
		managers:      make(map[string]*connection.Manager),
		providers:     make(map[string]auth.Provider),
		catalogs:      make(map[string][]mcp.Tool),
		routing:       make(map[string]routingEntry),
		exposed:       make(map[string]bool),
	}

	p.facade = override.NewFacade(cfg.ToolOverrides, cfg.OverrideSettings, p.onOverridesChanged)

	p.mcpServer = server.NewMCPServer(
		"funnel",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	for name, srv := range cfg.Servers {
		provider, err := auth.NewProvider(name, srv.Auth, p.stateRegistry)
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		p.providers[name] = provider

		headerProvider := transport.HeaderProvider(nil)
		if _, isNoAuth := provider.(auth.NoAuthProvider); !isNoAuth {
			headerProvider = provider.GetHeaders
		}
		factory := connection.NewDefaultFactory(headerProvider)
		p.managers[name] = connection.NewManager(srv, cfg.AutoReconnect, p.bus, factory, p.onServerConnected)
	}

	return p, nil
}

// Start brings up the upstream endpoint, subscribes to status events, and
// dials every downstream. Downstream failures do not fail Start; their
// managers keep retrying per policy.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("proxy already started")
	}
	p.started = true
	p.mu.Unlock()

	if err := p.startHTTP(); err != nil {
		return err
	}

	ch, cancel := p.bus.Subscribe()
	p.eventsDone = cancel
	go p.consumeEvents(ch)

	if p.cfg.OverrideSettings.WatchFile != "" {
		if err := p.facade.WatchFile(p.cfg.OverrideSettings.WatchFile); err != nil {
			logging.Warn("Proxy", "Override file watch disabled: %v", err)
		}
	}

	var wg sync.WaitGroup
	for name, mgr := range p.managers {
		wg.Add(1)
		go func(name string, mgr *connection.Manager) {
			defer wg.Done()
			if err := mgr.Start(ctx); err != nil {
				logging.Warn("Proxy", "Initial connection to %s failed: %v", name, err)
			}
		}(name, mgr)
	}
	wg.Wait()

	logging.Info("Proxy", "Serving MCP on %s (%d servers configured)", p.endpoint, len(p.managers))
	return nil
}

// startHTTP wires the MCP streamable-http handler, health, and metrics onto
// one listener.
func (p *Proxy) startHTTP() error {
	addr := net.JoinHostPort(p.cfg.Proxy.Host, fmt.Sprintf("%d", p.cfg.Proxy.Port))

	streamable := server.NewStreamableHTTPServer(p.mcpServer)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})
	mux.Handle("/metrics", p.metrics.Handler())
	mux.Handle("/", streamable)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	p.endpoint = fmt.Sprintf("http://%s/mcp", listener.Addr())
	p.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := p.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logging.Error("Proxy", err, "HTTP server failed")
		}
	}()
	return nil
}

// Endpoint returns the upstream MCP endpoint URL.
func (p *Proxy) Endpoint() string {
	return p.endpoint
}

// EventBus exposes the status event bus for observers.
func (p *Proxy) EventBus() *events.Bus {
	return p.bus
}

// Overrides exposes the dynamic override facade.
func (p *Proxy) Overrides() *override.Facade {
	return p.facade
}

// StateRegistry exposes the OAuth callback routing registry.
func (p *Proxy) StateRegistry() *auth.StateRegistry {
	return p.stateRegistry
}

// GetStatus returns the connection state for one server. Unknown servers
// report disconnected.
func (p *Proxy) GetStatus(serverName string) connection.StatusInfo {
	mgr, ok := p.managers[serverName]
	if !ok {
		return connection.StatusInfo{Status: events.StatusDisconnected}
	}
	return mgr.GetStatus()
}

// Reconnect manually reconnects one server.
func (p *Proxy) Reconnect(ctx context.Context, serverName string) error {
	mgr, ok := p.managers[serverName]
	if !ok {
		return fmt.Errorf("unknown server %s", serverName)
	}
	return mgr.Reconnect(ctx)
}

// Disconnect manually disconnects one server.
func (p *Proxy) Disconnect(serverName string) error {
	mgr, ok := p.managers[serverName]
	if !ok {
		return fmt.Errorf("unknown server %s", serverName)
	}
	return mgr.Disconnect()
}

// PingAll probes every connected downstream, returning per-server errors.
func (p *Proxy) PingAll(ctx context.Context) map[string]error {
	out := make(map[string]error, len(p.managers))
	for name, mgr := range p.managers {
		client, err := mgr.Client()
		if err != nil {
			out[name] = err
			continue
		}
		out[name] = client.Ping(ctx)
	}
	return out
}

// consumeEvents reacts to connection state changes: disconnects drop the
// server's tools from the exposed catalog, and the connected-servers gauge
// tracks transitions.
func (p *Proxy) consumeEvents(ch <-chan events.Event) {
	for ev := range ch {
		if ev.Kind != events.KindServerStatus {
			continue
		}
		p.metrics.ConnectedServers.Set(float64(p.countConnected()))
		switch ev.Status {
		case events.StatusDisconnected, events.StatusError, events.StatusTerminated:
			p.invalidateCatalog(ev.Server)
		case events.StatusReconnecting:
			p.metrics.ReconnectAttempts.WithLabelValues(ev.Server).Inc()
		}
	}
}

// countConnected returns how many downstreams are currently connected.
func (p *Proxy) countConnected() int {
	n := 0
	for _, mgr := range p.managers {
		if mgr.GetStatus().Status == events.StatusConnected {
			n++
		}
	}
	return n
}

// Shutdown stops everything: downstream managers, the upstream endpoint,
// the override facade, and the event bus.
func (p *Proxy) Shutdown(ctx context.Context) error {
	logging.Info("Proxy", "Shutting down")

	for _, mgr := range p.managers {
		mgr.Shutdown()
	}
	for _, provider := range p.providers {
		provider.Close()
	}
	if p.eventsDone != nil {
		p.eventsDone()
	}
	p.facade.Close()

	var err error
	if p.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = p.httpServer.Shutdown(shutdownCtx)
		cancel()
	}
	p.bus.Close()
	return err
}
