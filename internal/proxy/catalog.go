package proxy

import (
	"context"
	"time"

	"funnel/internal/events"
	"funnel/pkg/logging"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// onServerConnected refreshes one server's catalog after a successful
// (re)connect, then rebuilds the exposed catalog.
func (p *Proxy) onServerConnected(serverName string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	mgr, ok := p.managers[serverName]
	if !ok {
		return
	}
	client, err := mgr.Client()
	if err != nil {
		return
	}

	tools, err := client.ListTools(ctx)
	if err != nil {
		logging.Warn("Proxy", "Failed to list tools for %s: %v", serverName, err)
		tools = nil
	}

	p.mu.Lock()
	p.catalogs[serverName] = tools
	p.mu.Unlock()

	logging.Info("Proxy", "Server %s contributed %d tools", serverName, len(tools))
	p.rebuildExposed(events.ReasonCatalogRefreshed)
}

// invalidateCatalog re-derives the exposed catalog when a server drops.
// The cached catalog and its routing entries survive so that calls to a
// known tool on a disconnected server fail with "server not connected"
// rather than "tool not found"; only the upstream listing shrinks.
func (p *Proxy) invalidateCatalog(serverName string) {
	p.mu.RLock()
	_, known := p.catalogs[serverName]
	p.mu.RUnlock()

	if known {
		p.rebuildExposed(events.ReasonCatalogRefreshed)
	}
}

// onOverridesChanged is the facade's debounced change callback.
func (p *Proxy) onOverridesChanged() {
	p.rebuildExposed(events.ReasonOverridesMutated)
}

// connected reports whether a server is currently connected.
func (p *Proxy) connected(serverName string) bool {
	mgr, ok := p.managers[serverName]
	return ok && mgr.GetStatus().Status == events.StatusConnected
}

// rebuildExposed recomputes the namespaced, overridden catalog and the
// routing table from the cached per-server catalogs, swaps both in
// atomically, and syncs the upstream tool registrations. Routing covers
// every cached server; the upstream listing covers connected ones only.
// mcp-go emits tools/list_changed to upstream clients on the sync.
func (p *Proxy) rebuildExposed(reason string) {
	engine := p.facade.Engine()

	p.mu.Lock()
	newRouting := make(map[string]routingEntry)
	var newTools []server.ServerTool

	for serverName, tools := range p.catalogs {
		isConnected := p.connected(serverName)
		for _, tool := range tools {
			namespaced := serverName + namespaceSep + tool.Name

			exposedTool := tool
			exposedTool.Name = namespaced
			exposedTool, visible := engine.Apply(exposedTool, namespaced)
			if !visible {
				logging.Debug("Proxy", "Tool %s hidden by override", namespaced)
				continue
			}

			if _, collision := newRouting[exposedTool.Name]; collision {
				logging.Warn("Proxy", "Tool name collision on %s; first registration wins", exposedTool.Name)
				continue
			}
			newRouting[exposedTool.Name] = routingEntry{server: serverName, original: tool.Name}

			if isConnected {
				newTools = append(newTools, server.ServerTool{
					Tool:    exposedTool,
					Handler: p.makeCallHandler(exposedTool.Name),
				})
			}
		}
	}

	listed := make(map[string]bool, len(newTools))
	for _, st := range newTools {
		listed[st.Tool.Name] = true
	}
	var stale []string
	for name := range p.exposed {
		if !listed[name] {
			stale = append(stale, name)
		}
	}

	p.routing = newRouting
	p.exposed = listed
	p.mu.Unlock()

	if len(stale) > 0 {
		p.mcpServer.DeleteTools(stale...)
	}
	if len(newTools) > 0 {
		p.mcpServer.AddTools(newTools...)
	}

	p.bus.Publish(events.NewToolListChangedEvent(reason))
	logging.Debug("Proxy", "Exposed catalog rebuilt: %d listed tools, %d routed (%s)",
		len(listed), len(newRouting), reason)
}

// ListTools returns the exposed catalog: namespaced, overridden tools of
// every connected server. Disconnected servers contribute nothing but do
// not fail the listing.
func (p *Proxy) ListTools() []mcp.Tool {
	engine := p.facade.Engine()

	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []mcp.Tool
	seen := make(map[string]bool)
	for serverName, tools := range p.catalogs {
		if !p.connected(serverName) {
			continue
		}
		for _, tool := range tools {
			namespaced := serverName + namespaceSep + tool.Name
			exposedTool := tool
			exposedTool.Name = namespaced
			exposedTool, visible := engine.Apply(exposedTool, namespaced)
			if !visible {
				continue
			}
			if seen[exposedTool.Name] {
				logging.Warn("Proxy", "Tool name collision on %s; first registration wins", exposedTool.Name)
				continue
			}
			seen[exposedTool.Name] = true
			out = append(out, exposedTool)
		}
	}
	return out
}

// resolve looks an exposed name up in the routing snapshot.
func (p *Proxy) resolve(exposedName string) (routingEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.routing[exposedName]
	return entry, ok
}
