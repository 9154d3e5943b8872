// Package events defines the proxy's status event types and a bounded
// pub/sub bus. Subscribers that fall behind drop events; the latest status
// for a server is always reconstructible from the connection manager.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Status is the connection lifecycle state of a downstream server.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusError        Status = "error"
	StatusTerminated   Status = "terminated"
)

// Kind identifies the event variety carried on the bus.
type Kind string

const (
	// KindServerStatus is emitted on every connection state transition.
	KindServerStatus Kind = "server_status"

	// KindToolListChanged is emitted when the exposed catalog changes.
	KindToolListChanged Kind = "tool_list_changed"
)

// Reasons attached to status transitions.
const (
	ReasonManualDisconnect = "manual_disconnect"
	ReasonManualReconnect  = "manual_reconnect"
	ReasonTransportClosed  = "transport_closed"
	ReasonTransportError   = "transport_error"
	ReasonRetriesExhausted = "retries_exhausted"
	ReasonShutdown         = "shutdown"
	ReasonConnectFailed    = "connect_failed"
	ReasonOverridesMutated = "overrides_mutated"
	ReasonCatalogRefreshed = "catalog_refreshed"
	ReasonServerRegistered = "server_registered"
	ReasonChildExited      = "child_exited"
)

// Event is one occurrence on the bus.
type Event struct {
	// ID uniquely identifies the event.
	ID string

	Kind      Kind
	Timestamp time.Time

	// Server is set for KindServerStatus events.
	Server string
	Status Status

	// Reason describes why the transition happened, when known.
	Reason string

	// Attempt is the reconnection attempt number, for reconnecting events.
	Attempt int
}

// NewStatusEvent builds a server status event.
func NewStatusEvent(server string, status Status, reason string, attempt int) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindServerStatus,
		Timestamp: time.Now(),
		Server:    server,
		Status:    status,
		Reason:    reason,
		Attempt:   attempt,
	}
}

// NewToolListChangedEvent builds a catalog change event.
func NewToolListChangedEvent(reason string) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      KindToolListChanged,
		Timestamp: time.Now(),
		Reason:    reason,
	}
}
