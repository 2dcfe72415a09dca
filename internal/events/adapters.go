// Event adapters wire the hub to side-effect consumers: the audit trail,
// the notification dispatcher, and the WebSocket manager. Handlers publish
// once; adapters fan the event out to whatever cares about it.
package events

import (
	"github.com/Ea2601/pi5supernode/internal/audit"
)

// ──────────────────────────────────────────────────────────────────────────────
// Audit Adapter
// ──────────────────────────────────────────────────────────────────────────────

// AuditAdapter subscribes to rule lifecycle events and records them in the
// audit store. Write failures are swallowed; auditing never blocks the hub.
type AuditAdapter struct {
	hub   *Hub
	store *audit.Store
	stop  chan struct{}
}

// NewAuditAdapter creates an adapter that persists hub events to the audit store.
func NewAuditAdapter(hub *Hub, store *audit.Store) *AuditAdapter {
	return &AuditAdapter{
		hub:   hub,
		store: store,
		stop:  make(chan struct{}),
	}
}

// Start begins recording events. Subscribes to all lifecycle events.
func (a *AuditAdapter) Start() {
	events := a.hub.Subscribe(256,
		RuleCreated,
		RuleUpdated,
		RuleDeleted,
		RuleTested,
		RulesValidated,
		RulesApplied,
		CatalogUpdated,
	)

	go func() {
		for {
			select {
			case <-a.stop:
				return
			case e := <-events:
				a.store.Record(audit.Event{
					Timestamp: e.Timestamp,
					EventType: string(e.Type),
					Category:  "traffic_management",
					Action:    e.Message,
					Details:   e.Data,
					Severity:  string(e.Severity),
				})
			}
		}
	}()
}

// Stop stops the adapter.
func (a *AuditAdapter) Stop() {
	close(a.stop)
}

// ──────────────────────────────────────────────────────────────────────────────
// Notification Adapter
// ──────────────────────────────────────────────────────────────────────────────

// Notifier is the subset of the notification dispatcher the adapter needs.
type Notifier interface {
	Notify(title, message, severity string)
}

// NotificationAdapter forwards warning-and-above events to the notification
// dispatcher so operators hear about rule changes without polling.
type NotificationAdapter struct {
	hub      *Hub
	notifier Notifier
	stop     chan struct{}
}

// NewNotificationAdapter creates an adapter that forwards events to a notifier.
func NewNotificationAdapter(hub *Hub, n Notifier) *NotificationAdapter {
	return &NotificationAdapter{
		hub:      hub,
		notifier: n,
		stop:     make(chan struct{}),
	}
}

// Start begins forwarding apply and batch events.
func (a *NotificationAdapter) Start() {
	events := a.hub.Subscribe(64,
		RulesApplied,
	)

	go func() {
		for {
			select {
			case <-a.stop:
				return
			case e := <-events:
				a.notifier.Notify("Traffic rule change", e.Message, string(e.Severity))
			}
		}
	}()
}

// Stop stops the adapter.
func (a *NotificationAdapter) Stop() {
	close(a.stop)
}

// ──────────────────────────────────────────────────────────────────────────────
// WebSocket Bridge
// ──────────────────────────────────────────────────────────────────────────────

// WSBridge forwards events to the WebSocket manager for live UI updates.
// It subscribes to the hub and translates events to WS topics.
type WSBridge struct {
	hub       *Hub
	publisher func(topic string, data any) // WSManager.Publish
	stop      chan struct{}
}

// NewWSBridge creates a bridge from the hub to WebSocket.
func NewWSBridge(hub *Hub, wsPublish func(topic string, data any)) *WSBridge {
	return &WSBridge{
		hub:       hub,
		publisher: wsPublish,
		stop:      make(chan struct{}),
	}
}

// Start begins forwarding events to WebSocket clients.
func (b *WSBridge) Start() {
	events := b.hub.Subscribe(256,
		RuleCreated,
		RuleUpdated,
		RuleDeleted,
		RuleTested,
		RulesValidated,
		RulesApplied,
		CatalogUpdated,
	)

	go func() {
		for {
			select {
			case <-b.stop:
				return
			case e := <-events:
				topic := eventTypeToWSTopic(e.Type)
				if topic != "" {
					b.publisher(topic, e)
				}
			}
		}
	}()
}

// Stop stops the bridge.
func (b *WSBridge) Stop() {
	close(b.stop)
}

// eventTypeToWSTopic maps event types to WebSocket topic names.
func eventTypeToWSTopic(t Type) string {
	switch t {
	case RuleCreated, RuleUpdated, RuleDeleted, RuleTested:
		return "rules"
	case RulesApplied:
		return "apply"
	case RulesValidated:
		return "validation"
	case CatalogUpdated:
		return "catalog"
	default:
		return ""
	}
}
