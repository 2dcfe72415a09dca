// Package events provides a lightweight publish/subscribe hub used to
// decouple rule lifecycle changes from their side effects (audit trail,
// notifications, websocket broadcasts).
package events

import "time"

// Type identifies a category of event.
type Type string

const (
	// Rule lifecycle.
	RuleCreated Type = "rule.created"
	RuleUpdated Type = "rule.updated"
	RuleDeleted Type = "rule.deleted"
	RuleTested  Type = "rule.tested"

	// Batch operations.
	RulesValidated Type = "rules.validated"
	RulesApplied   Type = "rules.applied"

	// Catalog changes.
	CatalogUpdated Type = "catalog.updated"
)

// Severity levels for events.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Event is a single occurrence published on the hub.
type Event struct {
	Type      Type           `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event with the given type and message at info severity.
func New(t Type, message string) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Severity:  SeverityInfo,
		Message:   message,
	}
}

// WithSeverity returns a copy of the event with the given severity.
func (e Event) WithSeverity(s Severity) Event {
	e.Severity = s
	return e
}

// WithData returns a copy of the event with the given data attached.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}
