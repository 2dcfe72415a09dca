// Package audit provides persistent storage for the engine's audit trail.
// Writes are fire-and-forget from the caller's perspective: a failed audit
// write must never fail the primary operation.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Ea2601/pi5supernode/internal/clock"
)

// Event represents a single audit log entry.
type Event struct {
	ID        int64          `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	EventType string         `json:"event_type"`
	Category  string         `json:"event_category"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
	Severity  string         `json:"severity"`
}

// Store provides persistent storage for audit events.
type Store struct {
	mu            sync.RWMutex
	db            *sql.DB
	clk           clock.Clock
	retentionDays int
}

// NewStore creates a new audit store at the given path.
func NewStore(dbPath string, retentionDays int, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = &clock.RealClock{}
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
			return nil, fmt.Errorf("create audit dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			event_type TEXT NOT NULL,
			event_category TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT,
			severity TEXT NOT NULL DEFAULT 'info'
		);
		CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp);
		CREATE INDEX IF NOT EXISTS idx_audit_event_type ON audit_events(event_type);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit table: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 90
	}

	return &Store{
		db:            db,
		clk:           clk,
		retentionDays: retentionDays,
	}, nil
}

// Record persists an audit event.
func (s *Store) Record(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.clk.Now().UTC()
	}
	if evt.Severity == "" {
		evt.Severity = "info"
	}

	var detailsJSON []byte
	if evt.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(evt.Details)
		if err != nil {
			detailsJSON = []byte("{}")
		}
	}

	_, err := s.db.Exec(`
		INSERT INTO audit_events (timestamp, event_type, event_category, action, details, severity)
		VALUES (?, ?, ?, ?, ?, ?)
	`, evt.Timestamp.Format(time.RFC3339Nano), evt.EventType, evt.Category, evt.Action, string(detailsJSON), evt.Severity)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Query returns audit events matching the given criteria, newest first.
func (s *Store) Query(start, end time.Time, eventType string, limit int) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, event_type, event_category, action, details, severity
		FROM audit_events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano)}

	if eventType != "" {
		query += " AND event_type = ?"
		args = append(args, eventType)
	}

	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var evt Event
		var ts string
		var detailsJSON sql.NullString

		if err := rows.Scan(&evt.ID, &ts, &evt.EventType, &evt.Category, &evt.Action, &detailsJSON, &evt.Severity); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}

		evt.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		if detailsJSON.Valid && detailsJSON.String != "" {
			json.Unmarshal([]byte(detailsJSON.String), &evt.Details)
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Prune removes events older than the retention period.
func (s *Store) Prune() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clk.Now().AddDate(0, 0, -s.retentionDays)
	result, err := s.db.Exec("DELETE FROM audit_events WHERE timestamp < ?", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune audit events: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the total number of events in the store.
func (s *Store) Count() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
