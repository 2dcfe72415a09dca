// Package store provides persistent storage for traffic rules and the
// option catalog, backed by SQLite with WAL mode for performance.
//
// Uniqueness of rule names is enforced here, at the store layer, and a
// constraint violation is the authoritative duplicate-name error. The
// application-level validation snapshot is advisory; two concurrent creates
// cannot both persist the same name.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/Ea2601/pi5supernode/internal/clock"
	"github.com/Ea2601/pi5supernode/internal/traffic"
)

// Common errors
var (
	ErrNotFound      = errors.New("rule not found")
	ErrDuplicateName = errors.New("rule name already exists")
)

// Store persists traffic rules and reference sets.
type Store struct {
	mu  sync.RWMutex
	db  *sql.DB
	clk clock.Clock
}

// Open opens (creating if necessary) the rule database at the given path.
// Use ":memory:" for tests.
func Open(path string, clk clock.Clock) (*Store, error) {
	if clk == nil {
		clk = &clock.RealClock{}
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn += "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open rule db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect rule db: %w", err)
	}

	pragmas := []string{
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("execute pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, clk: clk}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS traffic_rules (
			id TEXT PRIMARY KEY,
			rule_name TEXT NOT NULL UNIQUE,
			description TEXT,
			user_group_id TEXT,
			traffic_type_id TEXT,
			network_path_id TEXT,
			tunnel_id TEXT,
			action TEXT NOT NULL DEFAULT 'route',
			priority INTEGER NOT NULL DEFAULT 100,
			bandwidth_limit_kbps REAL,
			actions TEXT,
			conditions TEXT,
			time_conditions TEXT,
			bandwidth_conditions TEXT,
			location_conditions TEXT,
			device_conditions TEXT,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			is_testing INTEGER NOT NULL DEFAULT 0,
			packets_matched INTEGER NOT NULL DEFAULT 0,
			bytes_matched INTEGER NOT NULL DEFAULT 0,
			last_matched_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_priority ON traffic_rules(priority);
		CREATE INDEX IF NOT EXISTS idx_rules_user_group ON traffic_rules(user_group_id);
		CREATE INDEX IF NOT EXISTS idx_rules_traffic_type ON traffic_rules(traffic_type_id);

		CREATE TABLE IF NOT EXISTS user_groups (
			id TEXT PRIMARY KEY,
			group_name TEXT NOT NULL,
			description TEXT,
			color_code TEXT,
			priority INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS traffic_types (
			id TEXT PRIMARY KEY,
			type_name TEXT NOT NULL,
			description TEXT,
			category TEXT,
			bandwidth_priority INTEGER NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS network_paths (
			id TEXT PRIMARY KEY,
			path_name TEXT NOT NULL,
			description TEXT,
			path_type TEXT,
			reliability_score REAL NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);
		CREATE TABLE IF NOT EXISTS tunnels (
			id TEXT PRIMARY KEY,
			tunnel_name TEXT NOT NULL,
			tunnel_type TEXT,
			description TEXT,
			status TEXT,
			ping_ms REAL NOT NULL DEFAULT 0,
			is_active INTEGER NOT NULL DEFAULT 1
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// isUniqueNameErr detects the rule_name constraint violation.
func isUniqueNameErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed: traffic_rules.rule_name")
}

// ──────────────────────────────────────────────────────────────────────────────
// Rule CRUD
// ──────────────────────────────────────────────────────────────────────────────

// CreateRule persists a new rule inside a transaction, applying defaults for
// id, action, priority, and timestamps. A duplicate name surfaces as
// ErrDuplicateName.
func (s *Store) CreateRule(r traffic.Rule) (traffic.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Action == "" {
		r.Action = traffic.ActionRoute
	}
	if r.Priority == nil {
		p := traffic.DefaultPriority
		r.Priority = &p
	}
	now := s.clk.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	tx, err := s.db.Begin()
	if err != nil {
		return traffic.Rule{}, fmt.Errorf("begin create rule: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO traffic_rules (
			id, rule_name, description,
			user_group_id, traffic_type_id, network_path_id, tunnel_id,
			action, priority, bandwidth_limit_kbps,
			actions, conditions,
			time_conditions, bandwidth_conditions, location_conditions, device_conditions,
			is_enabled, is_testing, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, r.Name, r.Description,
		nullStr(r.UserGroupID), nullStr(r.TrafficTypeID), nullStr(r.NetworkPathID), nullStr(r.TunnelID),
		string(r.Action), *r.Priority, nullFloat(r.BandwidthLimitKbps),
		marshalMap(r.Actions), marshalMap(r.Conditions),
		marshalMap(r.TimeConditions), marshalMap(r.BandwidthConditions),
		marshalMap(r.LocationConditions), marshalMap(r.DeviceConditions),
		boolInt(r.IsEnabled), boolInt(r.IsTesting),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueNameErr(err) {
			return traffic.Rule{}, fmt.Errorf("%w: %s", ErrDuplicateName, r.Name)
		}
		return traffic.Rule{}, fmt.Errorf("insert rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return traffic.Rule{}, fmt.Errorf("commit create rule: %w", err)
	}
	return r, nil
}

// GetRule returns the rule with the given id.
func (s *Store) GetRule(id string) (traffic.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(ruleSelect+" WHERE id = ?", id)
	r, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return traffic.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r, err
}

// ListFilter narrows ListRules.
type ListFilter struct {
	UserGroupID   string
	TrafficTypeID string
	EnabledOnly   bool
}

// ListRules returns rules ordered priority-ascending (store evaluation
// order), then by creation time for a stable tie-break.
func (s *Store) ListRules(f ListFilter) ([]traffic.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := ruleSelect + " WHERE 1=1"
	var args []any
	if f.UserGroupID != "" {
		query += " AND user_group_id = ?"
		args = append(args, f.UserGroupID)
	}
	if f.TrafficTypeID != "" {
		query += " AND traffic_type_id = ?"
		args = append(args, f.TrafficTypeID)
	}
	if f.EnabledOnly {
		query += " AND is_enabled = 1"
	}
	query += " ORDER BY priority ASC, created_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []traffic.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// RuleUpdate is a partial update; nil fields are left unchanged.
type RuleUpdate struct {
	Name                *string
	Description         *string
	UserGroupID         *string
	TrafficTypeID       *string
	NetworkPathID       *string
	TunnelID            *string
	Action              *traffic.Action
	Priority            *int
	BandwidthLimitKbps  *float64
	Actions             map[string]any
	Conditions          map[string]any
	TimeConditions      map[string]any
	BandwidthConditions map[string]any
	LocationConditions  map[string]any
	DeviceConditions    map[string]any
	IsEnabled           *bool
	IsTesting           *bool
}

// UpdateRule applies a partial update inside a transaction and returns the
// updated record. Duplicate names surface as ErrDuplicateName.
func (s *Store) UpdateRule(id string, upd RuleUpdate) (traffic.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sets := []string{"updated_at = ?"}
	args := []any{s.clk.Now().UTC().Format(time.RFC3339Nano)}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Name != nil {
		add("rule_name", *upd.Name)
	}
	if upd.Description != nil {
		add("description", *upd.Description)
	}
	if upd.UserGroupID != nil {
		add("user_group_id", nullStr(*upd.UserGroupID))
	}
	if upd.TrafficTypeID != nil {
		add("traffic_type_id", nullStr(*upd.TrafficTypeID))
	}
	if upd.NetworkPathID != nil {
		add("network_path_id", nullStr(*upd.NetworkPathID))
	}
	if upd.TunnelID != nil {
		add("tunnel_id", nullStr(*upd.TunnelID))
	}
	if upd.Action != nil {
		add("action", string(*upd.Action))
	}
	if upd.Priority != nil {
		add("priority", *upd.Priority)
	}
	if upd.BandwidthLimitKbps != nil {
		add("bandwidth_limit_kbps", *upd.BandwidthLimitKbps)
	}
	if upd.Actions != nil {
		add("actions", marshalMap(upd.Actions))
	}
	if upd.Conditions != nil {
		add("conditions", marshalMap(upd.Conditions))
	}
	if upd.TimeConditions != nil {
		add("time_conditions", marshalMap(upd.TimeConditions))
	}
	if upd.BandwidthConditions != nil {
		add("bandwidth_conditions", marshalMap(upd.BandwidthConditions))
	}
	if upd.LocationConditions != nil {
		add("location_conditions", marshalMap(upd.LocationConditions))
	}
	if upd.DeviceConditions != nil {
		add("device_conditions", marshalMap(upd.DeviceConditions))
	}
	if upd.IsEnabled != nil {
		add("is_enabled", boolInt(*upd.IsEnabled))
	}
	if upd.IsTesting != nil {
		add("is_testing", boolInt(*upd.IsTesting))
	}

	tx, err := s.db.Begin()
	if err != nil {
		return traffic.Rule{}, fmt.Errorf("begin update rule: %w", err)
	}
	defer tx.Rollback()

	args = append(args, id)
	res, err := tx.Exec("UPDATE traffic_rules SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		if isUniqueNameErr(err) {
			return traffic.Rule{}, fmt.Errorf("%w: %s", ErrDuplicateName, *upd.Name)
		}
		return traffic.Rule{}, fmt.Errorf("update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return traffic.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	row := tx.QueryRow(ruleSelect+" WHERE id = ?", id)
	r, err := scanRule(row)
	if err != nil {
		return traffic.Rule{}, fmt.Errorf("reload rule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return traffic.Rule{}, fmt.Errorf("commit update rule: %w", err)
	}
	return r, nil
}

// DeleteRule removes a rule outright. There is no soft delete and nothing
// cascades: derived graphs and statistics are never materialized.
func (s *Store) DeleteRule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM traffic_rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// SetEnabled toggles a rule without touching the rest of the record.
func (s *Store) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		"UPDATE traffic_rules SET is_enabled = ?, updated_at = ? WHERE id = ?",
		boolInt(enabled), s.clk.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("toggle rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// RecordMatch is the counter side-channel written by the enforcement layer.
// The engine itself only reads these columns.
func (s *Store) RecordMatch(id string, packets, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE traffic_rules
		SET packets_matched = packets_matched + ?,
		    bytes_matched = bytes_matched + ?,
		    last_matched_at = ?
		WHERE id = ?`,
		packets, bytes, s.clk.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("record match: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Scanning helpers
// ──────────────────────────────────────────────────────────────────────────────

const ruleSelect = `
	SELECT id, rule_name, description,
	       user_group_id, traffic_type_id, network_path_id, tunnel_id,
	       action, priority, bandwidth_limit_kbps,
	       actions, conditions,
	       time_conditions, bandwidth_conditions, location_conditions, device_conditions,
	       is_enabled, is_testing,
	       packets_matched, bytes_matched, last_matched_at,
	       created_at, updated_at
	FROM traffic_rules`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (traffic.Rule, error) {
	var (
		r                          traffic.Rule
		desc, ug, tt, np, tun      sql.NullString
		action                     string
		priority                   int
		bw                         sql.NullFloat64
		actions, conditions        sql.NullString
		timeC, bwC, locC, devC     sql.NullString
		enabled, testing           int
		lastMatched, created, updd sql.NullString
	)

	err := row.Scan(&r.ID, &r.Name, &desc,
		&ug, &tt, &np, &tun,
		&action, &priority, &bw,
		&actions, &conditions,
		&timeC, &bwC, &locC, &devC,
		&enabled, &testing,
		&r.PacketsMatched, &r.BytesMatched, &lastMatched,
		&created, &updd)
	if err != nil {
		return traffic.Rule{}, err
	}

	r.Description = desc.String
	r.UserGroupID = ug.String
	r.TrafficTypeID = tt.String
	r.NetworkPathID = np.String
	r.TunnelID = tun.String
	r.Action = traffic.Action(action)
	r.Priority = &priority
	if bw.Valid {
		r.BandwidthLimitKbps = &bw.Float64
	}
	r.Actions = unmarshalMap(actions)
	r.Conditions = unmarshalMap(conditions)
	r.TimeConditions = unmarshalMap(timeC)
	r.BandwidthConditions = unmarshalMap(bwC)
	r.LocationConditions = unmarshalMap(locC)
	r.DeviceConditions = unmarshalMap(devC)
	r.IsEnabled = enabled != 0
	r.IsTesting = testing != 0
	if lastMatched.Valid {
		if t, err := time.Parse(time.RFC3339Nano, lastMatched.String); err == nil {
			r.LastMatchedAt = &t
		}
	}
	if created.Valid {
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created.String)
	}
	if updd.Valid {
		r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updd.String)
	}
	return r, nil
}

func marshalMap(m map[string]any) any {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func unmarshalMap(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
