package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Ea2601/pi5supernode/internal/traffic"
)

// Catalog queries and seeding for the four reference sets. Only active
// records are offered for new-rule construction (Options); validation uses
// the full snapshot (Snapshot) so rules referencing records that later went
// inactive still resolve.

// Snapshot returns all reference records, active or not.
func (s *Store) Snapshot() (*traffic.Catalog, error) {
	return s.catalog(false)
}

// Options returns active-only reference records in their domain order:
// groups by priority ascending, traffic types by bandwidth priority
// descending, paths by reliability descending, tunnels by ping ascending.
func (s *Store) Options() (*traffic.Catalog, error) {
	return s.catalog(true)
}

func (s *Store) catalog(activeOnly bool) (*traffic.Catalog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cat := &traffic.Catalog{
		UserGroups:   []traffic.UserGroup{},
		TrafficTypes: []traffic.TrafficType{},
		NetworkPaths: []traffic.NetworkPath{},
		Tunnels:      []traffic.Tunnel{},
	}

	where := ""
	if activeOnly {
		where = " WHERE is_active = 1"
	}

	rows, err := s.db.Query("SELECT id, group_name, description, color_code, priority, is_active FROM user_groups" + where + " ORDER BY priority ASC")
	if err != nil {
		return nil, fmt.Errorf("query user groups: %w", err)
	}
	for rows.Next() {
		var g traffic.UserGroup
		var active int
		if err := rows.Scan(&g.ID, &g.GroupName, &g.Description, &g.ColorCode, &g.Priority, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan user group: %w", err)
		}
		g.IsActive = active != 0
		cat.UserGroups = append(cat.UserGroups, g)
	}
	rows.Close()

	rows, err = s.db.Query("SELECT id, type_name, description, category, bandwidth_priority, is_active FROM traffic_types" + where + " ORDER BY bandwidth_priority DESC")
	if err != nil {
		return nil, fmt.Errorf("query traffic types: %w", err)
	}
	for rows.Next() {
		var t traffic.TrafficType
		var active int
		if err := rows.Scan(&t.ID, &t.TypeName, &t.Description, &t.Category, &t.BandwidthPriority, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan traffic type: %w", err)
		}
		t.IsActive = active != 0
		cat.TrafficTypes = append(cat.TrafficTypes, t)
	}
	rows.Close()

	rows, err = s.db.Query("SELECT id, path_name, description, path_type, reliability_score, is_active FROM network_paths" + where + " ORDER BY reliability_score DESC")
	if err != nil {
		return nil, fmt.Errorf("query network paths: %w", err)
	}
	for rows.Next() {
		var p traffic.NetworkPath
		var active int
		if err := rows.Scan(&p.ID, &p.PathName, &p.Description, &p.PathType, &p.ReliabilityScore, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan network path: %w", err)
		}
		p.IsActive = active != 0
		cat.NetworkPaths = append(cat.NetworkPaths, p)
	}
	rows.Close()

	rows, err = s.db.Query("SELECT id, tunnel_name, tunnel_type, description, status, ping_ms, is_active FROM tunnels" + where + " ORDER BY ping_ms ASC")
	if err != nil {
		return nil, fmt.Errorf("query tunnels: %w", err)
	}
	for rows.Next() {
		var t traffic.Tunnel
		var active int
		if err := rows.Scan(&t.ID, &t.TunnelName, &t.TunnelType, &t.Description, &t.Status, &t.PingMs, &active); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan tunnel: %w", err)
		}
		t.IsActive = active != 0
		cat.Tunnels = append(cat.Tunnels, t)
	}
	rows.Close()

	return cat, nil
}

// UpsertUserGroup inserts or replaces a user group, assigning an id when
// absent. Returns the stored id.
func (s *Store) UpsertUserGroup(g traffic.UserGroup) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO user_groups (id, group_name, description, color_code, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			group_name = excluded.group_name,
			description = excluded.description,
			color_code = excluded.color_code,
			priority = excluded.priority,
			is_active = excluded.is_active`,
		g.ID, g.GroupName, g.Description, g.ColorCode, g.Priority, boolInt(g.IsActive))
	if err != nil {
		return "", fmt.Errorf("upsert user group: %w", err)
	}
	return g.ID, nil
}

// UpsertTrafficType inserts or replaces a traffic type.
func (s *Store) UpsertTrafficType(t traffic.TrafficType) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO traffic_types (id, type_name, description, category, bandwidth_priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type_name = excluded.type_name,
			description = excluded.description,
			category = excluded.category,
			bandwidth_priority = excluded.bandwidth_priority,
			is_active = excluded.is_active`,
		t.ID, t.TypeName, t.Description, t.Category, t.BandwidthPriority, boolInt(t.IsActive))
	if err != nil {
		return "", fmt.Errorf("upsert traffic type: %w", err)
	}
	return t.ID, nil
}

// UpsertNetworkPath inserts or replaces a network path.
func (s *Store) UpsertNetworkPath(p traffic.NetworkPath) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO network_paths (id, path_name, description, path_type, reliability_score, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path_name = excluded.path_name,
			description = excluded.description,
			path_type = excluded.path_type,
			reliability_score = excluded.reliability_score,
			is_active = excluded.is_active`,
		p.ID, p.PathName, p.Description, p.PathType, p.ReliabilityScore, boolInt(p.IsActive))
	if err != nil {
		return "", fmt.Errorf("upsert network path: %w", err)
	}
	return p.ID, nil
}

// UpsertTunnel inserts or replaces a tunnel.
func (s *Store) UpsertTunnel(t traffic.Tunnel) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := s.db.Exec(`
		INSERT INTO tunnels (id, tunnel_name, tunnel_type, description, status, ping_ms, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tunnel_name = excluded.tunnel_name,
			tunnel_type = excluded.tunnel_type,
			description = excluded.description,
			status = excluded.status,
			ping_ms = excluded.ping_ms,
			is_active = excluded.is_active`,
		t.ID, t.TunnelName, t.TunnelType, t.Description, t.Status, t.PingMs, boolInt(t.IsActive))
	if err != nil {
		return "", fmt.Errorf("upsert tunnel: %w", err)
	}
	return t.ID, nil
}
