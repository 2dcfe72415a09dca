// Package traffic implements the traffic routing rule engine: the rule
// model, batch validation, flow graph projection, dry-run simulation, and
// statistics aggregation. It operates purely on the declarative rule model;
// enforcement is an external concern.
package traffic

import "time"

// Action is a rule's disposition for matched traffic.
type Action string

const (
	ActionRoute Action = "route"
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
)

// DefaultPriority is assigned when a rule is created without a priority.
const DefaultPriority = 100

// Priority bounds. Lower priorities evaluate first.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// Rule is a declarative binding of a client population, a traffic category,
// a network path, and a tunnel, with a priority and disposition. Counters
// are a write side-channel owned by the enforcement layer; the engine only
// reads them.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"rule_name"`
	Description string `json:"description,omitempty"`

	// References into the option catalog. Each is optional but must resolve
	// to an existing record when present.
	UserGroupID   string `json:"user_group_id,omitempty"`
	TrafficTypeID string `json:"traffic_type_id,omitempty"`
	NetworkPathID string `json:"network_path_id,omitempty"`
	TunnelID      string `json:"tunnel_id,omitempty"`

	Action             Action   `json:"action"`
	Priority           *int     `json:"priority,omitempty"`
	BandwidthLimitKbps *float64 `json:"bandwidth_limit_kbps,omitempty"`

	// Actions is the disposition payload (allow, block, bandwidth_limit,
	// redirect_to). Conditions is the match payload (source_ip,
	// destination_port, protocol, time_range plus free-form keys).
	Actions    map[string]any `json:"actions,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`

	// Free-form condition sub-objects carried through persistence.
	TimeConditions      map[string]any `json:"time_conditions,omitempty"`
	BandwidthConditions map[string]any `json:"bandwidth_conditions,omitempty"`
	LocationConditions  map[string]any `json:"location_conditions,omitempty"`
	DeviceConditions    map[string]any `json:"device_conditions,omitempty"`

	IsEnabled bool `json:"is_enabled"`
	IsTesting bool `json:"is_testing"`

	PacketsMatched int64      `json:"packets_matched"`
	BytesMatched   int64      `json:"bytes_matched"`
	LastMatchedAt  *time.Time `json:"last_matched_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectivePriority returns the rule's priority, or DefaultPriority when unset.
func (r *Rule) EffectivePriority() int {
	if r.Priority == nil {
		return DefaultPriority
	}
	return *r.Priority
}

// ──────────────────────────────────────────────────────────────────────────────
// Option catalog
// ──────────────────────────────────────────────────────────────────────────────

// UserGroup is a named client population a rule can target.
type UserGroup struct {
	ID          string `json:"id"`
	GroupName   string `json:"group_name"`
	Description string `json:"description,omitempty"`
	ColorCode   string `json:"color_code,omitempty"`
	Priority    int    `json:"priority"`
	IsActive    bool   `json:"is_active"`
}

// TrafficType is a named category of traffic (video, VoIP, ...).
type TrafficType struct {
	ID                string `json:"id"`
	TypeName          string `json:"type_name"`
	Description       string `json:"description,omitempty"`
	Category          string `json:"category,omitempty"`
	BandwidthPriority int    `json:"bandwidth_priority"`
	IsActive          bool   `json:"is_active"`
}

// NetworkPath is a named egress route matched traffic can take.
type NetworkPath struct {
	ID               string  `json:"id"`
	PathName         string  `json:"path_name"`
	Description      string  `json:"description,omitempty"`
	PathType         string  `json:"path_type,omitempty"`
	ReliabilityScore float64 `json:"reliability_score"`
	IsActive         bool    `json:"is_active"`
}

// Tunnel is a named transport a rule can route matched traffic through.
type Tunnel struct {
	ID          string  `json:"id"`
	TunnelName  string  `json:"tunnel_name"`
	TunnelType  string  `json:"tunnel_type,omitempty"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status,omitempty"`
	PingMs      float64 `json:"ping_ms"`
	IsActive    bool    `json:"is_active"`
}

// Catalog is a point-in-time snapshot of the four reference sets, used for
// cross-reference validation and UI population.
type Catalog struct {
	UserGroups   []UserGroup   `json:"userGroups"`
	TrafficTypes []TrafficType `json:"trafficTypes"`
	NetworkPaths []NetworkPath `json:"networkPaths"`
	Tunnels      []Tunnel      `json:"tunnels"`
}

// UserGroupByID returns the group with the given id, if any.
func (c *Catalog) UserGroupByID(id string) (UserGroup, bool) {
	for _, g := range c.UserGroups {
		if g.ID == id {
			return g, true
		}
	}
	return UserGroup{}, false
}

// TrafficTypeByID returns the traffic type with the given id, if any.
func (c *Catalog) TrafficTypeByID(id string) (TrafficType, bool) {
	for _, t := range c.TrafficTypes {
		if t.ID == id {
			return t, true
		}
	}
	return TrafficType{}, false
}

// NetworkPathByID returns the path with the given id, if any.
func (c *Catalog) NetworkPathByID(id string) (NetworkPath, bool) {
	for _, p := range c.NetworkPaths {
		if p.ID == id {
			return p, true
		}
	}
	return NetworkPath{}, false
}

// TunnelByID returns the tunnel with the given id, if any.
func (c *Catalog) TunnelByID(id string) (Tunnel, bool) {
	for _, t := range c.Tunnels {
		if t.ID == id {
			return t, true
		}
	}
	return Tunnel{}, false
}

// EnrichedRule is a rule joined with display data from the catalog.
type EnrichedRule struct {
	Rule
	UserGroup   *UserGroup   `json:"user_group,omitempty"`
	TrafficType *TrafficType `json:"traffic_type,omitempty"`
	NetworkPath *NetworkPath `json:"network_path,omitempty"`
	Tunnel      *Tunnel      `json:"tunnel,omitempty"`
}

// Enrich joins a rule with its catalog records.
func Enrich(r Rule, cat *Catalog) EnrichedRule {
	e := EnrichedRule{Rule: r}
	if g, ok := cat.UserGroupByID(r.UserGroupID); ok {
		e.UserGroup = &g
	}
	if t, ok := cat.TrafficTypeByID(r.TrafficTypeID); ok {
		e.TrafficType = &t
	}
	if p, ok := cat.NetworkPathByID(r.NetworkPathID); ok {
		e.NetworkPath = &p
	}
	if t, ok := cat.TunnelByID(r.TunnelID); ok {
		e.Tunnel = &t
	}
	return e
}
