package traffic

import (
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// Mode controls how name collisions are treated: blocking errors in strict
// mode, advisory warnings in lenient mode.
type Mode string

const (
	ModeStrict  Mode = "strict"
	ModeLenient Mode = "lenient"
)

var (
	redirectURLRegex = regexp.MustCompile(`^https?://.+`)
	timeRangeRegex   = regexp.MustCompile(`^([0-1]?[0-9]|2[0-3]):[0-5][0-9]-([0-1]?[0-9]|2[0-3]):[0-5][0-9]$`)
)

// validProtocols for the conditions.protocol key.
var validProtocols = []string{"tcp", "udp", "icmp", "any"}

// RuleResult is the per-rule verdict of a validation batch.
type RuleResult struct {
	RuleID   string   `json:"ruleId,omitempty"`
	RuleName string   `json:"ruleName"`
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// BatchResult aggregates the verdicts for one validation call. Errors and
// Warnings carry every per-rule message prefixed with the rule name.
type BatchResult struct {
	OverallValid   bool         `json:"overallValid"`
	ValidationMode Mode         `json:"validationMode"`
	TotalRules     int          `json:"totalRules"`
	ValidRules     int          `json:"validRules"`
	InvalidRules   int          `json:"invalidRules"`
	Errors         []string     `json:"errors"`
	Warnings       []string     `json:"warnings"`
	Results        []RuleResult `json:"results"`
}

// Validate checks candidate rules for internal consistency against a
// point-in-time snapshot of existing rules and the option catalog.
//
// The snapshot is read once by the caller before the batch; a rule persisted
// concurrently between snapshot and write is invisible here. The store's
// uniqueness constraint remains authoritative for duplicate names.
func Validate(rules []Rule, existing []Rule, cat *Catalog, mode Mode) BatchResult {
	if mode != ModeLenient {
		mode = ModeStrict
	}

	batch := BatchResult{
		ValidationMode: mode,
		TotalRules:     len(rules),
		Errors:         []string{},
		Warnings:       []string{},
		Results:        make([]RuleResult, 0, len(rules)),
	}

	for _, rule := range rules {
		res := validateRule(rule, existing, cat, mode)
		batch.Results = append(batch.Results, res)

		if res.IsValid {
			batch.ValidRules++
		} else {
			batch.InvalidRules++
		}
		for _, e := range res.Errors {
			batch.Errors = append(batch.Errors, fmt.Sprintf("%s: %s", rule.Name, e))
		}
		for _, w := range res.Warnings {
			batch.Warnings = append(batch.Warnings, fmt.Sprintf("%s: %s", rule.Name, w))
		}
	}

	batch.OverallValid = batch.InvalidRules == 0
	return batch
}

func validateRule(rule Rule, existing []Rule, cat *Catalog, mode Mode) RuleResult {
	res := RuleResult{
		RuleID:   rule.ID,
		RuleName: rule.Name,
		IsValid:  true,
		Errors:   []string{},
		Warnings: []string{},
	}

	fail := func(msg string) {
		res.Errors = append(res.Errors, msg)
		res.IsValid = false
	}
	warn := func(msg string) {
		res.Warnings = append(res.Warnings, msg)
	}

	// Required fields
	if strings.TrimSpace(rule.Name) == "" {
		fail("Rule name is required")
	}
	if rule.Actions == nil {
		fail("Rule actions are required")
	}
	if rule.Conditions == nil {
		fail("Rule conditions are required")
	}

	// Priority
	if rule.Priority != nil {
		if *rule.Priority < MinPriority || *rule.Priority > MaxPriority {
			fail("Priority must be a number between 0 and 1000")
		}
	}

	if rule.BandwidthLimitKbps != nil && *rule.BandwidthLimitKbps <= 0 {
		fail("Bandwidth limit must be a positive number")
	}

	// Cross-reference existence. All four reference fields are checked on
	// every entry point; a reference to an inactive record is advisory only.
	if rule.UserGroupID != "" {
		if g, ok := cat.UserGroupByID(rule.UserGroupID); !ok {
			fail(fmt.Sprintf("User group %s does not exist", rule.UserGroupID))
		} else if !g.IsActive {
			warn(fmt.Sprintf("User group '%s' is inactive", g.GroupName))
		}
	}
	if rule.TrafficTypeID != "" {
		if t, ok := cat.TrafficTypeByID(rule.TrafficTypeID); !ok {
			fail(fmt.Sprintf("Traffic type %s does not exist", rule.TrafficTypeID))
		} else if !t.IsActive {
			warn(fmt.Sprintf("Traffic type '%s' is inactive", t.TypeName))
		}
	}
	if rule.NetworkPathID != "" {
		if p, ok := cat.NetworkPathByID(rule.NetworkPathID); !ok {
			fail(fmt.Sprintf("Network path %s does not exist", rule.NetworkPathID))
		} else if !p.IsActive {
			warn(fmt.Sprintf("Network path '%s' is inactive", p.PathName))
		}
	}
	if rule.TunnelID != "" {
		if t, ok := cat.TunnelByID(rule.TunnelID); !ok {
			fail(fmt.Sprintf("Tunnel %s does not exist", rule.TunnelID))
		} else if !t.IsActive {
			warn(fmt.Sprintf("Tunnel '%s' is inactive", t.TunnelName))
		}
	}

	// Actions payload
	if rule.Actions != nil {
		_, hasAllow := rule.Actions["allow"]
		_, hasBlock := rule.Actions["block"]
		if hasAllow && hasBlock {
			fail("Rule cannot both allow and block simultaneously")
		}

		if v, ok := rule.Actions["bandwidth_limit"]; ok {
			if n, ok := asNumber(v); !ok || n <= 0 {
				fail("Bandwidth limit must be a positive number")
			}
		}

		if v, ok := rule.Actions["redirect_to"]; ok {
			s, _ := v.(string)
			if !redirectURLRegex.MatchString(s) {
				fail("Redirect URL must be a valid HTTP/HTTPS URL")
			}
		}
	}

	// Conditions payload
	if rule.Conditions != nil {
		if v, ok := rule.Conditions["source_ip"]; ok {
			s, _ := v.(string)
			if !isIPv4OrCIDR(s) {
				fail("Source IP must be a valid IP address or CIDR notation")
			}
		}

		if v, ok := rule.Conditions["destination_port"]; ok {
			if port, ok := asInt(v); !ok || port < 1 || port > 65535 {
				fail("Destination port must be between 1 and 65535")
			}
		}

		if v, ok := rule.Conditions["protocol"]; ok {
			s, _ := v.(string)
			if !isValidProtocol(s) {
				fail(fmt.Sprintf("Protocol must be one of: %s", strings.Join(validProtocols, ", ")))
			}
		}

		if v, ok := rule.Conditions["time_range"]; ok {
			s, _ := v.(string)
			if !timeRangeRegex.MatchString(s) {
				fail("Time range must be in format HH:MM-HH:MM")
			}
		}
	}

	// Cross-rule checks against the snapshot, excluding the rule's own id.
	condKey := conditionsKey(rule.Conditions)
	for _, other := range existing {
		if other.ID == rule.ID {
			continue
		}

		// Equal priority with no tie-break leaves evaluation order
		// undefined downstream, so flag rather than silently pick one.
		// Only the existing rule's enabled state matters: candidates
		// arrive over the wire where an omitted flag decodes to false.
		if rule.Priority != nil && other.IsEnabled &&
			other.EffectivePriority() == *rule.Priority {
			warn(fmt.Sprintf("Rule has same priority (%d) as existing rule '%s'", *rule.Priority, other.Name))
		}

		// Structural equality of the condition payloads, not semantic
		// equivalence: textually reordered but logically identical
		// conditions are not detected.
		if rule.Conditions != nil && condKey == conditionsKey(other.Conditions) {
			a, b := disposition(rule), disposition(other)
			if a != b && a != "" && b != "" {
				warn(fmt.Sprintf("Rule conflicts with existing rule '%s' - same conditions but opposite actions", other.Name))
			}
		}
	}

	// Name collision: blocking in strict mode, advisory in lenient mode.
	for _, other := range existing {
		if other.ID != rule.ID && other.Name == rule.Name {
			if mode == ModeStrict {
				fail(fmt.Sprintf("Rule name '%s' already exists", rule.Name))
			} else {
				warn(fmt.Sprintf("Rule name '%s' already exists", rule.Name))
			}
			break
		}
	}

	return res
}

// disposition classifies a rule as allowing or blocking. The actions payload
// wins when it declares allow/block; otherwise the action field decides,
// with route counted as allowing (routed traffic is permitted traffic).
func disposition(r Rule) string {
	if _, ok := r.Actions["allow"]; ok {
		return "allow"
	}
	if _, ok := r.Actions["block"]; ok {
		return "block"
	}
	switch r.Action {
	case ActionAllow, ActionRoute:
		return "allow"
	case ActionBlock:
		return "block"
	}
	return ""
}

// conditionsKey returns a canonical byte representation of a condition
// payload. encoding/json sorts map keys, so two structurally equal payloads
// produce identical keys.
func conditionsKey(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func isIPv4OrCIDR(s string) bool {
	if s == "" {
		return false
	}
	if strings.Contains(s, "/") {
		ip, _, err := net.ParseCIDR(s)
		return err == nil && ip.To4() != nil
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

func isValidProtocol(proto string) bool {
	proto = strings.ToLower(proto)
	for _, p := range validProtocols {
		if proto == p {
			return true
		}
	}
	return false
}

// asNumber coerces JSON scalar values to float64.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// asInt coerces JSON scalar values to int, accepting numeric strings the way
// the wire format delivers them.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
