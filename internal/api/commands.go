package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Ea2601/pi5supernode/internal/audit"
	"github.com/Ea2601/pi5supernode/internal/clock"
	"github.com/Ea2601/pi5supernode/internal/events"
	"github.com/Ea2601/pi5supernode/internal/metrics"
	"github.com/Ea2601/pi5supernode/internal/store"
	"github.com/Ea2601/pi5supernode/internal/traffic"
)

// commandError carries an HTTP status plus the wire error code and message.
type commandError struct {
	status  int
	code    string
	message string
}

func errInvalid(format string, args ...any) *commandError {
	return &commandError{http.StatusBadRequest, codeInvalidRequest, fmt.Sprintf(format, args...)}
}

func errStore(err error) *commandError {
	return &commandError{http.StatusInternalServerError, codeStoreError, err.Error()}
}

// commandFunc handles one action. params is the full request body with
// top-level keys normalized to snake_case.
type commandFunc func(s *Server, params json.RawMessage) (any, *commandError)

// commands maps action names to handlers. Legacy aliases point at the same
// handler so older panel builds keep working.
var commands = map[string]commandFunc{
	"get_dynamic_options":  (*Server).cmdGetOptions,
	"get_dropdown_options": (*Server).cmdGetOptions,

	"get_all_rules": (*Server).cmdGetAllRules,

	"create_rule":         (*Server).cmdCreateRule,
	"create_traffic_rule": (*Server).cmdCreateRule,
	"update_rule":         (*Server).cmdUpdateRule,
	"update_traffic_rule": (*Server).cmdUpdateRule,
	"delete_rule":         (*Server).cmdDeleteRule,
	"delete_traffic_rule": (*Server).cmdDeleteRule,

	"get_traffic_flow": (*Server).cmdGetTrafficFlow,

	"test_rule":                (*Server).cmdTestRule,
	"simulate_traffic_routing": (*Server).cmdSimulateRouting,

	"get_rule_statistics": (*Server).cmdStatistics,
	"get_statistics":      (*Server).cmdStatistics,

	"validate_rules": (*Server).cmdValidateRules,
	"apply_changes":  (*Server).cmdApplyChanges,

	"get_audit_log": (*Server).cmdGetAuditLog,
}

// handleTraffic is the single action-dispatch endpoint for all traffic
// management operations.
func (s *Server) handleTraffic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, codeInvalidRequest, "POST required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "failed to read request body")
		return
	}

	var envelope struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "request body must be a JSON object")
		return
	}
	if envelope.Action == "" {
		writeAPIError(w, http.StatusBadRequest, codeInvalidRequest, "action is required")
		return
	}

	cmd, ok := commands[envelope.Action]
	if !ok {
		metrics.Get().APIRequests.WithLabelValues(envelope.Action, "400").Inc()
		writeAPIError(w, http.StatusBadRequest, codeInvalidAction, fmt.Sprintf("Unknown action: %s", envelope.Action))
		return
	}

	timer := metrics.Get().APILatency.WithLabelValues(envelope.Action)
	start := clock.Now()

	data, cmdErr := cmd(s, normalizeParams(body))

	timer.Observe(clock.Since(start).Seconds())

	if cmdErr != nil {
		metrics.Get().APIRequests.WithLabelValues(envelope.Action, strconv.Itoa(cmdErr.status)).Inc()
		s.logger.Warn("command failed",
			"action", envelope.Action,
			"code", cmdErr.code,
			"error", cmdErr.message)
		writeAPIError(w, cmdErr.status, cmdErr.code, cmdErr.message)
		return
	}

	metrics.Get().APIRequests.WithLabelValues(envelope.Action, "200").Inc()
	writeData(w, http.StatusOK, data)
}

// ──────────────────────────────────────────────────────────────────────────────
// Catalog and rule listing
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) cmdGetOptions(params json.RawMessage) (any, *commandError) {
	cat, err := s.store.Options()
	if err != nil {
		return nil, errStore(err)
	}
	return cat, nil
}

func (s *Server) cmdGetAllRules(params json.RawMessage) (any, *commandError) {
	var req struct {
		UserGroupID   string `json:"user_group_id"`
		TrafficTypeID string `json:"traffic_type_id"`
		EnabledOnly   bool   `json:"enabled_only"`
	}
	json.Unmarshal(params, &req)

	rules, err := s.store.ListRules(store.ListFilter{
		UserGroupID:   req.UserGroupID,
		TrafficTypeID: req.TrafficTypeID,
		EnabledOnly:   req.EnabledOnly,
	})
	if err != nil {
		return nil, errStore(err)
	}

	cat, err := s.store.Snapshot()
	if err != nil {
		return nil, errStore(err)
	}

	enriched := make([]traffic.EnrichedRule, 0, len(rules))
	for _, r := range rules {
		enriched = append(enriched, traffic.Enrich(r, cat))
	}

	return map[string]any{
		"rules": enriched,
		"total": len(enriched),
	}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Rule CRUD
// ──────────────────────────────────────────────────────────────────────────────

// decodeRule extracts a rule from params. The rule may be nested under a
// "rule" key or flattened into the request body alongside the action.
func decodeRule(params json.RawMessage) (traffic.Rule, bool, *commandError) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(params, &probe); err != nil {
		return traffic.Rule{}, false, errInvalid("request body must be a JSON object")
	}

	raw := params
	if nested, ok := probe["rule"]; ok {
		raw = nested
		probe = nil
		json.Unmarshal(nested, &probe)
	}

	var rule traffic.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return traffic.Rule{}, false, errInvalid("invalid rule payload: %v", err)
	}

	_, enabledSet := probe["is_enabled"]
	return rule, enabledSet, nil
}

func (s *Server) cmdCreateRule(params json.RawMessage) (any, *commandError) {
	rule, enabledSet, cmdErr := decodeRule(params)
	if cmdErr != nil {
		return nil, cmdErr
	}

	// New rules default to enabled unless the caller says otherwise.
	if !enabledSet {
		rule.IsEnabled = true
	}
	if rule.Action == "" {
		rule.Action = traffic.ActionRoute
	}
	if rule.Actions == nil {
		rule.Actions = map[string]any{string(rule.Action): true}
	}
	if rule.Conditions == nil {
		rule.Conditions = map[string]any{}
	}

	existing, err := s.store.ListRules(store.ListFilter{})
	if err != nil {
		return nil, errStore(err)
	}
	cat, err := s.store.Snapshot()
	if err != nil {
		return nil, errStore(err)
	}

	result := traffic.Validate([]traffic.Rule{rule}, existing, cat, s.validationMode())
	if !result.OverallValid {
		return nil, errInvalid("%s", result.Errors[0])
	}

	created, err := s.store.CreateRule(rule)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, &commandError{http.StatusBadRequest, codeDuplicateName,
				fmt.Sprintf("Rule name '%s' already exists", rule.Name)}
		}
		return nil, errStore(err)
	}

	metrics.Get().RuleChanges.WithLabelValues("create").Inc()
	s.hub.Publish(events.New(events.RuleCreated, fmt.Sprintf("rule '%s' created", created.Name)).
		WithData(map[string]any{"rule_id": created.ID, "rule_name": created.Name}))

	return map[string]any{"rule": created}, nil
}

// updatePayload mirrors store.RuleUpdate with wire tags. Absent fields stay
// nil and are left untouched by the store.
type updatePayload struct {
	Name                *string         `json:"rule_name"`
	Description         *string         `json:"description"`
	UserGroupID         *string         `json:"user_group_id"`
	TrafficTypeID       *string         `json:"traffic_type_id"`
	NetworkPathID       *string         `json:"network_path_id"`
	TunnelID            *string         `json:"tunnel_id"`
	Action              *traffic.Action `json:"action"`
	Priority            *int            `json:"priority"`
	BandwidthLimitKbps  *float64        `json:"bandwidth_limit_kbps"`
	Actions             map[string]any  `json:"actions"`
	Conditions          map[string]any  `json:"conditions"`
	TimeConditions      map[string]any  `json:"time_conditions"`
	BandwidthConditions map[string]any  `json:"bandwidth_conditions"`
	LocationConditions  map[string]any  `json:"location_conditions"`
	DeviceConditions    map[string]any  `json:"device_conditions"`
	IsEnabled           *bool           `json:"is_enabled"`
	IsTesting           *bool           `json:"is_testing"`
}

func (p updatePayload) toStoreUpdate() store.RuleUpdate {
	return store.RuleUpdate{
		Name:                p.Name,
		Description:         p.Description,
		UserGroupID:         p.UserGroupID,
		TrafficTypeID:       p.TrafficTypeID,
		NetworkPathID:       p.NetworkPathID,
		TunnelID:            p.TunnelID,
		Action:              p.Action,
		Priority:            p.Priority,
		BandwidthLimitKbps:  p.BandwidthLimitKbps,
		Actions:             p.Actions,
		Conditions:          p.Conditions,
		TimeConditions:      p.TimeConditions,
		BandwidthConditions: p.BandwidthConditions,
		LocationConditions:  p.LocationConditions,
		DeviceConditions:    p.DeviceConditions,
		IsEnabled:           p.IsEnabled,
		IsTesting:           p.IsTesting,
	}
}

func (s *Server) cmdUpdateRule(params json.RawMessage) (any, *commandError) {
	var req struct {
		RuleID  string          `json:"rule_id"`
		Updates json.RawMessage `json:"updates"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("request body must be a JSON object")
	}
	if req.RuleID == "" {
		return nil, errInvalid("rule_id is required")
	}

	raw := req.Updates
	if len(raw) == 0 {
		// Flattened form: update fields sit alongside rule_id.
		raw = params
	}

	var payload updatePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, errInvalid("invalid updates payload: %v", err)
	}

	updated, err := s.store.UpdateRule(req.RuleID, payload.toStoreUpdate())
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, &commandError{http.StatusNotFound, codeRuleNotFound,
				fmt.Sprintf("Rule %s not found", req.RuleID)}
		case errors.Is(err, store.ErrDuplicateName):
			return nil, &commandError{http.StatusBadRequest, codeDuplicateName,
				"Rule name already exists"}
		default:
			return nil, errStore(err)
		}
	}

	metrics.Get().RuleChanges.WithLabelValues("update").Inc()
	s.hub.Publish(events.New(events.RuleUpdated, fmt.Sprintf("rule '%s' updated", updated.Name)).
		WithData(map[string]any{"rule_id": updated.ID, "rule_name": updated.Name}))

	return map[string]any{"rule": updated}, nil
}

func (s *Server) cmdDeleteRule(params json.RawMessage) (any, *commandError) {
	var req struct {
		RuleID string `json:"rule_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("request body must be a JSON object")
	}
	if req.RuleID == "" {
		return nil, errInvalid("rule_id is required")
	}

	rule, err := s.store.GetRule(req.RuleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &commandError{http.StatusNotFound, codeRuleNotFound,
				fmt.Sprintf("Rule %s not found", req.RuleID)}
		}
		return nil, errStore(err)
	}

	if err := s.store.DeleteRule(req.RuleID); err != nil {
		return nil, errStore(err)
	}

	metrics.Get().RuleChanges.WithLabelValues("delete").Inc()
	s.hub.Publish(events.New(events.RuleDeleted, fmt.Sprintf("rule '%s' deleted", rule.Name)).
		WithData(map[string]any{"rule_id": rule.ID, "rule_name": rule.Name}))

	return map[string]any{"deleted": true, "rule_id": rule.ID}, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Flow graph
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) cmdGetTrafficFlow(params json.RawMessage) (any, *commandError) {
	var req struct {
		UserGroupID   string `json:"user_group_id"`
		TrafficTypeID string `json:"traffic_type_id"`
	}
	json.Unmarshal(params, &req)

	rules, err := s.store.ListRules(store.ListFilter{})
	if err != nil {
		return nil, errStore(err)
	}

	graph := traffic.BuildFlow(rules, traffic.FlowFilter{
		UserGroupID:   req.UserGroupID,
		TrafficTypeID: req.TrafficTypeID,
	})
	return graph, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Simulation
// ──────────────────────────────────────────────────────────────────────────────

// defaultTestPackets is used when the caller provides none.
var defaultTestPackets = []traffic.TestPacket{
	{Source: "192.168.1.100", Destination: "8.8.8.8", Protocol: "udp", Port: 53},
	{Source: "192.168.1.100", Destination: "142.250.80.46", Protocol: "tcp", Port: 443},
	{Source: "192.168.1.101", Destination: "104.16.132.229", Protocol: "tcp", Port: 80},
}

func (s *Server) cmdTestRule(params json.RawMessage) (any, *commandError) {
	var req struct {
		RuleID      string               `json:"rule_id"`
		TestPackets []traffic.TestPacket `json:"test_packets"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("request body must be a JSON object")
	}
	if req.RuleID == "" {
		return nil, errInvalid("rule_id is required")
	}

	rule, err := s.store.GetRule(req.RuleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &commandError{http.StatusNotFound, codeRuleNotFound,
				fmt.Sprintf("Rule %s not found", req.RuleID)}
		}
		return nil, errStore(err)
	}

	packets := req.TestPackets
	if len(packets) == 0 {
		packets = defaultTestPackets
	}

	results, summary := s.sim.TestRule(rule, packets)

	metrics.Get().SimulationsTotal.WithLabelValues("test_rule").Inc()
	s.hub.Publish(events.New(events.RuleTested, fmt.Sprintf("rule '%s' dry-run tested", rule.Name)).
		WithData(map[string]any{"rule_id": rule.ID, "packets": len(packets)}))

	return map[string]any{
		"results": results,
		"summary": summary,
	}, nil
}

func (s *Server) cmdSimulateRouting(params json.RawMessage) (any, *commandError) {
	var req struct {
		SourceDevice  string `json:"source_device"`
		TrafficTypeID string `json:"traffic_type_id"`
		Duration      int    `json:"duration"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("request body must be a JSON object")
	}
	if req.SourceDevice == "" {
		return nil, errInvalid("source_device is required")
	}
	if req.Duration <= 0 {
		req.Duration = 10
	}

	rules, err := s.store.ListRules(store.ListFilter{EnabledOnly: true})
	if err != nil {
		return nil, errStore(err)
	}
	cat, err := s.store.Snapshot()
	if err != nil {
		return nil, errStore(err)
	}

	sim := s.sim.SimulateRouting(req.SourceDevice, req.TrafficTypeID, req.Duration, rules, cat)

	metrics.Get().SimulationsTotal.WithLabelValues("routing").Inc()

	return sim, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Statistics
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) cmdStatistics(params json.RawMessage) (any, *commandError) {
	var req struct {
		TimeRange string `json:"time_range"`
	}
	json.Unmarshal(params, &req)

	rules, err := s.store.ListRules(store.ListFilter{})
	if err != nil {
		return nil, errStore(err)
	}

	capacity := traffic.DefaultLinkCapacityMbps
	if s.cfg.Engine != nil && s.cfg.Engine.LinkCapacityMbps > 0 {
		capacity = s.cfg.Engine.LinkCapacityMbps
	}

	stats := traffic.Aggregate(rules, capacity)
	// Counters are lifetime totals; the range is echoed for the panel, not
	// used to filter.
	stats.TimeRange = req.TimeRange

	metrics.Get().RulesTotal.Set(float64(stats.Overview.TotalRules))
	metrics.Get().RulesActive.Set(float64(stats.Overview.ActiveRules))

	return stats, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Validation and batch apply
// ──────────────────────────────────────────────────────────────────────────────

func (s *Server) validationMode() traffic.Mode {
	if s.cfg.Engine != nil && s.cfg.Engine.ValidationMode == "lenient" {
		return traffic.ModeLenient
	}
	return traffic.ModeStrict
}

func parseMode(raw string, fallback traffic.Mode) traffic.Mode {
	switch raw {
	case "strict":
		return traffic.ModeStrict
	case "lenient":
		return traffic.ModeLenient
	default:
		return fallback
	}
}

func (s *Server) cmdValidateRules(params json.RawMessage) (any, *commandError) {
	var req struct {
		Rules          []traffic.Rule `json:"rules"`
		ValidationMode string         `json:"validation_mode"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("invalid rules payload: %v", err)
	}
	if len(req.Rules) == 0 {
		return nil, errInvalid("rules is required")
	}

	existing, err := s.store.ListRules(store.ListFilter{})
	if err != nil {
		return nil, errStore(err)
	}
	cat, err := s.store.Snapshot()
	if err != nil {
		return nil, errStore(err)
	}

	mode := parseMode(req.ValidationMode, s.validationMode())
	result := traffic.Validate(req.Rules, existing, cat, mode)

	reg := metrics.Get()
	outcome := "valid"
	severity := events.SeverityInfo
	if !result.OverallValid {
		outcome = "invalid"
		severity = events.SeverityWarning
	}
	reg.ValidationRuns.WithLabelValues(string(mode), outcome).Inc()
	reg.ValidationErrors.Add(float64(len(result.Errors)))
	reg.ValidationWarns.Add(float64(len(result.Warnings)))

	s.hub.Publish(events.New(events.RulesValidated,
		fmt.Sprintf("validated %d rules: %d valid, %d invalid", result.TotalRules, result.ValidRules, result.InvalidRules)).
		WithSeverity(severity).
		WithData(map[string]any{
			"total":   result.TotalRules,
			"valid":   result.ValidRules,
			"invalid": result.InvalidRules,
			"mode":    string(mode),
		}))

	return result, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Audit log
// ──────────────────────────────────────────────────────────────────────────────

// defaultAuditWindow bounds get_audit_log queries when no range is given.
const defaultAuditWindow = 7 * 24 * time.Hour

func (s *Server) cmdGetAuditLog(params json.RawMessage) (any, *commandError) {
	if s.audit == nil {
		return nil, &commandError{http.StatusInternalServerError, codeStoreError, "audit log unavailable"}
	}

	var req struct {
		EventType string `json:"event_type"`
		StartTime string `json:"start_time"`
		EndTime   string `json:"end_time"`
		Limit     int    `json:"limit"`
	}
	json.Unmarshal(params, &req)

	end := clock.Now()
	if req.EndTime != "" {
		t, err := time.Parse(time.RFC3339, req.EndTime)
		if err != nil {
			return nil, errInvalid("invalid end_time: %v", err)
		}
		end = t
	}
	start := end.Add(-defaultAuditWindow)
	if req.StartTime != "" {
		t, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			return nil, errInvalid("invalid start_time: %v", err)
		}
		start = t
	}
	if req.Limit <= 0 {
		req.Limit = 100
	}

	entries, err := s.audit.Query(start, end, req.EventType, req.Limit)
	if err != nil {
		return nil, errStore(err)
	}
	if entries == nil {
		entries = []audit.Event{}
	}

	return map[string]any{
		"events": entries,
		"total":  len(entries),
	}, nil
}

// change is one entry in an apply_changes batch.
type change struct {
	Type       string          `json:"type"`
	ChangeType string          `json:"change_type"` // legacy alias for type
	Action     string          `json:"action"`      // legacy alias for type
	RuleID     string          `json:"rule_id"`
	Rule       json.RawMessage `json:"rule"`
	RuleData   json.RawMessage `json:"rule_data"` // alias for rule
	Updates    json.RawMessage `json:"updates"`
}

func (c change) kind() string {
	switch {
	case c.Type != "":
		return c.Type
	case c.ChangeType != "":
		return c.ChangeType
	}
	return c.Action
}

func (c change) ruleRaw() json.RawMessage {
	if len(c.Rule) > 0 {
		return c.Rule
	}
	return c.RuleData
}

func (s *Server) cmdApplyChanges(params json.RawMessage) (any, *commandError) {
	var req struct {
		Changes       []change `json:"changes"`
		ValidateFirst bool     `json:"validate_first"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errInvalid("invalid changes payload: %v", err)
	}
	if len(req.Changes) == 0 {
		return nil, errInvalid("changes is required")
	}

	if req.ValidateFirst {
		var candidates []traffic.Rule
		for _, c := range req.Changes {
			if c.kind() != "create" || len(c.ruleRaw()) == 0 {
				continue
			}
			var r traffic.Rule
			if err := json.Unmarshal(c.ruleRaw(), &r); err == nil {
				candidates = append(candidates, r)
			}
		}
		if len(candidates) > 0 {
			existing, err := s.store.ListRules(store.ListFilter{})
			if err != nil {
				return nil, errStore(err)
			}
			cat, err := s.store.Snapshot()
			if err != nil {
				return nil, errStore(err)
			}
			result := traffic.Validate(candidates, existing, cat, s.validationMode())
			if !result.OverallValid {
				return map[string]any{
					"aborted":    true,
					"validation": result,
					"applied":    []any{},
					"failed":     []any{},
				}, nil
			}
		}
	}

	var applied []map[string]any
	var failed []map[string]any

	for i, c := range req.Changes {
		entry, err := s.applyChange(c)
		if err != nil {
			failed = append(failed, map[string]any{
				"index":       i,
				"change_type": c.kind(),
				"error":       err.message,
			})
			continue
		}
		applied = append(applied, entry)
	}

	severity := events.SeverityInfo
	if len(failed) > 0 {
		severity = events.SeverityWarning
	}
	s.hub.Publish(events.New(events.RulesApplied,
		fmt.Sprintf("applied %d of %d changes", len(applied), len(req.Changes))).
		WithSeverity(severity).
		WithData(map[string]any{
			"applied": len(applied),
			"failed":  len(failed),
		}))

	return map[string]any{
		"applied":       applied,
		"failed":        failed,
		"applied_count": len(applied),
		"failed_count":  len(failed),
		"total":         len(req.Changes),
	}, nil
}

// applyChange executes a single batch entry. Mutations go through the same
// store paths as the standalone CRUD actions.
func (s *Server) applyChange(c change) (map[string]any, *commandError) {
	switch c.kind() {
	case "create":
		if len(c.ruleRaw()) == 0 {
			return nil, errInvalid("create change requires a rule")
		}
		var rule traffic.Rule
		if err := json.Unmarshal(c.ruleRaw(), &rule); err != nil {
			return nil, errInvalid("invalid rule payload: %v", err)
		}
		if rule.Actions == nil && rule.Action != "" {
			rule.Actions = map[string]any{string(rule.Action): true}
		}
		created, err := s.store.CreateRule(rule)
		if err != nil {
			if errors.Is(err, store.ErrDuplicateName) {
				return nil, errInvalid("Rule name '%s' already exists", rule.Name)
			}
			return nil, errStore(err)
		}
		metrics.Get().RuleChanges.WithLabelValues("create").Inc()
		return map[string]any{"change_type": "create", "rule_id": created.ID, "rule_name": created.Name}, nil

	case "update":
		if c.RuleID == "" {
			return nil, errInvalid("update change requires rule_id")
		}
		raw := c.Updates
		if len(raw) == 0 {
			raw = c.ruleRaw()
		}
		var payload updatePayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, errInvalid("invalid updates payload: %v", err)
		}
		updated, err := s.store.UpdateRule(c.RuleID, payload.toStoreUpdate())
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errInvalid("Rule %s not found", c.RuleID)
			}
			return nil, errStore(err)
		}
		metrics.Get().RuleChanges.WithLabelValues("update").Inc()
		return map[string]any{"change_type": "update", "rule_id": updated.ID, "rule_name": updated.Name}, nil

	case "delete":
		if c.RuleID == "" {
			return nil, errInvalid("delete change requires rule_id")
		}
		if err := s.store.DeleteRule(c.RuleID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errInvalid("Rule %s not found", c.RuleID)
			}
			return nil, errStore(err)
		}
		metrics.Get().RuleChanges.WithLabelValues("delete").Inc()
		return map[string]any{"change_type": "delete", "rule_id": c.RuleID}, nil

	case "enable", "disable":
		if c.RuleID == "" {
			return nil, errInvalid("%s change requires rule_id", c.kind())
		}
		enabled := c.kind() == "enable"
		if err := s.store.SetEnabled(c.RuleID, enabled); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errInvalid("Rule %s not found", c.RuleID)
			}
			return nil, errStore(err)
		}
		metrics.Get().RuleChanges.WithLabelValues(c.kind()).Inc()
		return map[string]any{"change_type": c.kind(), "rule_id": c.RuleID}, nil

	default:
		return nil, errInvalid("unknown change type: %s", c.kind())
	}
}
