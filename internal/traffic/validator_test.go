package traffic

import (
	"strings"
	"testing"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func testCatalog() *Catalog {
	return &Catalog{
		UserGroups: []UserGroup{
			{ID: "ug-1", GroupName: "Family", IsActive: true},
			{ID: "ug-2", GroupName: "Guests", IsActive: false},
		},
		TrafficTypes: []TrafficType{
			{ID: "tt-1", TypeName: "Video", IsActive: true},
			{ID: "tt-2", TypeName: "Legacy", IsActive: false},
		},
		NetworkPaths: []NetworkPath{
			{ID: "np-1", PathName: "Primary WAN", IsActive: true},
		},
		Tunnels: []Tunnel{
			{ID: "t-1", TunnelName: "WireGuard Home", IsActive: true},
		},
	}
}

func baseRule(name string) Rule {
	return Rule{
		Name:       name,
		Action:     ActionRoute,
		Actions:    map[string]any{"route": true},
		Conditions: map[string]any{},
		IsEnabled:  true,
	}
}

func TestValidateRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr string
	}{
		{"missing name", Rule{Actions: map[string]any{}, Conditions: map[string]any{}}, "Rule name is required"},
		{"blank name", Rule{Name: "   ", Actions: map[string]any{}, Conditions: map[string]any{}}, "Rule name is required"},
		{"missing actions", Rule{Name: "r", Conditions: map[string]any{}}, "Rule actions are required"},
		{"missing conditions", Rule{Name: "r", Actions: map[string]any{}}, "Rule conditions are required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate([]Rule{tt.rule}, nil, testCatalog(), ModeStrict)
			if res.OverallValid {
				t.Fatal("expected invalid batch")
			}
			if !containsMsg(res.Results[0].Errors, tt.wantErr) {
				t.Errorf("errors = %v, want %q", res.Results[0].Errors, tt.wantErr)
			}
		})
	}
}

func TestValidatePriorityRange(t *testing.T) {
	tests := []struct {
		name     string
		priority *int
		valid    bool
	}{
		{"unset", nil, true},
		{"zero", intPtr(0), true},
		{"max", intPtr(1000), true},
		{"negative", intPtr(-1), false},
		{"over max", intPtr(1001), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRule("prio")
			r.Priority = tt.priority
			res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
			if res.OverallValid != tt.valid {
				t.Errorf("OverallValid = %v, want %v (errors %v)", res.OverallValid, tt.valid, res.Errors)
			}
			if !tt.valid && !containsMsg(res.Results[0].Errors, "Priority must be a number between 0 and 1000") {
				t.Errorf("missing priority error, got %v", res.Results[0].Errors)
			}
		})
	}
}

func TestValidateBandwidthLimit(t *testing.T) {
	r := baseRule("bw")
	r.BandwidthLimitKbps = floatPtr(-5)
	res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
	if res.OverallValid {
		t.Fatal("negative bandwidth should be invalid")
	}
	if !containsMsg(res.Results[0].Errors, "Bandwidth limit must be a positive number") {
		t.Errorf("got %v", res.Results[0].Errors)
	}

	r.BandwidthLimitKbps = floatPtr(5000)
	res = Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
	if !res.OverallValid {
		t.Errorf("positive bandwidth should be valid, got %v", res.Errors)
	}
}

func TestValidateReferences(t *testing.T) {
	cat := testCatalog()

	t.Run("unknown references fail", func(t *testing.T) {
		r := baseRule("refs")
		r.UserGroupID = "ug-missing"
		r.TrafficTypeID = "tt-missing"
		r.NetworkPathID = "np-missing"
		r.TunnelID = "t-missing"
		res := Validate([]Rule{r}, nil, cat, ModeStrict)
		if res.OverallValid {
			t.Fatal("expected invalid")
		}
		want := []string{
			"User group ug-missing does not exist",
			"Traffic type tt-missing does not exist",
			"Network path np-missing does not exist",
			"Tunnel t-missing does not exist",
		}
		for _, w := range want {
			if !containsMsg(res.Results[0].Errors, w) {
				t.Errorf("missing error %q in %v", w, res.Results[0].Errors)
			}
		}
	})

	t.Run("inactive references warn but pass", func(t *testing.T) {
		r := baseRule("inactive")
		r.UserGroupID = "ug-2"
		r.TrafficTypeID = "tt-2"
		res := Validate([]Rule{r}, nil, cat, ModeStrict)
		if !res.OverallValid {
			t.Fatalf("inactive refs must not block, errors %v", res.Errors)
		}
		if !containsMsg(res.Results[0].Warnings, "User group 'Guests' is inactive") {
			t.Errorf("missing inactive group warning, got %v", res.Results[0].Warnings)
		}
		if !containsMsg(res.Results[0].Warnings, "Traffic type 'Legacy' is inactive") {
			t.Errorf("missing inactive type warning, got %v", res.Results[0].Warnings)
		}
	})

	t.Run("empty references skip checks", func(t *testing.T) {
		r := baseRule("norefs")
		res := Validate([]Rule{r}, nil, cat, ModeStrict)
		if !res.OverallValid {
			t.Errorf("expected valid, got %v", res.Errors)
		}
	})
}

func TestValidateActionsPayload(t *testing.T) {
	tests := []struct {
		name    string
		actions map[string]any
		wantErr string
	}{
		{"allow and block", map[string]any{"allow": true, "block": true}, "Rule cannot both allow and block simultaneously"},
		{"bad redirect", map[string]any{"redirect_to": "ftp://foo"}, "Redirect URL must be a valid HTTP/HTTPS URL"},
		{"non-string redirect", map[string]any{"redirect_to": 42}, "Redirect URL must be a valid HTTP/HTTPS URL"},
		{"zero bandwidth", map[string]any{"bandwidth_limit": 0.0}, "Bandwidth limit must be a positive number"},
		{"string bandwidth", map[string]any{"bandwidth_limit": "fast"}, "Bandwidth limit must be a positive number"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRule("actions")
			r.Actions = tt.actions
			res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
			if res.OverallValid {
				t.Fatal("expected invalid")
			}
			if !containsMsg(res.Results[0].Errors, tt.wantErr) {
				t.Errorf("errors = %v, want %q", res.Results[0].Errors, tt.wantErr)
			}
		})
	}

	t.Run("good payloads pass", func(t *testing.T) {
		r := baseRule("good")
		r.Actions = map[string]any{
			"allow":           true,
			"bandwidth_limit": 2000.0,
			"redirect_to":     "https://blocked.example.com",
		}
		res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
		if !res.OverallValid {
			t.Errorf("expected valid, got %v", res.Errors)
		}
	})
}

func TestValidateConditionsPayload(t *testing.T) {
	tests := []struct {
		name       string
		conditions map[string]any
		wantErr    string
	}{
		{"bad source ip", map[string]any{"source_ip": "999.1.1.1"}, "Source IP must be a valid IP address or CIDR notation"},
		{"ipv6 source rejected", map[string]any{"source_ip": "::1"}, "Source IP must be a valid IP address or CIDR notation"},
		{"port too high", map[string]any{"destination_port": 70000.0}, "Destination port must be between 1 and 65535"},
		{"port zero", map[string]any{"destination_port": 0.0}, "Destination port must be between 1 and 65535"},
		{"bad protocol", map[string]any{"protocol": "sctp"}, "Protocol must be one of: tcp, udp, icmp, any"},
		{"bad time range", map[string]any{"time_range": "9am-5pm"}, "Time range must be in format HH:MM-HH:MM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := baseRule("conds")
			r.Conditions = tt.conditions
			res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
			if res.OverallValid {
				t.Fatal("expected invalid")
			}
			if !containsMsg(res.Results[0].Errors, tt.wantErr) {
				t.Errorf("errors = %v, want %q", res.Results[0].Errors, tt.wantErr)
			}
		})
	}

	t.Run("good conditions pass", func(t *testing.T) {
		r := baseRule("goodconds")
		r.Conditions = map[string]any{
			"source_ip":        "192.168.1.0/24",
			"destination_port": 443.0,
			"protocol":         "TCP",
			"time_range":       "09:00-17:30",
		}
		res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
		if !res.OverallValid {
			t.Errorf("expected valid, got %v", res.Errors)
		}
	})

	t.Run("numeric string port accepted", func(t *testing.T) {
		r := baseRule("strport")
		r.Conditions = map[string]any{"destination_port": "443"}
		res := Validate([]Rule{r}, nil, testCatalog(), ModeStrict)
		if !res.OverallValid {
			t.Errorf("expected valid, got %v", res.Errors)
		}
	})
}

func TestValidatePriorityCollision(t *testing.T) {
	existing := baseRule("existing")
	existing.ID = "r-1"
	existing.Priority = intPtr(200)

	r := baseRule("candidate")
	r.Priority = intPtr(200)

	res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
	if !res.OverallValid {
		t.Fatalf("priority collision is advisory, got errors %v", res.Errors)
	}
	if !containsMsg(res.Results[0].Warnings, "Rule has same priority (200) as existing rule 'existing'") {
		t.Errorf("missing collision warning, got %v", res.Results[0].Warnings)
	}

	t.Run("disabled rules do not collide", func(t *testing.T) {
		disabled := existing
		disabled.IsEnabled = false
		res := Validate([]Rule{r}, []Rule{disabled}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) != 0 {
			t.Errorf("unexpected warnings %v", res.Results[0].Warnings)
		}
	})

	t.Run("unset priority does not collide", func(t *testing.T) {
		unset := baseRule("candidate2")
		res := Validate([]Rule{unset}, []Rule{existing}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) != 0 {
			t.Errorf("unexpected warnings %v", res.Results[0].Warnings)
		}
	})

	t.Run("candidate without enabled flag still collides", func(t *testing.T) {
		// Wire payloads that omit is_enabled decode with the flag false;
		// that must not suppress the warning.
		r := baseRule("candidate3")
		r.Priority = intPtr(200)
		r.IsEnabled = false
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if !containsMsg(res.Results[0].Warnings, "Rule has same priority (200) as existing rule 'existing'") {
			t.Errorf("missing collision warning, got %v", res.Results[0].Warnings)
		}
	})
}

func TestValidateConflictingDispositions(t *testing.T) {
	conds := map[string]any{"source_ip": "192.168.1.50", "protocol": "tcp"}

	existing := baseRule("Block-Video")
	existing.ID = "r-1"
	existing.Action = ActionBlock
	existing.Actions = map[string]any{"block": true}
	existing.Conditions = map[string]any{"source_ip": "192.168.1.50", "protocol": "tcp"}

	t.Run("opposite dispositions warn", func(t *testing.T) {
		r := baseRule("Allow-Video")
		r.Actions = map[string]any{"allow": true}
		r.Conditions = conds
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if !res.OverallValid {
			t.Fatalf("conflict is advisory, got %v", res.Errors)
		}
		want := "Rule conflicts with existing rule 'Block-Video' - same conditions but opposite actions"
		if !containsMsg(res.Results[0].Warnings, want) {
			t.Errorf("missing conflict warning, got %v", res.Results[0].Warnings)
		}
	})

	t.Run("route counts as allowing", func(t *testing.T) {
		r := baseRule("Route-Video")
		r.Action = ActionRoute
		r.Actions = map[string]any{"route": true}
		r.Conditions = conds
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) == 0 {
			t.Error("route vs block on identical conditions should warn")
		}
	})

	t.Run("same disposition does not warn", func(t *testing.T) {
		r := baseRule("Also-Block")
		r.Action = ActionBlock
		r.Actions = map[string]any{"block": true}
		r.Conditions = conds
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) != 0 {
			t.Errorf("unexpected warnings %v", res.Results[0].Warnings)
		}
	})

	t.Run("different conditions do not warn", func(t *testing.T) {
		r := baseRule("Other-Conds")
		r.Actions = map[string]any{"allow": true}
		r.Conditions = map[string]any{"source_ip": "10.0.0.1"}
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) != 0 {
			t.Errorf("unexpected warnings %v", res.Results[0].Warnings)
		}
	})

	t.Run("key order does not matter", func(t *testing.T) {
		r := baseRule("Reordered")
		r.Actions = map[string]any{"allow": true}
		r.Conditions = map[string]any{"protocol": "tcp", "source_ip": "192.168.1.50"}
		res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
		if len(res.Results[0].Warnings) == 0 {
			t.Error("structurally equal conditions should conflict regardless of key order")
		}
	})
}

func TestValidateCollisionAndConflictTogether(t *testing.T) {
	conds := map[string]any{"source_ip": "192.168.1.50", "protocol": "tcp"}

	existing := baseRule("Stream-Priority")
	existing.ID = "r-1"
	existing.Priority = intPtr(150)
	existing.Actions = map[string]any{"allow": true}
	existing.Conditions = conds

	// Candidate arrives as a wire payload with is_enabled omitted, so the
	// decoded flag is false. Both warnings must still fire.
	r := Rule{
		Name:       "Block-Video",
		Action:     ActionBlock,
		Actions:    map[string]any{"block": true},
		Conditions: map[string]any{"protocol": "tcp", "source_ip": "192.168.1.50"},
		Priority:   intPtr(150),
	}

	res := Validate([]Rule{r}, []Rule{existing}, testCatalog(), ModeStrict)
	if !res.OverallValid {
		t.Fatalf("warnings are advisory, got errors %v", res.Errors)
	}
	if !containsMsg(res.Results[0].Warnings, "Rule has same priority (150) as existing rule 'Stream-Priority'") {
		t.Errorf("missing priority-collision warning, got %v", res.Results[0].Warnings)
	}
	if !containsMsg(res.Results[0].Warnings, "Rule conflicts with existing rule 'Stream-Priority' - same conditions but opposite actions") {
		t.Errorf("missing conflict warning, got %v", res.Results[0].Warnings)
	}
}

func TestValidateNameCollisionModes(t *testing.T) {
	existing := baseRule("Stream-Priority")
	existing.ID = "r-1"

	candidate := baseRule("Stream-Priority")

	t.Run("strict blocks", func(t *testing.T) {
		res := Validate([]Rule{candidate}, []Rule{existing}, testCatalog(), ModeStrict)
		if res.OverallValid {
			t.Fatal("strict mode must block duplicate names")
		}
		if !containsMsg(res.Results[0].Errors, "Rule name 'Stream-Priority' already exists") {
			t.Errorf("got %v", res.Results[0].Errors)
		}
	})

	t.Run("lenient warns", func(t *testing.T) {
		res := Validate([]Rule{candidate}, []Rule{existing}, testCatalog(), ModeLenient)
		if !res.OverallValid {
			t.Fatalf("lenient mode must not block, got %v", res.Errors)
		}
		if !containsMsg(res.Results[0].Warnings, "Rule name 'Stream-Priority' already exists") {
			t.Errorf("got %v", res.Results[0].Warnings)
		}
	})

	t.Run("same id is not a collision", func(t *testing.T) {
		self := existing
		res := Validate([]Rule{self}, []Rule{existing}, testCatalog(), ModeStrict)
		if !res.OverallValid {
			t.Errorf("rule must not collide with itself, got %v", res.Errors)
		}
	})

	t.Run("unknown mode falls back to strict", func(t *testing.T) {
		res := Validate([]Rule{candidate}, []Rule{existing}, testCatalog(), Mode("bogus"))
		if res.ValidationMode != ModeStrict {
			t.Errorf("mode = %s, want strict", res.ValidationMode)
		}
		if res.OverallValid {
			t.Error("fallback strict mode must block duplicate names")
		}
	})
}

func TestValidateBatchAggregation(t *testing.T) {
	good := baseRule("good")
	bad := baseRule("bad")
	bad.Priority = intPtr(5000)

	res := Validate([]Rule{good, bad}, nil, testCatalog(), ModeStrict)

	if res.TotalRules != 2 || res.ValidRules != 1 || res.InvalidRules != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1", res.TotalRules, res.ValidRules, res.InvalidRules)
	}
	if res.OverallValid {
		t.Error("batch with one invalid rule must be invalid overall")
	}
	if len(res.Errors) != 1 || !strings.HasPrefix(res.Errors[0], "bad: ") {
		t.Errorf("global errors must be name-prefixed, got %v", res.Errors)
	}
}

func containsMsg(msgs []string, want string) bool {
	for _, m := range msgs {
		if m == want {
			return true
		}
	}
	return false
}
