package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ea2601/pi5supernode/internal/clock"
	"github.com/Ea2601/pi5supernode/internal/traffic"
)

func newTestStore(t *testing.T) (*Store, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	s, err := Open(":memory:", clk)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clk
}

func TestCreateRuleDefaults(t *testing.T) {
	s, clk := newTestStore(t)

	created, err := s.CreateRule(traffic.Rule{Name: "defaults"})
	require.NoError(t, err)

	assert.NotEmpty(t, created.ID)
	assert.Equal(t, traffic.ActionRoute, created.Action)
	require.NotNil(t, created.Priority)
	assert.Equal(t, traffic.DefaultPriority, *created.Priority)
	assert.Equal(t, clk.Now(), created.CreatedAt)
	assert.Equal(t, clk.Now(), created.UpdatedAt)
}

func TestCreateRuleRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)

	bw := 2500.0
	prio := 42
	in := traffic.Rule{
		Name:               "round trip",
		Description:        "full field coverage",
		UserGroupID:        "ug-1",
		TrafficTypeID:      "tt-1",
		NetworkPathID:      "np-1",
		TunnelID:           "t-1",
		Action:             traffic.ActionBlock,
		Priority:           &prio,
		BandwidthLimitKbps: &bw,
		Actions:            map[string]any{"block": true},
		Conditions:         map[string]any{"source_ip": "10.0.0.0/8", "destination_port": float64(443)},
		TimeConditions:     map[string]any{"time_range": "09:00-17:00"},
		IsEnabled:          true,
		IsTesting:          true,
	}

	created, err := s.CreateRule(in)
	require.NoError(t, err)

	got, err := s.GetRule(created.ID)
	require.NoError(t, err)

	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.Description, got.Description)
	assert.Equal(t, in.UserGroupID, got.UserGroupID)
	assert.Equal(t, in.TunnelID, got.TunnelID)
	assert.Equal(t, traffic.ActionBlock, got.Action)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 42, *got.Priority)
	require.NotNil(t, got.BandwidthLimitKbps)
	assert.Equal(t, 2500.0, *got.BandwidthLimitKbps)
	assert.Equal(t, in.Actions, got.Actions)
	assert.Equal(t, in.Conditions, got.Conditions)
	assert.Equal(t, in.TimeConditions, got.TimeConditions)
	assert.True(t, got.IsEnabled)
	assert.True(t, got.IsTesting)
}

func TestCreateRuleDuplicateName(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.CreateRule(traffic.Rule{Name: "taken"})
	require.NoError(t, err)

	_, err = s.CreateRule(traffic.Rule{Name: "taken"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateName), "want ErrDuplicateName, got %v", err)
}

func TestGetRuleNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetRule("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestListRulesOrderAndFilter(t *testing.T) {
	s, _ := newTestStore(t)

	mk := func(name string, prio int, group string, enabled bool) traffic.Rule {
		r, err := s.CreateRule(traffic.Rule{
			Name: name, Priority: &prio, UserGroupID: group, IsEnabled: enabled,
		})
		require.NoError(t, err)
		return r
	}

	mk("low prio", 300, "ug-1", true)
	mk("high prio", 10, "ug-2", true)
	mk("mid prio", 100, "ug-1", false)

	all, err := s.ListRules(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "high prio", all[0].Name)
	assert.Equal(t, "mid prio", all[1].Name)
	assert.Equal(t, "low prio", all[2].Name)

	grp, err := s.ListRules(ListFilter{UserGroupID: "ug-1"})
	require.NoError(t, err)
	assert.Len(t, grp, 2)

	enabled, err := s.ListRules(ListFilter{EnabledOnly: true})
	require.NoError(t, err)
	assert.Len(t, enabled, 2)
	for _, r := range enabled {
		assert.True(t, r.IsEnabled)
	}
}

func TestUpdateRulePartial(t *testing.T) {
	s, clk := newTestStore(t)

	prio := 50
	created, err := s.CreateRule(traffic.Rule{
		Name: "original", Priority: &prio, Description: "keep me", IsEnabled: true,
	})
	require.NoError(t, err)

	clk.Advance(time.Hour)

	newName := "renamed"
	newPrio := 75
	updated, err := s.UpdateRule(created.ID, RuleUpdate{
		Name:     &newName,
		Priority: &newPrio,
	})
	require.NoError(t, err)

	assert.Equal(t, "renamed", updated.Name)
	require.NotNil(t, updated.Priority)
	assert.Equal(t, 75, *updated.Priority)
	assert.Equal(t, "keep me", updated.Description, "untouched fields survive")
	assert.True(t, updated.IsEnabled)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))
}

func TestUpdateRuleErrors(t *testing.T) {
	s, _ := newTestStore(t)

	name := "whatever"
	_, err := s.UpdateRule("missing", RuleUpdate{Name: &name})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = s.CreateRule(traffic.Rule{Name: "one"})
	require.NoError(t, err)
	two, err := s.CreateRule(traffic.Rule{Name: "two"})
	require.NoError(t, err)

	taken := "one"
	_, err = s.UpdateRule(two.ID, RuleUpdate{Name: &taken})
	assert.True(t, errors.Is(err, ErrDuplicateName))
}

func TestDeleteRule(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.CreateRule(traffic.Rule{Name: "doomed"})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRule(created.ID))

	_, err = s.GetRule(created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.True(t, errors.Is(s.DeleteRule(created.ID), ErrNotFound))
}

func TestSetEnabled(t *testing.T) {
	s, _ := newTestStore(t)

	created, err := s.CreateRule(traffic.Rule{Name: "toggle", IsEnabled: true})
	require.NoError(t, err)

	require.NoError(t, s.SetEnabled(created.ID, false))

	got, err := s.GetRule(created.ID)
	require.NoError(t, err)
	assert.False(t, got.IsEnabled)
}

func TestRecordMatch(t *testing.T) {
	s, clk := newTestStore(t)

	created, err := s.CreateRule(traffic.Rule{Name: "counter"})
	require.NoError(t, err)

	require.NoError(t, s.RecordMatch(created.ID, 10, 1500))
	require.NoError(t, s.RecordMatch(created.ID, 5, 500))

	got, err := s.GetRule(created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(15), got.PacketsMatched)
	assert.Equal(t, int64(2000), got.BytesMatched)
	require.NotNil(t, got.LastMatchedAt)
	assert.Equal(t, clk.Now(), *got.LastMatchedAt)
}

func TestCatalogSnapshotAndOptions(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.UpsertUserGroup(traffic.UserGroup{GroupName: "Family", Priority: 10, IsActive: true})
	require.NoError(t, err)
	_, err = s.UpsertUserGroup(traffic.UserGroup{GroupName: "Retired", Priority: 20, IsActive: false})
	require.NoError(t, err)
	_, err = s.UpsertTrafficType(traffic.TrafficType{TypeName: "Video", BandwidthPriority: 70, IsActive: true})
	require.NoError(t, err)
	_, err = s.UpsertNetworkPath(traffic.NetworkPath{PathName: "WAN", ReliabilityScore: 0.99, IsActive: true})
	require.NoError(t, err)
	_, err = s.UpsertTunnel(traffic.Tunnel{TunnelName: "WG", PingMs: 12, IsActive: true})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snap.UserGroups, 2, "snapshot includes inactive records")

	opts, err := s.Options()
	require.NoError(t, err)
	assert.Len(t, opts.UserGroups, 1, "options are active-only")
	assert.Equal(t, "Family", opts.UserGroups[0].GroupName)
	assert.Len(t, opts.TrafficTypes, 1)
	assert.Len(t, opts.NetworkPaths, 1)
	assert.Len(t, opts.Tunnels, 1)
}

func TestUpsertUpdatesExisting(t *testing.T) {
	s, _ := newTestStore(t)

	id, err := s.UpsertUserGroup(traffic.UserGroup{GroupName: "Kids", Priority: 10, IsActive: true})
	require.NoError(t, err)

	_, err = s.UpsertUserGroup(traffic.UserGroup{ID: id, GroupName: "Kids", Priority: 99, IsActive: true})
	require.NoError(t, err)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.UserGroups, 1)
	assert.Equal(t, 99, snap.UserGroups[0].Priority)
}
