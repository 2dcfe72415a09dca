package traffic

import (
	"fmt"
	"testing"
)

func TestAggregateOverview(t *testing.T) {
	bw := 100000.0
	rules := []Rule{
		{ID: "r-1", Name: "a", IsEnabled: true, PacketsMatched: 500, BytesMatched: 5000, BandwidthLimitKbps: &bw},
		{ID: "r-2", Name: "b", IsEnabled: true, IsTesting: true, PacketsMatched: 200, BytesMatched: 2000},
		{ID: "r-3", Name: "c", IsEnabled: false, PacketsMatched: 300, BytesMatched: 3000},
	}

	stats := Aggregate(rules, 1000)

	ov := stats.Overview
	if ov.TotalRules != 3 || ov.ActiveRules != 2 || ov.TestingRules != 1 {
		t.Errorf("overview counts = %+v", ov)
	}
	if ov.TotalPacketsMatched != 1000 || ov.TotalBytesMatched != 10000 {
		t.Errorf("overview totals = %+v", ov)
	}
}

func TestAggregateTopRules(t *testing.T) {
	var rules []Rule
	for i := 0; i < 15; i++ {
		rules = append(rules, Rule{
			ID:             fmt.Sprintf("r-%d", i),
			Name:           fmt.Sprintf("rule %d", i),
			PacketsMatched: int64(i * 10),
		})
	}

	stats := Aggregate(rules, 1000)

	if len(stats.TopRules) != TopRuleCount {
		t.Fatalf("top rules = %d, want %d", len(stats.TopRules), TopRuleCount)
	}
	if stats.TopRules[0].ID != "r-14" {
		t.Errorf("top rule = %s, want r-14", stats.TopRules[0].ID)
	}
	for i := 1; i < len(stats.TopRules); i++ {
		if stats.TopRules[i].PacketsMatched > stats.TopRules[i-1].PacketsMatched {
			t.Errorf("top rules not descending at %d", i)
		}
	}

	// Sum of the top slice never exceeds the overview total.
	var topSum int64
	for _, r := range stats.TopRules {
		topSum += r.PacketsMatched
	}
	if topSum > stats.Overview.TotalPacketsMatched {
		t.Errorf("top sum %d exceeds total %d", topSum, stats.Overview.TotalPacketsMatched)
	}
}

func TestAggregateTopRulesTieOrder(t *testing.T) {
	rules := []Rule{
		{ID: "r-1", Name: "first", PacketsMatched: 100},
		{ID: "r-2", Name: "second", PacketsMatched: 100},
	}

	stats := Aggregate(rules, 1000)

	// Ties keep input (store) order.
	if stats.TopRules[0].ID != "r-1" || stats.TopRules[1].ID != "r-2" {
		t.Errorf("tie order = %s, %s", stats.TopRules[0].ID, stats.TopRules[1].ID)
	}
}

func TestAggregateBandwidth(t *testing.T) {
	bw1, bw2 := 200000.0, 300000.0
	rules := []Rule{
		{ID: "r-1", BandwidthLimitKbps: &bw1},
		{ID: "r-2", BandwidthLimitKbps: &bw2},
		{ID: "r-3"},
	}

	stats := Aggregate(rules, 1000)

	if stats.Bandwidth.LinkCapacityMbps != 1000 {
		t.Errorf("capacity = %f", stats.Bandwidth.LinkCapacityMbps)
	}
	if stats.Bandwidth.AllocatedMbps != 500 {
		t.Errorf("allocated = %f, want 500", stats.Bandwidth.AllocatedMbps)
	}
	if stats.Bandwidth.Utilization != 0.5 {
		t.Errorf("utilization = %f, want 0.5", stats.Bandwidth.Utilization)
	}
}

func TestAggregateDefaultCapacity(t *testing.T) {
	stats := Aggregate(nil, 0)
	if stats.Bandwidth.LinkCapacityMbps != DefaultLinkCapacityMbps {
		t.Errorf("capacity = %f, want default %f", stats.Bandwidth.LinkCapacityMbps, DefaultLinkCapacityMbps)
	}
	if len(stats.TopRules) != 0 {
		t.Errorf("empty rule set produced top rules %v", stats.TopRules)
	}
}
