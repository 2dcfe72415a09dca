package traffic

import (
	"math/rand"
	"testing"
	"time"
)

func fixedSimulator() *Simulator {
	rng := rand.New(rand.NewSource(42))
	now := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return NewSimulatorWithSource(rng, now)
}

func TestTestRuleResults(t *testing.T) {
	bw := 2000.0
	rule := Rule{
		ID: "r-1", Name: "video", Action: ActionRoute,
		TunnelID: "t-1", NetworkPathID: "np-1", BandwidthLimitKbps: &bw,
	}
	packets := []TestPacket{
		{Source: "192.168.1.10", Destination: "8.8.8.8", Protocol: "udp", Port: 53},
		{Source: "192.168.1.11", Destination: "1.1.1.1", Protocol: "tcp", Port: 443},
	}

	results, summary := fixedSimulator().TestRule(rule, packets)

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	for i, r := range results {
		if !r.DryRun {
			t.Errorf("result %d: DryRun must always be true", i)
		}
		if !r.Matched {
			t.Errorf("result %d: harness reports every packet as matched", i)
		}
		if r.Action != ActionRoute || r.TunnelID != "t-1" || r.NetworkPathID != "np-1" {
			t.Errorf("result %d carries wrong disposition: %+v", i, r)
		}
		if r.BandwidthLimitKbps == nil || *r.BandwidthLimitKbps != bw {
			t.Errorf("result %d: bandwidth limit not carried", i)
		}
		if r.LatencyEstimateMs < 10 || r.LatencyEstimateMs > 60 {
			t.Errorf("result %d: latency %f out of 10-60ms range", i, r.LatencyEstimateMs)
		}
		if r.SuccessProbability < 0.7 || r.SuccessProbability > 1.0 {
			t.Errorf("result %d: success probability %f out of 0.7-1.0 range", i, r.SuccessProbability)
		}
		if r.Packet != packets[i] {
			t.Errorf("result %d: packet not echoed", i)
		}
	}

	if summary.TotalPackets != 2 || summary.MatchedPackets != 2 {
		t.Errorf("summary counts = %+v", summary)
	}

	var sum float64
	for _, r := range results {
		sum += r.LatencyEstimateMs
	}
	want := sum / 2
	if diff := summary.AverageLatencyMs - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("average latency = %f, want %f", summary.AverageLatencyMs, want)
	}
}

func TestTestRuleNoPackets(t *testing.T) {
	results, summary := fixedSimulator().TestRule(Rule{Name: "empty"}, nil)
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
	if summary.TotalPackets != 0 || summary.AverageLatencyMs != 0 {
		t.Errorf("summary = %+v, want zeroes", summary)
	}
}

func TestTestRuleDeterministic(t *testing.T) {
	rule := Rule{Name: "det", Action: ActionAllow}
	packets := []TestPacket{{Source: "a", Destination: "b"}}

	r1, _ := fixedSimulator().TestRule(rule, packets)
	r2, _ := fixedSimulator().TestRule(rule, packets)

	if r1[0].LatencyEstimateMs != r2[0].LatencyEstimateMs {
		t.Error("same seed must produce the same synthetic values")
	}
}

func TestSimulateRoutingRanges(t *testing.T) {
	sim := fixedSimulator().SimulateRouting("192.168.1.50", "", 30, nil, &Catalog{})

	if !sim.DryRun {
		t.Error("simulation must be flagged as dry run")
	}
	if sim.SourceDevice != "192.168.1.50" || sim.TestDuration != 30 {
		t.Errorf("echo fields wrong: %+v", sim)
	}
	if sim.PacketsRouted < 1000 || sim.PacketsRouted >= 11000 {
		t.Errorf("packets routed %d out of range", sim.PacketsRouted)
	}
	if sim.AverageLatency < 20 || sim.AverageLatency > 70 {
		t.Errorf("latency %f out of range", sim.AverageLatency)
	}
	if sim.ThroughputMbps < 50 || sim.ThroughputMbps > 150 {
		t.Errorf("throughput %f out of range", sim.ThroughputMbps)
	}
	if sim.SuccessRate < 0.9 || sim.SuccessRate > 1.0 {
		t.Errorf("success rate %f out of range", sim.SuccessRate)
	}
	if sim.StartTime != time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) {
		t.Errorf("start time = %v", sim.StartTime)
	}
}

func TestSimulateRoutingDefaultDuration(t *testing.T) {
	sim := fixedSimulator().SimulateRouting("dev", "", 0, nil, &Catalog{})
	if sim.TestDuration != 60 {
		t.Errorf("duration = %d, want default 60", sim.TestDuration)
	}
}

func TestRoutingPathSelection(t *testing.T) {
	cat := testCatalog()

	rules := []Rule{
		{ID: "r-0", Name: "disabled", TrafficTypeID: "tt-1", UserGroupID: "ug-1", IsEnabled: false},
		{ID: "r-1", Name: "match", TrafficTypeID: "tt-1", UserGroupID: "ug-1",
			NetworkPathID: "np-1", TunnelID: "t-1", IsEnabled: true},
	}

	sim := fixedSimulator().SimulateRouting("dev", "tt-1", 10, rules, cat)

	want := []string{
		"User Group: Family",
		"Traffic Type: Video",
		"Network Path: Primary WAN",
		"Tunnel: WireGuard Home",
	}
	if len(sim.RoutingPath) != len(want) {
		t.Fatalf("path = %v, want %v", sim.RoutingPath, want)
	}
	for i := range want {
		if sim.RoutingPath[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, sim.RoutingPath[i], want[i])
		}
	}
}

func TestRoutingPathFallback(t *testing.T) {
	sim := fixedSimulator().SimulateRouting("dev", "tt-other", 10, nil, testCatalog())

	want := []string{"Network Path: default", "Tunnel: direct"}
	if len(sim.RoutingPath) != 2 || sim.RoutingPath[0] != want[0] || sim.RoutingPath[1] != want[1] {
		t.Errorf("fallback path = %v, want %v", sim.RoutingPath, want)
	}
}
