package traffic

import (
	"math/rand"
	"time"
)

// The simulator is a declared dry-run harness. It never classifies real
// traffic: every result carries the rule's static disposition plus synthetic
// latency and success-probability values, and is flagged DryRun so callers
// cannot mistake it for a measured network result.

// Synthetic value ranges, matching the harness's documented behavior.
const (
	minLatencyMs    = 10.0
	latencySpreadMs = 50.0 // 10-60ms
	minSuccessProb  = 0.7
	successSpread   = 0.3 // 70-100%
)

// TestPacket is a synthetic packet declared by the operator for rule testing.
type TestPacket struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Protocol    string `json:"protocol,omitempty"`
	Port        int    `json:"port,omitempty"`
}

// TestResult is the simulated classification outcome for one packet.
type TestResult struct {
	Packet             TestPacket `json:"packet"`
	Matched            bool       `json:"matched"`
	Action             Action     `json:"action"`
	TunnelID           string     `json:"tunnel,omitempty"`
	NetworkPathID      string     `json:"path,omitempty"`
	BandwidthLimitKbps *float64   `json:"bandwidth_limit,omitempty"`
	LatencyEstimateMs  float64    `json:"latency_estimate"`
	SuccessProbability float64    `json:"success_probability"`
	DryRun             bool       `json:"dryRun"`
}

// TestSummary aggregates one simulation run.
type TestSummary struct {
	TotalPackets     int     `json:"totalPackets"`
	MatchedPackets   int     `json:"matchedPackets"`
	AverageLatencyMs float64 `json:"averageLatency"`
}

// RoutingSimulation is the result of a scenario-level dry run for a source
// device, independent of any single rule.
type RoutingSimulation struct {
	SourceDevice string    `json:"sourceDevice"`
	TrafficType  string    `json:"trafficType,omitempty"`
	TestDuration int       `json:"testDuration"`
	StartTime    time.Time `json:"startTime"`
	DryRun       bool      `json:"dryRun"`

	PacketsRouted  int      `json:"packetsRouted"`
	AverageLatency float64  `json:"averageLatency"`
	ThroughputMbps float64  `json:"throughput"`
	SuccessRate    float64  `json:"successRate"`
	RoutingPath    []string `json:"routingPath"`
}

// Simulator produces dry-run classification results. The random source is
// injectable so tests can pin the sequence.
type Simulator struct {
	rng *rand.Rand
	now func() time.Time
}

// NewSimulator creates a simulator with its own random source.
func NewSimulator() *Simulator {
	return &Simulator{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// NewSimulatorWithSource creates a simulator using the given random source
// and time function. Intended for tests.
func NewSimulatorWithSource(rng *rand.Rand, now func() time.Time) *Simulator {
	return &Simulator{rng: rng, now: now}
}

// TestRule evaluates declared test packets against a single rule. The
// harness does not implement a real match predicate; every packet reports
// matched so the operator sees the rule's full disposition.
func (s *Simulator) TestRule(rule Rule, packets []TestPacket) ([]TestResult, TestSummary) {
	results := make([]TestResult, 0, len(packets))
	var latencySum float64

	for _, pkt := range packets {
		latency := minLatencyMs + s.rng.Float64()*latencySpreadMs
		latencySum += latency

		results = append(results, TestResult{
			Packet:             pkt,
			Matched:            true,
			Action:             rule.Action,
			TunnelID:           rule.TunnelID,
			NetworkPathID:      rule.NetworkPathID,
			BandwidthLimitKbps: rule.BandwidthLimitKbps,
			LatencyEstimateMs:  latency,
			SuccessProbability: minSuccessProb + s.rng.Float64()*successSpread,
			DryRun:             true,
		})
	}

	summary := TestSummary{
		TotalPackets:   len(packets),
		MatchedPackets: len(results),
	}
	if len(results) > 0 {
		summary.AverageLatencyMs = latencySum / float64(len(results))
	}
	return results, summary
}

// SimulateRouting produces a scenario-level dry run for a source device.
// When an enabled rule matches the requested traffic type, its references
// name the reported routing path; otherwise a generic path is reported.
func (s *Simulator) SimulateRouting(sourceDevice, trafficTypeID string, durationSec int, rules []Rule, cat *Catalog) RoutingSimulation {
	if durationSec <= 0 {
		durationSec = 60
	}

	sim := RoutingSimulation{
		SourceDevice:   sourceDevice,
		TrafficType:    trafficTypeID,
		TestDuration:   durationSec,
		StartTime:      s.now(),
		DryRun:         true,
		PacketsRouted:  1000 + s.rng.Intn(10000),
		AverageLatency: 20 + s.rng.Float64()*50,
		ThroughputMbps: 50 + s.rng.Float64()*100,
		SuccessRate:    0.9 + s.rng.Float64()*0.1,
	}

	sim.RoutingPath = routingPath(trafficTypeID, rules, cat)
	return sim
}

// routingPath picks the first enabled rule for the traffic type (rules
// arrive priority-ascending) and renders its hops with display names.
func routingPath(trafficTypeID string, rules []Rule, cat *Catalog) []string {
	for _, r := range rules {
		if !r.IsEnabled {
			continue
		}
		if trafficTypeID != "" && r.TrafficTypeID != trafficTypeID {
			continue
		}

		var path []string
		if g, ok := cat.UserGroupByID(r.UserGroupID); ok {
			path = append(path, "User Group: "+g.GroupName)
		}
		if t, ok := cat.TrafficTypeByID(r.TrafficTypeID); ok {
			path = append(path, "Traffic Type: "+t.TypeName)
		}
		if p, ok := cat.NetworkPathByID(r.NetworkPathID); ok {
			path = append(path, "Network Path: "+p.PathName)
		}
		if t, ok := cat.TunnelByID(r.TunnelID); ok {
			path = append(path, "Tunnel: "+t.TunnelName)
		}
		if len(path) > 0 {
			return path
		}
	}
	return []string{"Network Path: default", "Tunnel: direct"}
}
