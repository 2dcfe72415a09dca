package traffic

import (
	"sort"
	"time"
)

// DefaultLinkCapacityMbps is the fixed link capacity used for the
// utilization ratio display.
const DefaultLinkCapacityMbps = 1000.0

// TopRuleCount is how many rules the top-matched report includes.
const TopRuleCount = 10

// Overview holds whole-rule-set counters.
type Overview struct {
	TotalRules          int   `json:"totalRules"`
	ActiveRules         int   `json:"activeRules"`
	TestingRules        int   `json:"testingRules"`
	TotalPacketsMatched int64 `json:"totalPacketsMatched"`
	TotalBytesMatched   int64 `json:"totalBytesMatched"`
}

// TopRule is one entry of the top-matched report.
type TopRule struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	PacketsMatched int64      `json:"packetsMatched"`
	BytesMatched   int64      `json:"bytesMatched"`
	LastMatched    *time.Time `json:"lastMatched,omitempty"`
}

// BandwidthSummary compares configured bandwidth against link capacity.
type BandwidthSummary struct {
	LinkCapacityMbps float64 `json:"total"`
	AllocatedMbps    float64 `json:"allocated"`
	Utilization      float64 `json:"utilization"`
}

// Statistics is the aggregated reporting view over the rule set.
type Statistics struct {
	Overview  Overview         `json:"overview"`
	TopRules  []TopRule        `json:"topRules"`
	Bandwidth BandwidthSummary `json:"bandwidth"`
	TimeRange string           `json:"timeRange,omitempty"`
}

// Aggregate rolls up persisted match/byte counters across the rule set.
// Ties in the top-rules report keep store order (stable sort).
func Aggregate(rules []Rule, linkCapacityMbps float64) Statistics {
	if linkCapacityMbps <= 0 {
		linkCapacityMbps = DefaultLinkCapacityMbps
	}

	stats := Statistics{
		TopRules: []TopRule{},
	}
	stats.Overview.TotalRules = len(rules)

	var allocatedKbps float64
	for _, r := range rules {
		if r.IsEnabled {
			stats.Overview.ActiveRules++
		}
		if r.IsTesting {
			stats.Overview.TestingRules++
		}
		stats.Overview.TotalPacketsMatched += r.PacketsMatched
		stats.Overview.TotalBytesMatched += r.BytesMatched
		if r.BandwidthLimitKbps != nil {
			allocatedKbps += *r.BandwidthLimitKbps
		}
	}

	ranked := make([]Rule, len(rules))
	copy(ranked, rules)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].PacketsMatched > ranked[j].PacketsMatched
	})
	for i, r := range ranked {
		if i >= TopRuleCount {
			break
		}
		stats.TopRules = append(stats.TopRules, TopRule{
			ID:             r.ID,
			Name:           r.Name,
			PacketsMatched: r.PacketsMatched,
			BytesMatched:   r.BytesMatched,
			LastMatched:    r.LastMatchedAt,
		})
	}

	stats.Bandwidth = BandwidthSummary{
		LinkCapacityMbps: linkCapacityMbps,
		AllocatedMbps:    allocatedKbps / 1000,
		Utilization:      (allocatedKbps / 1000) / linkCapacityMbps,
	}
	return stats
}
