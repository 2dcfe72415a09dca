package traffic

import "fmt"

// Node key prefixes, one per entity rank.
const (
	prefixUserGroup   = "ug"
	prefixTrafficType = "tt"
	prefixNetworkPath = "np"
	prefixTunnel      = "t"
)

// Fixed x columns per entity kind. Hops only go forward through the four
// ranks, so a cycle is impossible and no cycle detection is needed.
var columnX = map[string]int{
	prefixUserGroup:   100,
	prefixTrafficType: 300,
	prefixNetworkPath: 500,
	prefixTunnel:      700,
}

const rowSpacing = 100

// Position is a layout hint for visualization.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// FlowNode is one entity in the derived routing topology.
type FlowNode struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
}

// FlowEdge is one adjacent hop contributed by a single rule.
type FlowEdge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label"`
	Animated bool   `json:"animated"`
}

// FlowGraph is a point-in-time projection of a rule set. It is a snapshot:
// later rule mutations do not affect a graph already built.
type FlowGraph struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// FlowFilter optionally narrows the rule set before graph construction.
type FlowFilter struct {
	UserGroupID   string
	TrafficTypeID string
}

// BuildFlow projects rules into a directed graph
// (group → traffic type → path → tunnel) for topology visualization.
// Rules are expected in priority-ascending store order; nodes are emitted
// once per distinct entity, deduplicated by prefixed key, so the node set is
// stable under input reordering.
func BuildFlow(rules []Rule, filter FlowFilter) *FlowGraph {
	graph := &FlowGraph{
		Nodes: []FlowNode{},
		Edges: []FlowEdge{},
	}

	seen := make(map[string]bool)
	row := 0

	addNode := func(prefix, id, kind, label string) string {
		key := fmt.Sprintf("%s_%s", prefix, id)
		if id == "" || seen[key] {
			return key
		}
		graph.Nodes = append(graph.Nodes, FlowNode{
			ID:    key,
			Type:  kind,
			Label: label,
			Position: Position{
				X: columnX[prefix],
				Y: row * rowSpacing,
			},
		})
		seen[key] = true
		row++
		return key
	}

	for _, rule := range rules {
		if filter.UserGroupID != "" && rule.UserGroupID != filter.UserGroupID {
			continue
		}
		if filter.TrafficTypeID != "" && rule.TrafficTypeID != filter.TrafficTypeID {
			continue
		}

		ugKey := addNode(prefixUserGroup, rule.UserGroupID, "userGroup",
			fmt.Sprintf("User Group %s", rule.UserGroupID))
		ttKey := addNode(prefixTrafficType, rule.TrafficTypeID, "trafficType",
			fmt.Sprintf("Traffic Type %s", rule.TrafficTypeID))
		npKey := addNode(prefixNetworkPath, rule.NetworkPathID, "networkPath",
			fmt.Sprintf("Path %s", rule.NetworkPathID))
		tKey := addNode(prefixTunnel, rule.TunnelID, "tunnel",
			fmt.Sprintf("Tunnel %s", rule.TunnelID))

		// Up to three edges per rule, one per adjacent hop present.
		if rule.UserGroupID != "" && rule.TrafficTypeID != "" {
			graph.Edges = append(graph.Edges, FlowEdge{
				ID:       fmt.Sprintf("edge_%s_ug_tt", rule.ID),
				Source:   ugKey,
				Target:   ttKey,
				Label:    rule.Name,
				Animated: rule.IsEnabled,
			})
		}
		if rule.TrafficTypeID != "" && rule.NetworkPathID != "" {
			graph.Edges = append(graph.Edges, FlowEdge{
				ID:       fmt.Sprintf("edge_%s_tt_np", rule.ID),
				Source:   ttKey,
				Target:   npKey,
				Label:    string(rule.Action),
				Animated: rule.IsEnabled,
			})
		}
		if rule.NetworkPathID != "" && rule.TunnelID != "" {
			graph.Edges = append(graph.Edges, FlowEdge{
				ID:       fmt.Sprintf("edge_%s_np_t", rule.ID),
				Source:   npKey,
				Target:   tKey,
				Label:    bandwidthLabel(rule.BandwidthLimitKbps),
				Animated: rule.IsEnabled,
			})
		}
	}

	return graph
}

func bandwidthLabel(kbps *float64) string {
	if kbps == nil || *kbps <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%.0f kbps", *kbps)
}
