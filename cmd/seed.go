package cmd

import (
	"fmt"

	"github.com/Ea2601/pi5supernode/internal/store"
	"github.com/Ea2601/pi5supernode/internal/traffic"
)

// RunSeed populates the option catalog with a default set of user groups,
// traffic types, network paths, and tunnels so a fresh install has something
// to route with.
func RunSeed(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	ruleStore, err := store.Open(cfg.Storage.RulesDB, nil)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer ruleStore.Close()

	groups := []traffic.UserGroup{
		{GroupName: "Admins", Description: "Administrative devices", ColorCode: "#e74c3c", Priority: 10, IsActive: true},
		{GroupName: "Family", Description: "Household devices", ColorCode: "#3498db", Priority: 50, IsActive: true},
		{GroupName: "Guests", Description: "Guest network clients", ColorCode: "#95a5a6", Priority: 100, IsActive: true},
		{GroupName: "IoT", Description: "Smart home devices", ColorCode: "#f39c12", Priority: 200, IsActive: true},
	}

	types := []traffic.TrafficType{
		{TypeName: "Web", Category: "browsing", Description: "HTTP and HTTPS traffic", BandwidthPriority: 50, IsActive: true},
		{TypeName: "Video Streaming", Category: "streaming", Description: "Netflix, YouTube, Twitch", BandwidthPriority: 70, IsActive: true},
		{TypeName: "VoIP", Category: "realtime", Description: "Voice and video calls", BandwidthPriority: 90, IsActive: true},
		{TypeName: "Gaming", Category: "realtime", Description: "Online gaming traffic", BandwidthPriority: 80, IsActive: true},
		{TypeName: "Downloads", Category: "bulk", Description: "Large file transfers", BandwidthPriority: 20, IsActive: true},
	}

	paths := []traffic.NetworkPath{
		{PathName: "Primary WAN", PathType: "wan", Description: "Main fiber uplink", ReliabilityScore: 0.99, IsActive: true},
		{PathName: "Backup LTE", PathType: "lte", Description: "Failover cellular link", ReliabilityScore: 0.92, IsActive: true},
	}

	tunnels := []traffic.Tunnel{
		{TunnelName: "Direct", TunnelType: "none", Description: "No tunnel, direct egress", Status: "up", PingMs: 5, IsActive: true},
		{TunnelName: "WireGuard Home", TunnelType: "wireguard", Description: "Site-to-site home VPN", Status: "up", PingMs: 18, IsActive: true},
		{TunnelName: "Privacy VPN", TunnelType: "wireguard", Description: "Commercial privacy exit", Status: "up", PingMs: 32, IsActive: true},
	}

	var count int
	for _, g := range groups {
		if _, err := ruleStore.UpsertUserGroup(g); err != nil {
			return fmt.Errorf("seed user group %q: %w", g.GroupName, err)
		}
		count++
	}
	for _, t := range types {
		if _, err := ruleStore.UpsertTrafficType(t); err != nil {
			return fmt.Errorf("seed traffic type %q: %w", t.TypeName, err)
		}
		count++
	}
	for _, p := range paths {
		if _, err := ruleStore.UpsertNetworkPath(p); err != nil {
			return fmt.Errorf("seed network path %q: %w", p.PathName, err)
		}
		count++
	}
	for _, t := range tunnels {
		if _, err := ruleStore.UpsertTunnel(t); err != nil {
			return fmt.Errorf("seed tunnel %q: %w", t.TunnelName, err)
		}
		count++
	}

	fmt.Printf("Seeded %d catalog records into %s\n", count, cfg.Storage.RulesDB)
	return nil
}
