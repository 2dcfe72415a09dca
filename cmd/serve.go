// Package cmd implements the supernode subcommands.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/Ea2601/pi5supernode/internal/api"
	"github.com/Ea2601/pi5supernode/internal/audit"
	"github.com/Ea2601/pi5supernode/internal/config"
	"github.com/Ea2601/pi5supernode/internal/events"
	"github.com/Ea2601/pi5supernode/internal/logging"
	"github.com/Ea2601/pi5supernode/internal/notification"
	"github.com/Ea2601/pi5supernode/internal/store"
)

// Version is the build version, overridden at link time.
var Version = "dev"

// auditPruneInterval is how often expired audit events are removed.
const auditPruneInterval = 24 * time.Hour

// loadConfig reads the config file, falling back to defaults when the file
// does not exist.
func loadConfig(configFile string) (*config.Config, error) {
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.LoadFile(configFile)
}

// RunCheck validates the configuration file.
func RunCheck(configFile string) error {
	_, err := config.LoadFile(configFile)
	return err
}

// RunServe starts the rule engine daemon and blocks until shutdown.
func RunServe(configFile string) error {
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	logging.SetDefault(logger)
	logger.Info("starting supernode", "version", Version, "config", configFile)

	ruleStore, err := store.Open(cfg.Storage.RulesDB, nil)
	if err != nil {
		return fmt.Errorf("open rule store: %w", err)
	}
	defer ruleStore.Close()

	auditStore, err := audit.NewStore(cfg.Storage.AuditDB, cfg.Storage.AuditRetentionDays, nil)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer auditStore.Close()

	hub := events.NewHub()

	auditAdapter := events.NewAuditAdapter(hub, auditStore)
	auditAdapter.Start()
	defer auditAdapter.Stop()

	dispatcher := notification.NewDispatcher(cfg.Notifications, logger.WithComponent("notification"))
	notifyAdapter := events.NewNotificationAdapter(hub, dispatcher)
	notifyAdapter.Start()
	defer notifyAdapter.Stop()

	server := api.NewServer(api.ServerOptions{
		Config:     cfg,
		Store:      ruleStore,
		AuditStore: auditStore,
		Hub:        hub,
		Logger:     logger.WithComponent("api"),
	})

	wsBridge := events.NewWSBridge(hub, server.WSPublisher())
	wsBridge.Start()
	defer wsBridge.Stop()

	// Periodic audit retention enforcement.
	pruneStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(auditPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pruneStop:
				return
			case <-ticker.C:
				if n, err := auditStore.Prune(); err != nil {
					logger.Warn("audit prune failed", "error", err)
				} else if n > 0 {
					logger.Info("pruned audit events", "count", n)
				}
			}
		}
	}()
	defer close(pruneStop)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func buildLogger(cfg *config.Config) *logging.Logger {
	logCfg := logging.Config{
		Output: os.Stderr,
		JSON:   cfg.Logging != nil && cfg.Logging.Format == "json",
	}

	level := "info"
	if cfg.Logging != nil && cfg.Logging.Level != "" {
		level = cfg.Logging.Level
	}
	switch level {
	case "debug":
		logCfg.Level = slog.LevelDebug
	case "warn":
		logCfg.Level = slog.LevelWarn
	case "error":
		logCfg.Level = slog.LevelError
	default:
		logCfg.Level = slog.LevelInfo
	}

	return logging.New(logCfg)
}
