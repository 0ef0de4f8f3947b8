// Shepherd Console backend: session-state coordinator between the desktop
// GUI and the external Shepherd orchestrator.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shepherdhq/console/pkg/config"
	"github.com/shepherdhq/console/pkg/dashboard"
	"github.com/shepherdhq/console/pkg/db"
	"github.com/shepherdhq/console/pkg/export"
	"github.com/shepherdhq/console/pkg/orchestrator"
	"github.com/shepherdhq/console/pkg/session"
	"github.com/shepherdhq/console/pkg/utils"
)

func main() {
	utils.InitLogger()
	logger := utils.GetLogger()

	if _, err := config.EnsureDefaultConfig(); err != nil {
		logger.Warn("Failed to write default config", "error", err)
	}
	cfg, cfgPath, err := config.Load()
	if err != nil {
		logger.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Info("Loaded config", "path", cfgPath, "orchestrator", cfg.OrchestratorURL())

	configDir, _, err := config.DefaultPaths()
	if err != nil {
		logger.Error("Failed to resolve config dir", "error", err)
		os.Exit(1)
	}
	database, err := db.Open(filepath.Join(configDir, "console.db"))
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}

	client := orchestrator.NewClient(cfg.OrchestratorURL(), cfg.OrchestratorTimeout())

	store, err := session.NewStore(session.Options{
		API: client,
		DB:  database,
		Thresholds: session.Thresholds{
			WarningPercent:  cfg.WarningPercent(),
			CriticalPercent: cfg.CriticalPercent(),
		},
		HistoryCap: cfg.HistoryCapacity(),
	})
	if err != nil {
		logger.Error("Failed to build session store", "error", err)
		os.Exit(1)
	}

	exports := export.NewQueue(export.QueueOptions{
		Source:     dashboard.Source(store),
		OutputDir:  cfg.ExportOutputDir(),
		JobTimeout: cfg.ExportJobTimeout(),
		MaxWorkers: cfg.ExportWorkers(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed the registry in the background; a dead orchestrator keeps the
	// persisted list usable.
	go store.RefreshConversations(ctx)

	refresher, err := session.StartRefresher(store, cfg.RefreshInterval())
	if err != nil {
		logger.Error("Failed to start usage refresher", "error", err)
		os.Exit(1)
	}
	defer refresher.Stop()

	flows := orchestrator.NewFlowSubscriber(cfg.OrchestratorURL(), nil)
	flows.Start(ctx)
	defer flows.Stop()

	server := NewServer(cfg.Host(), cfg.Port(), store, exports)
	if err := server.Start(ctx); err != nil {
		logger.Error("Failed to start server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Shutting down")
}
