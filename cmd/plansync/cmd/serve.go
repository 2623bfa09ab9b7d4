package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/javi11/plansync/internal/config"
	"github.com/javi11/plansync/internal/scheduler"
	"github.com/javi11/plansync/internal/slogutil"
	"github.com/spf13/cobra"
)

var serveUserID string

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the cache engine with periodic validation",
		Long:  `Run the cache engine: load durable state, start the periodic validation scheduler and keep caches synchronized until interrupted.`,
		RunE:  runServe,
	}

	serveCmd.Flags().StringVar(&serveUserID, "user", "", "user id to sign the session in as")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	logger.Info("Starting PlanSync engine",
		"api_base_url", cfg.API.BaseURL,
		"database", cfg.Database.Path,
		"validate_interval", cfg.GetValidateInterval(),
		"debounce_interval", cfg.GetDebounceInterval())

	configManager := config.NewManager(cfg, configFile)

	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		logger.Info("Configuration updated")

		if oldConfig.Cache.ValidateInterval != newConfig.Cache.ValidateInterval {
			logger.Info("Validation interval changed (restart required)",
				"old", oldConfig.GetValidateInterval(),
				"new", newConfig.GetValidateInterval())
		}
		if oldConfig.Database.Path != newConfig.Database.Path {
			logger.Info("Database path changed (restart required)",
				"old", oldConfig.Database.Path,
				"new", newConfig.Database.Path)
		}
	})

	// Log level changes apply without a restart
	configManager.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			slogutil.ApplyLogLevel(newConfig.Log.Level)
			logger.Info("Log level updated dynamically",
				"old_level", oldConfig.Log.Level,
				"new_level", newConfig.Log.Level)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := buildEngine(ctx, cfg, serveUserID)
	if err != nil {
		logger.Error("failed to build engine", "err", err)
		return err
	}
	defer func() {
		if err := eng.close(); err != nil {
			logger.Error("Failed to close engine cleanly", "err", err)
		}
	}()

	sched := scheduler.New(eng.coord, func() time.Duration {
		return configManager.GetConfig().GetValidateInterval()
	})
	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "err", err)
		return err
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-ctx.Done():
	case <-sigChan:
	}

	sched.Stop()

	logger.Info("PlanSync engine shutting down gracefully")
	return nil
}
