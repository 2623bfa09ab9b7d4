package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/javi11/plansync/internal/config"
	"github.com/javi11/plansync/internal/slogutil"
	"github.com/spf13/cobra"
)

var validateUserID string

func init() {
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Run one cache validation cycle and exit",
		Long:  `Run a single validation cycle against the backend, apply any invalidations, flush pending writes and exit. Useful from cron or for debugging.`,
		RunE:  runValidate,
	}

	validateCmd.Flags().StringVar(&validateUserID, "user", "", "user id to sign the session in as")
	_ = validateCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Default().Error("failed to load config", "err", err)
		return err
	}

	logger := slogutil.SetupLogRotation(cfg.Log)
	slog.SetDefault(logger)

	ctx := context.Background()

	eng, err := buildEngine(ctx, cfg, validateUserID)
	if err != nil {
		logger.Error("failed to build engine", "err", err)
		return err
	}
	defer func() {
		if err := eng.close(); err != nil {
			logger.Error("Failed to close engine cleanly", "err", err)
		}
	}()

	eng.coord.ValidateCache(ctx)

	stats := eng.images.Stats()
	fmt.Printf("Validation cycle complete\n")
	fmt.Printf("  cached activities:     %d\n", len(eng.activities.GetCurrentUserActivities()))
	fmt.Printf("  cached friends:        %d\n", len(eng.friendship.GetCurrentUserFriends()))
	fmt.Printf("  cached profiles:       %d\n", len(eng.profiles.GetViewedProfiles()))
	fmt.Printf("  cached images:         %d (%d bytes)\n", stats.EntryCount, stats.TotalBytes)

	return nil
}
