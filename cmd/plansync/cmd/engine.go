package cmd

import (
	"context"
	"fmt"

	"github.com/javi11/plansync/internal/cache"
	"github.com/javi11/plansync/internal/config"
	"github.com/javi11/plansync/internal/coordinator"
	"github.com/javi11/plansync/internal/httpclient"
	"github.com/javi11/plansync/internal/imagecache"
	"github.com/javi11/plansync/internal/session"
	"github.com/javi11/plansync/internal/store"
	"github.com/javi11/plansync/internal/transport"
)

// engine bundles the wired cache system for the CLI commands.
type engine struct {
	session    *session.StaticSession
	store      *store.SQLiteStore
	activities *cache.ActivityService
	friendship *cache.FriendshipService
	profiles   *cache.ProfileService
	images     *imagecache.Cache
	coord      *coordinator.Coordinator
}

// buildEngine wires the full cache system from configuration. The caller owns
// shutdown via engine.close.
func buildEngine(ctx context.Context, cfg *config.Config, userID string) (*engine, error) {
	st, err := store.Open(store.Config{DatabasePath: cfg.Database.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open durable store: %w", err)
	}

	sess := session.NewStaticSession()
	if userID != "" {
		sess.SignIn(userID)
	}

	api := transport.New(transport.Config{
		BaseURL: cfg.API.BaseURL,
		APIKey:  cfg.API.APIKey,
		Client:  httpclient.New(httpclient.WithTimeout(cfg.GetAPITimeout())),
	})

	debounce := cfg.GetDebounceInterval()
	activities := cache.NewActivityService(sess, st, api, debounce)
	friendship := cache.NewFriendshipService(sess, st, api, debounce)
	profiles := cache.NewProfileService(sess, st, api, debounce)

	images, err := imagecache.New(imagecache.Options{
		Dir:              cfg.Images.Dir,
		Store:            st,
		MaxTotalBytes:    cfg.GetImageMaxTotalBytes(),
		MaxEntryAge:      cfg.GetImageMaxEntryAge(),
		DefaultMaxAge:    cfg.GetImageDefaultMaxAge(),
		FailureCooldown:  cfg.GetImageFailureCooldown(),
		RetryAttempts:    cfg.GetImageRetryAttempts(),
		RetryDelay:       cfg.GetImageRetryDelay(),
		MemoryEntries:    cfg.GetImageMemoryEntries(),
		DebounceInterval: debounce,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create image cache: %w", err)
	}

	coord := coordinator.New(sess, api, activities, friendship, profiles, images)
	coord.Initialize(ctx)

	return &engine{
		session:    sess,
		store:      st,
		activities: activities,
		friendship: friendship,
		profiles:   profiles,
		images:     images,
		coord:      coord,
	}, nil
}

// close flushes pending debounced writes and releases the store.
func (e *engine) close() error {
	e.coord.Flush()
	return e.store.Close()
}
