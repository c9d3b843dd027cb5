// Package app wires configuration into the progress tracker, the
// reconciliation engine and their backing stores. The server and the
// admin CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/p-n-ai/pai-progress/internal/gamification"
	"github.com/p-n-ai/pai-progress/internal/learning"
	"github.com/p-n-ai/pai-progress/internal/notify"
	"github.com/p-n-ai/pai-progress/internal/platform/cache"
	"github.com/p-n-ai/pai-progress/internal/platform/config"
	"github.com/p-n-ai/pai-progress/internal/platform/database"
	"github.com/p-n-ai/pai-progress/internal/progress"
	"github.com/p-n-ai/pai-progress/internal/reconcile"
)

// App holds the wired components. DB is nil in memory mode and Cache is
// nil when no cache URL is configured.
type App struct {
	Config  *config.Config
	Store   progress.Store
	Source  learning.Source
	Tracker *progress.Tracker
	Engine  *reconcile.Engine
	Hub     *notify.Hub
	DB      *database.DB
	Cache   *cache.Cache

	bus *notify.RedisBus
}

// New connects the configured backends and builds the tracker and the
// reconciliation engine. The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, Hub: notify.NewHub(0)}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	badges, err := gamification.LoadBadgeTable(cfg.Progress.BadgesPath)
	if err != nil {
		return nil, err
	}

	switch cfg.Progress.StoreMode {
	case "memory":
		a.Store = progress.NewMemoryStore()
		if cfg.Progress.SeedPath == "" {
			a.Source = learning.NewMemorySource()
		} else if a.Source, err = learning.LoadSeed(cfg.Progress.SeedPath); err != nil {
			return nil, err
		}
		slog.Warn("using in-memory progress store; data is lost on restart")
	default:
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		a.DB = db
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		if a.Store, err = progress.NewPostgresStore(db.Pool); err != nil {
			a.Close()
			return nil, err
		}
		if a.Source, err = learning.NewPostgresSource(db.Pool); err != nil {
			a.Close()
			return nil, err
		}
	}

	tcfg := progress.TrackerConfig{
		Store:          a.Store,
		Source:         a.Source,
		Badges:         badges,
		Location:       loc,
		RequestTimeout: cfg.RequestTimeout(),
		Notifier:       a.Hub,
		Quota:          progress.NewMemoryQuota(cfg.Progress.CommentDailyCap),
	}

	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connecting to cache: %w", err)
		}
		a.Cache = c
		a.bus = notify.NewRedisBus(c, cfg.Notify.Channel)
		tcfg.Locker = cache.NewLocker(c, cfg.LockTTL())
		tcfg.Quota = cache.NewCommentQuota(c, cfg.Progress.CommentDailyCap)
		tcfg.Notifier = a.bus
		slog.Info("cache connected; locks, quotas and notifications are shared")
	}

	if a.Tracker, err = progress.NewTracker(tcfg); err != nil {
		a.Close()
		return nil, err
	}

	var limiter *rate.Limiter
	if r := cfg.Reconcile.RatePerSecond; r > 0 {
		limiter = rate.NewLimiter(rate.Limit(r), 1)
	}
	a.Engine, err = reconcile.New(reconcile.Config{
		Store:   a.Store,
		Source:  a.Source,
		Locker:  a.Tracker.Locker(),
		Workers: cfg.Reconcile.Workers,
		Limiter: limiter,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// ForwardNotifications relays notifications published by any instance
// to this instance's Hub until ctx is done. Without a cache the tracker
// already notifies the Hub directly.
func (a *App) ForwardNotifications(ctx context.Context) error {
	if a.bus == nil {
		return nil
	}
	return a.bus.Forward(ctx, a.Hub)
}

// Ready reports whether every configured backend answers.
func (a *App) Ready(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := a.DB.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close releases backend connections.
func (a *App) Close() {
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			slog.Warn("closing cache", "error", err)
		}
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
