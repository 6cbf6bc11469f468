// Package bootstrap wires the shared runtime used by the API server, the
// settlement worker and the operator commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"editions/internal/cache"
	"editions/internal/config"
	"editions/internal/database"
	"editions/internal/jobs"
	"editions/internal/ledger"
	"editions/internal/middleware"
	"editions/internal/models"
	"editions/internal/notifications"
	"editions/internal/observability"
	"editions/internal/queue"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	// ServiceName labels traces.
	ServiceName string
	// SkipSchema opens the database without applying the schema policy.
	SkipSchema bool
}

// Runtime is the set of connections and stores every process shares.
type Runtime struct {
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Queue    *queue.Queue
	Ledger   *ledger.Ledger
	Notifier *notifications.Notifier
	Cache    *cache.Cache

	stopTracing func(context.Context) error
}

// InitRuntime connects to the database and Redis and registers the job types.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	middleware.InitMiddleware(cfg)

	stopTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    opts.ServiceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.TracingOTLPEndpoint,
		Insecure:       !cfg.IsProduction(),
		SamplerRatio:   cfg.TracingSampleRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("tracing init failed: %w", err)
	}

	db, err := database.ConnectWithOptions(cfg, database.ConnectOptions{ApplySchema: !opts.SkipSchema})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := observability.RegisterGormMetrics(db); err != nil {
		return nil, fmt.Errorf("gorm metrics: %w", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if err := ensureDevAdmin(ctx, cfg, db); err != nil {
		return nil, fmt.Errorf("failed to bootstrap development admin: %w", err)
	}

	q := queue.New(rdb, queue.Config{
		Prefix:       cfg.QueuePrefix,
		PollInterval: time.Duration(cfg.QueuePollIntervalMS) * time.Millisecond,
	})
	jobs.Register(q)

	return &Runtime{
		Config:      cfg,
		DB:          db,
		Redis:       rdb,
		Queue:       q,
		Ledger:      ledger.New(db),
		Notifier:    notifications.NewNotifier(rdb),
		Cache:       cache.New(rdb),
		stopTracing: stopTracing,
	}, nil
}

// Close flushes traces and releases connections.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.stopTracing != nil {
		errs = append(errs, r.stopTracing(ctx))
	}
	if r.Redis != nil {
		errs = append(errs, r.Redis.Close())
	}
	if r.DB != nil {
		if sqlDB, err := r.DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}

// ensureDevAdmin grants admin to DEV_ADMIN_EMAIL in development, creating
// the user if needed. Admin claims in tokens still come from the auth issuer.
func ensureDevAdmin(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	email := strings.TrimSpace(strings.ToLower(cfg.DevAdminEmail))
	if email == "" || !strings.EqualFold(cfg.Env, "development") {
		return nil
	}

	var user models.User
	err := db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = models.User{
			Username: strings.SplitN(email, "@", 2)[0],
			Email:    email,
			IsAdmin:  true,
		}
		if err := db.WithContext(ctx).Create(&user).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	case !user.IsAdmin:
		if err := db.WithContext(ctx).Model(&user).Update("is_admin", true).Error; err != nil {
			return err
		}
	}

	middleware.Logger.Info("development admin ensured",
		slog.Uint64("user_id", uint64(user.ID)), slog.String("email", email))
	return nil
}
