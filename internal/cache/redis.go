// Package cache provides the Redis client factory and the read-through cache
// used in front of ledger lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"editions/internal/middleware"
	"editions/internal/observability"

	"github.com/redis/go-redis/v9"
)

// errorHook counts failed commands by name. redis.Nil is a miss, not an error.
type errorHook struct{}

func countRedisError(err error, label string) {
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues(label).Inc()
	}
}

func (errorHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		countRedisError(err, "dial")
		return conn, err
	}
}

func (errorHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := next(ctx, cmd)
		countRedisError(err, cmd.Name())
		return err
	}
}

func (errorHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := next(ctx, cmds)
		countRedisError(err, "pipeline")
		return err
	}
}

// Connect opens a client for addr, which is either a redis:// URL or a bare
// host:port, and pings it. The job queue cannot run without Redis, so an
// unreachable server is an error.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL %q: %w", addr, err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opts)
	client.AddHook(errorHook{})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	middleware.Logger.Info("redis connected", slog.String("addr", opts.Addr))
	return client, nil
}
