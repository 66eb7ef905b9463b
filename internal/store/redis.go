package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the client shared by the detection queue and the session
// revocation list.
type Redis struct {
	Client *redis.Client
}

// Options builds client options from a host:port address or a
// redis:// URL (password and db included).
func Options(addr string) (*redis.Options, error) {
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 6 * time.Second // above the queue's 5s BRPOP block
	opts.WriteTimeout = 1 * time.Second
	return opts, nil
}

// NewRedis creates a client for addr, see Options.
func NewRedis(addr string) (*Redis, error) {
	opts, err := Options(addr)
	if err != nil {
		return nil, err
	}
	return &Redis{Client: redis.NewClient(opts)}, nil
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// WaitReady pings until redis answers or ctx ends.
func (r *Redis) WaitReady(ctx context.Context, every time.Duration) error {
	for {
		err := r.Client.Ping(ctx).Err()
		if err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("redis not ready: %w", err)
		case <-time.After(every):
		}
	}
}

// Close closes the client; a nil Redis is a no-op.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
