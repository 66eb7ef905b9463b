package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revoker remembers logged-out session ids until their tokens expire.
type Revoker interface {
	Revoke(ctx context.Context, sessionID string, until time.Time) error
	Revoked(ctx context.Context, sessionID string) (bool, error)
}

// MemoryRevoker keeps revocations in process memory.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryRevoker creates an empty revocation list.
func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke marks sessionID revoked until the given time.
func (r *MemoryRevoker) Revoke(_ context.Context, sessionID string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for id, exp := range r.revoked {
		if now.After(exp) {
			delete(r.revoked, id)
		}
	}
	r.revoked[sessionID] = until
	return nil
}

// Revoked reports whether sessionID is revoked.
func (r *MemoryRevoker) Revoked(_ context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	exp, ok := r.revoked[sessionID]
	return ok && !r.now().After(exp), nil
}

// RedisRevoker stores revocations as expiring Redis keys.
type RedisRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisRevoker creates a revoker using keys under prefix.
func NewRedisRevoker(client *redis.Client, prefix string) *RedisRevoker {
	if prefix == "" {
		prefix = "facescan:revoked:"
	}
	return &RedisRevoker{client: client, prefix: prefix}
}

// Revoke sets a key that expires with the session's last token.
func (r *RedisRevoker) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.prefix+sessionID, 1, ttl).Err()
}

// Revoked reports whether the key exists.
func (r *RedisRevoker) Revoked(ctx context.Context, sessionID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+sessionID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
