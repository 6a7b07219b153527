package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/timex"
	"github.com/redis/go-redis/v9"
)

// Tier is one backing store of the cache. Get reports a miss with ok=false
// and a nil error; any error means the tier is unavailable.
type Tier interface {
	Name() string
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// DeletePattern removes keys matching a glob such as "regions:t-1:*".
	DeletePattern(ctx context.Context, pattern string) error
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryTier is the in-process tier.
type MemoryTier struct {
	mu      sync.Mutex
	entries map[string]memEntry
	clock   timex.Clock
}

func NewMemoryTier(clock timex.Clock) *MemoryTier {
	if clock == nil {
		clock = timex.Now
	}
	return &MemoryTier{entries: make(map[string]memEntry), clock: clock}
}

func (t *MemoryTier) Name() string { return "memory" }

func (t *MemoryTier) Get(_ context.Context, key string) ([]byte, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !t.clock().Before(e.expiresAt) {
		delete(t.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (t *MemoryTier) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = memEntry{value: value, expiresAt: t.clock().Add(ttl)}
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, keys ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range keys {
		delete(t.entries, k)
	}
	return nil
}

func (t *MemoryTier) DeletePattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.entries {
		if ok, _ := path.Match(pattern, k); ok {
			delete(t.entries, k)
		}
	}
	return nil
}

// RedisTier is the shared tier.
type RedisTier struct {
	client redis.UniversalClient
	// scanCount is the COUNT hint for pattern deletes.
	scanCount int64
}

func NewRedisTier(client redis.UniversalClient) *RedisTier {
	return &RedisTier{client: client, scanCount: 100}
}

func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return t.client.Set(ctx, key, value, ttl).Err()
}

func (t *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return t.client.Del(ctx, keys...).Err()
}

func (t *RedisTier) DeletePattern(ctx context.Context, pattern string) error {
	iter := t.client.Scan(ctx, 0, pattern, t.scanCount).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if int64(len(batch)) >= t.scanCount {
			if err := t.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return t.Delete(ctx, batch...)
}
