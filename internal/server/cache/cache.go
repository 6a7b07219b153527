// Package cache is the two-tier read-through cache in front of the region
// store: a shared Redis tier with an in-process fallback.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cseek11/VeroSuite-sub002/internal/logging"
	"github.com/cseek11/VeroSuite-sub002/internal/timex"
	"golang.org/x/sync/singleflight"
)

// DefaultStaleRatio is the fraction of the TTL after which GetSWR refreshes.
const DefaultStaleRatio = 0.8

// Loader produces the value for a missing key. A nil value is returned to the
// caller but not cached.
type Loader func(ctx context.Context) (any, error)

// entry is what the tiers store.
type entry struct {
	StoredAt time.Time       `json:"storedAt"`
	Data     json.RawMessage `json:"data"`
}

type Options struct {
	TTL        time.Duration
	StaleRatio float64
	Clock      timex.Clock
}

// Cache reads the shared tier first and falls back to the local tier when the
// shared one misses or fails. Writes go to the shared tier, or to the local
// one when the shared tier is unavailable. Invalidation hits both.
type Cache struct {
	shared Tier
	local  Tier
	ttl    time.Duration
	stale  float64
	clock  timex.Clock
	log    logging.Logger
	group  singleflight.Group

	// gen is bumped by every write and invalidation. A load only stores its
	// result when gen has not moved since the load began.
	genMu sync.RWMutex
	gen   uint64
}

// New builds a Cache. shared may be nil.
func New(shared, local Tier, opts Options, log logging.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.StaleRatio <= 0 || opts.StaleRatio > 1 {
		opts.StaleRatio = DefaultStaleRatio
	}
	if opts.Clock == nil {
		opts.Clock = timex.Now
	}
	if local == nil {
		local = NewMemoryTier(opts.Clock)
	}
	if log == nil {
		log = logging.Nop{}
	}
	return &Cache{
		shared: shared,
		local:  local,
		ttl:    opts.TTL,
		stale:  opts.StaleRatio,
		clock:  opts.Clock,
		log:    log.With("module", "cache"),
	}
}

// Key namespaces key under prefix.
func Key(prefix, key string) string {
	return prefix + ":" + key
}

func (c *Cache) tiers() []Tier {
	if c.shared == nil {
		return []Tier{c.local}
	}
	return []Tier{c.shared, c.local}
}

func (c *Cache) lookup(ctx context.Context, key string) (*entry, bool) {
	for _, t := range c.tiers() {
		raw, ok, err := t.Get(ctx, key)
		if err != nil {
			c.log.Warn(ctx, "cache tier unavailable", "tier", t.Name(), "op", "get", "key", key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.log.Warn(ctx, "dropping undecodable cache entry", "tier", t.Name(), "key", key, "error", err)
			_ = t.Delete(ctx, key)
			continue
		}
		return &e, true
	}
	return nil, false
}

func (c *Cache) generation() uint64 {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	return c.gen
}

func (c *Cache) bump() {
	c.genMu.Lock()
	c.gen++
	c.genMu.Unlock()
}

// storeIfCurrent is store for a loaded value: it is dropped when anything was
// written or invalidated after gen was read.
func (c *Cache) storeIfCurrent(ctx context.Context, key string, data json.RawMessage, ttl time.Duration, gen uint64) {
	c.genMu.RLock()
	defer c.genMu.RUnlock()
	if c.gen != gen {
		c.log.Debug(ctx, "dropping cache fill raced by invalidation", "key", key)
		return
	}
	c.store(ctx, key, data, ttl)
}

// store writes to the first tier that accepts the value.
func (c *Cache) store(ctx context.Context, key string, data json.RawMessage, ttl time.Duration) {
	raw, err := json.Marshal(entry{StoredAt: c.clock(), Data: data})
	if err != nil {
		c.log.Error(ctx, "encode cache entry", "key", key, "error", err)
		return
	}
	for _, t := range c.tiers() {
		if err := t.Set(ctx, key, raw, ttl); err != nil {
			c.log.Warn(ctx, "cache tier unavailable", "tier", t.Name(), "op", "set", "key", key, "error", err)
			continue
		}
		return
	}
}

func (c *Cache) load(ctx context.Context, key string, ttl time.Duration, fn Loader) (json.RawMessage, error) {
	if fn == nil {
		return nil, nil
	}
	gen := c.generation()
	v, err := fn(ctx)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode cached value: %w", err)
	}
	c.storeIfCurrent(ctx, key, data, ttl, gen)
	return data, nil
}

func (c *Cache) ttlOr(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.ttl
	}
	return ttl
}

// Get returns the cached JSON for key, invoking fn on a miss in both tiers.
// A nil result with a nil error means fn found nothing.
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration, fn Loader) (json.RawMessage, error) {
	if e, ok := c.lookup(ctx, key); ok {
		return e.Data, nil
	}
	return c.load(ctx, key, c.ttlOr(ttl), fn)
}

// GetSWR behaves like Get but, once an entry is older than the stale ratio of
// ttl, serves it and refreshes it in the background. Concurrent refreshes of
// one key collapse into one load.
func (c *Cache) GetSWR(ctx context.Context, key string, ttl time.Duration, fn Loader) (json.RawMessage, error) {
	ttl = c.ttlOr(ttl)
	e, ok := c.lookup(ctx, key)
	if !ok {
		return c.load(ctx, key, ttl, fn)
	}
	age := c.clock().Sub(e.StoredAt)
	if fn != nil && age >= time.Duration(float64(ttl)*c.stale) {
		refreshCtx := context.WithoutCancel(ctx)
		c.group.DoChan(key, func() (any, error) {
			data, err := c.load(refreshCtx, key, ttl, fn)
			if err != nil {
				c.log.Warn(refreshCtx, "background cache refresh failed", "key", key, "error", err)
			}
			return data, err
		})
	}
	return e.Data, nil
}

// Set writes value through to the available tier.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached value: %w", err)
	}
	c.bump()
	c.store(ctx, key, data, c.ttlOr(ttl))
	return nil
}

// Delete removes keys from both tiers.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	c.bump()
	for _, t := range c.tiers() {
		if err := t.Delete(ctx, keys...); err != nil {
			c.log.Warn(ctx, "cache tier unavailable", "tier", t.Name(), "op", "delete", "error", err)
		}
	}
}

// InvalidatePattern removes every key matching pattern from both tiers.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) {
	c.bump()
	for _, t := range c.tiers() {
		if err := t.DeletePattern(ctx, pattern); err != nil {
			c.log.Warn(ctx, "cache tier unavailable", "tier", t.Name(), "op", "delete_pattern", "pattern", pattern, "error", err)
		}
	}
}

// Fetch is Get decoded into T. found is false when the loader found nothing.
func Fetch[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn Loader) (v T, found bool, err error) {
	return decode[T](c.Get(ctx, key, ttl, fn))
}

// FetchSWR is GetSWR decoded into T.
func FetchSWR[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, fn Loader) (v T, found bool, err error) {
	return decode[T](c.GetSWR(ctx, key, ttl, fn))
}

func decode[T any](data json.RawMessage, err error) (v T, found bool, _ error) {
	if err != nil || data == nil {
		return v, false, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, false, fmt.Errorf("decode cached value: %w", err)
	}
	return v, true, nil
}
