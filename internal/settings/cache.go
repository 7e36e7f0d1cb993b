// Package settings caches the host settings snapshot for a short TTL.
package settings

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mmcdole/kiosk/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL  = 30 * time.Second
	snapshotKey = "settings"
)

// Cache fronts a slow SettingsSource. Within the TTL reads are served from
// memory. After it, the last snapshot is returned immediately while a single
// background refresh runs; only the very first read blocks.
type Cache struct {
	source domain.SettingsSource
	items  *ttlcache.Cache[string, domain.Settings]
	group  singleflight.Group
	logger *slog.Logger

	mu      sync.Mutex
	last    domain.Settings
	hasLast bool

	refreshing atomic.Bool
	loads      atomic.Int64
}

var _ domain.SettingsSource = (*Cache)(nil)

// New creates a settings cache. ttl <= 0 means DefaultTTL.
func New(source domain.SettingsSource, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source: source,
		items: ttlcache.New[string, domain.Settings](
			ttlcache.WithTTL[string, domain.Settings](ttl),
			ttlcache.WithDisableTouchOnHit[string, domain.Settings](),
		),
		logger: logger,
	}
}

// Settings returns the current snapshot.
func (c *Cache) Settings(ctx context.Context) (domain.Settings, error) {
	if item := c.items.Get(snapshotKey); item != nil {
		return item.Value(), nil
	}

	c.mu.Lock()
	last, hasLast := c.last, c.hasLast
	c.mu.Unlock()

	if hasLast {
		c.refreshAsync()
		return last, nil
	}

	ch := c.group.DoChan(snapshotKey, func() (any, error) {
		return c.load(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.Settings{}, res.Err
		}
		return res.Val.(domain.Settings), nil
	case <-ctx.Done():
		return domain.Settings{}, ctx.Err()
	}
}

func (c *Cache) refreshAsync() {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.refreshing.Store(false)
		_, err, _ := c.group.Do(snapshotKey, func() (any, error) {
			return c.load(context.Background())
		})
		if err != nil {
			c.logger.Warn("settings refresh failed, keeping last snapshot", "error", err)
		}
	}()
}

func (c *Cache) load(ctx context.Context) (domain.Settings, error) {
	c.loads.Add(1)
	s, err := c.source.Settings(ctx)
	if err != nil {
		return domain.Settings{}, err
	}

	c.items.Set(snapshotKey, s, ttlcache.DefaultTTL)
	c.mu.Lock()
	c.last, c.hasLast = s, true
	c.mu.Unlock()
	return s, nil
}

// Invalidate forgets the snapshot so the next read blocks on a fresh one.
func (c *Cache) Invalidate() {
	c.items.Delete(snapshotKey)
	c.mu.Lock()
	c.last, c.hasLast = domain.Settings{}, false
	c.mu.Unlock()
}

// Loads reports how many times the source has been consulted.
func (c *Cache) Loads() int64 {
	return c.loads.Load()
}
