// Package catalog caches the full catalog in memory and in the durable store,
// with lookup indexes by image id and game id.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL = time.Hour

	// DefaultDegradedTTL bounds how long an empty or stale fallback snapshot
	// is served before sources are tried again.
	DefaultDegradedTTL = 5 * time.Minute
)

// RemoteSource is the part of the remote adapter the cache needs.
type RemoteSource interface {
	FetchCatalog(ctx context.Context) (*domain.CatalogSnapshot, error)
	LastModified(ctx context.Context) (string, error)
}

// LocalSource is the part of the local dataset adapter the cache needs.
type LocalSource interface {
	ReadCatalog(ctx context.Context, root, manifest string) (*domain.CatalogSnapshot, error)
}

// Options tunes freshness.
type Options struct {
	TTL         time.Duration
	DegradedTTL time.Duration
	Now         func() time.Time
}

// Cache owns the installed catalog snapshot and its indexes.
type Cache struct {
	settings domain.SettingsSource
	remote   RemoteSource
	local    LocalSource
	kv       domain.KVStore
	opts     Options
	logger   *slog.Logger

	group singleflight.Group

	mu         sync.Mutex
	state      *state
	last       domain.Settings // last settings read successfully
	known      bool            // whether last has been set
	generation uint64          // bumped whenever installed data is discarded
}

// New creates a catalog cache.
func New(settings domain.SettingsSource, remote RemoteSource, local LocalSource, kv domain.KVStore, opts Options, logger *slog.Logger) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.DegradedTTL <= 0 {
		opts.DegradedTTL = DefaultDegradedTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		settings: settings,
		remote:   remote,
		local:    local,
		kv:       kv,
		opts:     opts,
		logger:   logger,
	}
}

// GetCatalog returns the snapshot for the active mode. Source failures are
// absorbed: the result is fresh data, stale data, or an empty snapshot. It
// fails only when the caller's context ends during a load, or when settings
// have never been readable and the mode is therefore unknown.
func (c *Cache) GetCatalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	st, err := c.current(ctx)
	if err != nil {
		return nil, err
	}
	return st.snapshot, nil
}

// LookupByImageID finds the record carrying imageID.
func (c *Cache) LookupByImageID(ctx context.Context, imageID string) (domain.CatalogRecord, bool, error) {
	st, err := c.current(ctx)
	if err != nil {
		return domain.CatalogRecord{}, false, err
	}
	rec, ok := st.byImageID(imageID)
	return rec, ok, nil
}

// LookupByGameID finds the record carrying gameID.
func (c *Cache) LookupByGameID(ctx context.Context, gameID string) (domain.CatalogRecord, bool, error) {
	st, err := c.current(ctx)
	if err != nil {
		return domain.CatalogRecord{}, false, err
	}
	rec, ok := st.byGameID(gameID)
	return rec, ok, nil
}

// Invalidate discards the in-memory snapshot and the persisted copy.
func (c *Cache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	c.state = nil
	c.generation++
	c.mu.Unlock()

	c.dropPersisted()
	c.logger.Info("catalog invalidated")
}

// Refresh invalidates and loads a new snapshot.
func (c *Cache) Refresh(ctx context.Context) (*domain.CatalogSnapshot, error) {
	c.Invalidate(ctx)
	return c.GetCatalog(ctx)
}

// Metadata returns the installed snapshot's metadata without loading.
func (c *Cache) Metadata() (domain.CatalogMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == nil {
		return domain.CatalogMetadata{}, false
	}
	return c.state.snapshot.Metadata, true
}

// current returns a usable state for the active mode, loading if needed.
func (c *Cache) current(ctx context.Context) (*state, error) {
	s, err := c.readSettings(ctx)
	if err != nil {
		return nil, err
	}
	now := c.opts.Now()

	c.mu.Lock()
	prevMode := c.last.Mode
	switched := c.known && prevMode != s.Mode
	if switched {
		c.state = nil
		c.generation++
	}
	c.last, c.known = s, true
	st, gen := c.state, c.generation
	c.mu.Unlock()

	if switched {
		c.logger.Info("source mode changed, discarding catalog", "from", prevMode, "to", s.Mode)
		c.dropPersisted()
	}

	if st != nil && st.mode() == s.Mode && st.fresh(now) {
		c.logger.Debug("catalog cache hit", "mode", s.Mode)
		return st, nil
	}

	key := fmt.Sprintf("%s:%d", s.Mode, gen)
	ch := c.group.DoChan(key, func() (any, error) {
		// The load outlives any single caller so its result is not wasted.
		st := c.load(context.WithoutCancel(ctx), s)
		c.install(st, s.Mode, gen)
		return st, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*state), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// readSettings returns the host settings, or the last ones read when the
// host cannot answer. With nothing read yet the mode is unknown and no
// source may be consulted.
func (c *Cache) readSettings(ctx context.Context) (domain.Settings, error) {
	s, err := c.settings.Settings(ctx)
	if err != nil {
		c.mu.Lock()
		last, known := c.last, c.known
		c.mu.Unlock()
		if !known {
			return domain.Settings{}, fmt.Errorf("catalog settings unavailable: %w", err)
		}
		c.logger.Warn("settings unavailable, using last known", "mode", last.Mode, "error", err)
		return last, nil
	}
	if s.Mode != domain.SourceLocal {
		s.Mode = domain.SourceRemote
	}
	return s, nil
}

// install swaps in st unless the data it was built from has since been
// discarded or the mode moved on.
func (c *Cache) install(st *state, mode domain.SourceKind, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.last.Mode != mode {
		c.logger.Debug("dropping catalog load superseded by invalidation", "mode", mode)
		return
	}
	c.state = st
}

func (c *Cache) load(ctx context.Context, s domain.Settings) *state {
	if s.Mode == domain.SourceLocal {
		return c.loadLocal(ctx, s)
	}
	return c.loadRemote(ctx)
}

// loadLocal never consults the remote source: a broken dataset yields an
// empty LOCAL snapshot.
func (c *Cache) loadLocal(ctx context.Context, s domain.Settings) *state {
	now := c.opts.Now()

	snap, err := c.local.ReadCatalog(ctx, s.LocalPath, s.Manifest)
	if err != nil || snap.Len() == 0 {
		c.logger.Warn("local catalog unavailable, serving empty catalog", "path", s.LocalPath, "error", err)
		return newState(domain.EmptySnapshot(domain.SourceLocal, now), now.Add(c.opts.DegradedTTL), true)
	}

	sanitizeSnapshot(snap)
	snap.Metadata.SourceKind = domain.SourceLocal
	snap.Metadata.RecordCount = len(snap.Records)
	c.logger.Info("local catalog loaded", "records", snap.Metadata.RecordCount)
	return newState(snap, now.Add(c.opts.TTL), false)
}

func (c *Cache) loadRemote(ctx context.Context) *state {
	now := c.opts.Now()

	prev, hasPrev := c.readPersisted()
	if hasPrev {
		age := now.Sub(prev.storedAt)
		if age >= 0 && age < c.opts.TTL {
			c.logger.Debug("persisted catalog fresh", "age", age)
			prev.snapshot.Metadata.Origin = "persisted"
			return newState(prev.snapshot, prev.storedAt.Add(c.opts.TTL), false)
		}
		if c.revalidate(ctx, prev.snapshot) {
			c.touchPersisted(now)
			prev.snapshot.Metadata.Origin = "persisted"
			return newState(prev.snapshot, now.Add(c.opts.TTL), false)
		}
	}

	snap, err := c.remote.FetchCatalog(ctx)
	if err == nil && snap.Len() == 0 && hasPrev {
		c.logger.Warn("remote catalog empty, keeping persisted catalog")
		err = domain.NewCorrupt(nil, "empty remote catalog")
	}
	if err != nil {
		return c.degradedRemote(prev, hasPrev, err)
	}

	sanitizeSnapshot(snap)
	snap.Metadata.SourceKind = domain.SourceRemote
	snap.Metadata.RecordCount = len(snap.Records)
	snap.Metadata.FetchedAt = now
	c.writePersisted(snap, now)

	c.logger.Info("remote catalog fetched", "records", snap.Metadata.RecordCount, "origin", snap.Metadata.Origin)
	return newState(snap, now.Add(c.opts.TTL), false)
}

// revalidate reports whether the server still has the persisted version.
func (c *Cache) revalidate(ctx context.Context, snap *domain.CatalogSnapshot) bool {
	if snap.Metadata.LastModified == "" {
		return false
	}
	marker, err := c.remote.LastModified(ctx)
	if err != nil {
		c.logger.Debug("catalog revalidation failed", "error", err)
		return false
	}
	if marker != snap.Metadata.LastModified {
		return false
	}
	c.logger.Debug("persisted catalog revalidated", "last_modified", marker)
	return true
}

func (c *Cache) degradedRemote(prev *persisted, hasPrev bool, err error) *state {
	now := c.opts.Now()
	expires := now.Add(c.opts.DegradedTTL)

	if domain.IsServiceOffline(err) {
		c.logger.Warn("catalog service offline", "error", err)
	}

	if hasPrev {
		c.logger.Warn("remote catalog unavailable, serving stale catalog",
			"error", err, "stored_at", prev.storedAt, "records", prev.snapshot.Len())
		prev.snapshot.Metadata.Origin = "persisted"
		return newState(prev.snapshot, expires, true)
	}

	c.logger.Error("remote catalog unavailable and nothing cached", "error", err)
	return newState(domain.EmptySnapshot(domain.SourceRemote, now), expires, true)
}
