// Package imagecache resolves cover art through a memory LRU, the durable
// store and the active source, sharing one fetch among concurrent callers.
package imagecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mmcdole/kiosk/internal/domain"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Defaults
const (
	DefaultCapacity          = 200
	DefaultRetries           = 2
	DefaultRetryDelay        = 2 * time.Second
	DefaultNotFoundThreshold = 4
	DefaultMaxConcurrent     = 6
)

// LocalSource reads cover files from a local dataset.
type LocalSource interface {
	ReadImage(ctx context.Context, root, imageID string) (*domain.LocalImage, error)
}

// RemoteSource fetches cover art from the vendor API.
type RemoteSource interface {
	FetchImage(ctx context.Context, imageID string, ts int64, sig string) ([]byte, error)
	FetchImageByGameID(ctx context.Context, gameID string) ([]byte, error)
}

// Signer stamps a request with a fresh timestamp and signature.
type Signer interface {
	Stamp(ctx context.Context) (int64, string)
}

// Catalog is the part of the catalog cache the orchestrator depends on.
type Catalog interface {
	Invalidate(ctx context.Context)
	Refresh(ctx context.Context) (*domain.CatalogSnapshot, error)
	LookupByGameID(ctx context.Context, gameID string) (domain.CatalogRecord, bool, error)
}

// Image is a resolved cover. Local images carry a browsable URL alongside
// their bytes.
type Image struct {
	ID      string
	Data    []byte
	URL     string
	Quality domain.Quality
	Source  domain.SourceKind
}

// Options qualify a single request.
type Options struct {
	Quality  domain.Quality
	Priority domain.Priority
}

// Config sizes the orchestrator. Non-positive sizes take the defaults;
// Retries of zero disables retrying.
type Config struct {
	Capacity          int
	Retries           int
	RetryDelay        time.Duration
	NotFoundThreshold int
	MaxConcurrent     int

	// OnRelease is called when an entry leaves memory (eviction, replacement,
	// invalidation or clear). Hosts use it to revoke handles to the bytes.
	OnRelease func(key string, img *Image)
}

// Deps are the collaborators an orchestrator is built from.
type Deps struct {
	Settings domain.SettingsSource
	Local    LocalSource
	Remote   RemoteSource
	Signer   Signer
	Store    domain.KVStore
	Catalog  Catalog
	URLs     domain.URLResolver
}

// Orchestrator is the entry point for cover art.
type Orchestrator struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	group    singleflight.Group
	limiter  *semaphore.Weighted
	inflight atomic.Int64
	clears   atomic.Int64

	mu           sync.Mutex // serializes LRU mutations and the fields below
	entries      *lru.Cache[string, *Image]
	generation   uint64            // bumped by clears and mode switches
	keyGens      map[string]uint64 // bumped per key by Invalidate
	notFound     int               // consecutive remote not-found results
	lastSettings domain.Settings
	hasSettings  bool
}

// New creates an orchestrator.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Settings == nil:
		return nil, fmt.Errorf("imagecache: settings source is required")
	case deps.Local == nil:
		return nil, fmt.Errorf("imagecache: local source is required")
	case deps.Remote == nil:
		return nil, fmt.Errorf("imagecache: remote source is required")
	case deps.Signer == nil:
		return nil, fmt.Errorf("imagecache: signer is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("imagecache: store is required")
	case deps.Catalog == nil:
		return nil, fmt.Errorf("imagecache: catalog is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Retries < 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.NotFoundThreshold <= 0 {
		cfg.NotFoundThreshold = DefaultNotFoundThreshold
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}

	o := &Orchestrator{
		deps:    deps,
		cfg:     cfg,
		logger:  logger,
		limiter: semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		keyGens: make(map[string]uint64),
	}

	entries, err := lru.NewWithEvict(cfg.Capacity, o.release)
	if err != nil {
		return nil, fmt.Errorf("imagecache: %w", err)
	}
	o.entries = entries
	return o, nil
}

// release runs outside the LRU's lock but inside o.mu when triggered by
// our own mutations; it must not take o.mu.
func (o *Orchestrator) release(key string, img *Image) {
	o.logger.Debug("image released", "key", key)
	if o.cfg.OnRelease != nil {
		o.cfg.OnRelease(key, img)
	}
}

// GetImage resolves imageID for the active mode. A definitive miss returns
// (nil, nil). Errors are classified with the domain taxonomy.
func (o *Orchestrator) GetImage(ctx context.Context, imageID string, opts Options) (*Image, error) {
	if imageID == "" {
		return nil, nil
	}
	s, err := o.settings(ctx)
	if err != nil {
		return nil, err
	}

	if s.IsLocal() {
		return o.resolve(ctx, imageID, opts, "local:"+imageID, func(ctx context.Context, _ epoch) (*Image, error) {
			return o.loadLocal(ctx, s, imageID)
		})
	}

	return o.resolve(ctx, imageID, opts, "remote:"+imageID, func(ctx context.Context, ep epoch) (*Image, error) {
		return o.loadRemote(ctx, imageID, opts, ep, func(ctx context.Context) ([]byte, error) {
			// Every attempt carries its own stamp.
			ts, sig := o.deps.Signer.Stamp(ctx)
			return o.deps.Remote.FetchImage(ctx, imageID, ts, sig)
		})
	})
}

// GetImageForGame resolves cover art through the catalog's game index. The
// record's name is remembered in the derived bucket so invalidating the
// image also drops the name-keyed entry.
func (o *Orchestrator) GetImageForGame(ctx context.Context, gameID string, opts Options) (*Image, error) {
	if gameID == "" {
		return nil, nil
	}
	rec, ok, err := o.deps.Catalog.LookupByGameID(ctx, gameID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	if rec.HasImage() {
		if err := o.deps.Store.Put(domain.BucketDerived, DerivedCoverKey(rec.ID), []byte(rec.ImageID)); err != nil {
			o.logger.Warn("failed to record derived cover key", "record", rec.ID, "error", err)
		}
		return o.GetImage(ctx, rec.ImageID, opts)
	}

	s, err := o.settings(ctx)
	if err != nil {
		return nil, err
	}
	if s.IsLocal() {
		// Local datasets only address art by image id.
		return nil, nil
	}

	key := gameKey(gameID)
	return o.resolve(ctx, key, opts, "remote:"+key, func(ctx context.Context, ep epoch) (*Image, error) {
		return o.loadRemote(ctx, key, opts, ep, func(ctx context.Context) ([]byte, error) {
			return o.deps.Remote.FetchImageByGameID(ctx, gameID)
		})
	})
}

// DerivedCoverKey names the derived entry recorded for a catalog record.
func DerivedCoverKey(recordID string) string {
	return "cover:" + recordID
}

func gameKey(gameID string) string {
	return "game:" + gameID
}

// settings reads the host settings, purging memory when the mode changed.
// If the host cannot answer, the last known settings are reused.
func (o *Orchestrator) settings(ctx context.Context) (domain.Settings, error) {
	s, err := o.deps.Settings.Settings(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if err != nil {
		if !o.hasSettings {
			return domain.Settings{}, err
		}
		o.logger.Warn("settings unavailable, using last known", "error", err)
		return o.lastSettings, nil
	}
	if s.Mode != domain.SourceLocal {
		s.Mode = domain.SourceRemote
	}

	if o.hasSettings && o.lastSettings.Mode != s.Mode {
		o.logger.Info("source mode changed, purging image memory", "from", o.lastSettings.Mode, "to", s.Mode)
		o.generation++
		o.notFound = 0
		o.entries.Purge()
	}
	o.lastSettings, o.hasSettings = s, true
	return s, nil
}

// epoch identifies the cache contents a load started against. A load whose
// epoch has moved on answers its waiters but is neither installed nor
// persisted.
type epoch struct {
	global uint64
	key    uint64
}

// epochLocked must be called with o.mu held.
func (o *Orchestrator) epochLocked(key string) epoch {
	return epoch{global: o.generation, key: o.keyGens[key]}
}

func (o *Orchestrator) epochFor(key string) epoch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epochLocked(key)
}

// resolve serves key from memory or joins/starts the single in-flight load
// for it. There is one flight per key whatever the requested quality: a
// caller that joins a lower-quality load waits for it and then goes again.
func (o *Orchestrator) resolve(ctx context.Context, key string, opts Options, flight string, load func(context.Context, epoch) (*Image, error)) (*Image, error) {
	for {
		o.mu.Lock()
		if img, ok := o.entries.Get(key); ok && img.Quality.Satisfies(opts.Quality) {
			o.mu.Unlock()
			return img, nil
		}
		o.mu.Unlock()

		ch := o.group.DoChan(flight, func() (any, error) {
			o.inflight.Add(1)
			defer o.inflight.Add(-1)

			// Abandoned callers do not cancel the load; the result still fills
			// the cache for whoever asks next.
			ep := o.epochFor(key)
			img, err := load(context.WithoutCancel(ctx), ep)
			if img != nil {
				o.install(key, img, ep)
			}
			return img, err
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		img, _ := res.Val.(*Image)
		if res.Err != nil || img == nil || img.Quality.Satisfies(opts.Quality) {
			return img, res.Err
		}
		o.logger.Debug("joined lower quality load, fetching again", "key", key, "want", opts.Quality)
	}
}

// install puts img in memory. A HIGH entry is never replaced by a LOW one,
// and loads that started before a clear or invalidation are dropped.
func (o *Orchestrator) install(key string, img *Image, ep epoch) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.epochLocked(key) != ep {
		o.logger.Debug("discarding image loaded before invalidation", "key", key)
		return
	}

	old, ok := o.entries.Peek(key)
	if ok && !img.Quality.Satisfies(old.Quality) {
		o.entries.Get(key)
		return
	}
	o.entries.Add(key, img)
	if ok && old != img {
		// Add on an existing key does not fire the eviction callback.
		o.release(key, old)
	}
}

// Stats is a point-in-time view of the orchestrator.
type Stats struct {
	Entries           int
	Capacity          int
	InFlight          int64
	NotFoundStreak    int
	NotFoundThreshold int
	Clears            int64
	Mode              domain.SourceKind
}

// Stats reports current counters.
func (o *Orchestrator) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return Stats{
		Entries:           o.entries.Len(),
		Capacity:          o.cfg.Capacity,
		InFlight:          o.inflight.Load(),
		NotFoundStreak:    o.notFound,
		NotFoundThreshold: o.cfg.NotFoundThreshold,
		Clears:            o.clears.Load(),
		Mode:              o.lastSettings.Mode,
	}
}
