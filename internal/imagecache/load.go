package imagecache

import (
	"context"
	"errors"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/sethvargo/go-retry"
)

// loadLocal reads a cover from the dataset. Local mode never reaches the
// network: any failure is a miss.
func (o *Orchestrator) loadLocal(ctx context.Context, s domain.Settings, imageID string) (*Image, error) {
	li, err := o.deps.Local.ReadImage(ctx, s.LocalPath, imageID)
	if err != nil {
		o.logger.Warn("local image read failed", "image_id", imageID, "error", err)
		return nil, nil
	}
	if li == nil {
		return nil, nil
	}

	img := &Image{
		ID:      imageID,
		Data:    li.Data,
		Quality: domain.QualityHigh,
		Source:  domain.SourceLocal,
	}
	if o.deps.URLs != nil {
		img.URL = o.deps.URLs.FileURL(li.Path)
	}
	return img, nil
}

// loadRemote consults the durable tier, then the network under the retry
// policy. fetch is called once per attempt.
func (o *Orchestrator) loadRemote(ctx context.Context, key string, opts Options, ep epoch, fetch func(context.Context) ([]byte, error)) (*Image, error) {
	if img, ok := o.readDurable(key, opts.Quality); ok {
		o.logger.Debug("image served from store", "key", key, "quality", img.Quality)
		return img, nil
	}

	if opts.Priority == domain.PriorityLow {
		if err := o.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer o.limiter.Release(1)
	}

	data, err := o.fetchWithRetry(ctx, key, fetch)
	switch {
	case err == nil:
	case domain.IsNotFound(err):
		o.recordNotFound(ctx, key)
		return nil, nil
	default:
		o.logger.Warn("image fetch failed", "key", key, "kind", domain.Classify(err), "error", err)
		return nil, err
	}

	o.mu.Lock()
	o.notFound = 0
	o.mu.Unlock()

	img := &Image{
		ID:      key,
		Data:    data,
		Quality: opts.Quality,
		Source:  domain.SourceRemote,
	}
	o.persist(key, img, ep)
	return img, nil
}

// fetchWithRetry retries transient failures at a fixed delay. Misses,
// offline answers and corrupt payloads return at once.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	var data []byte
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(o.cfg.Retries), retry.NewConstant(o.cfg.RetryDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		b, err := fetch(ctx)
		if err == nil {
			data = b
			return nil
		}
		if domain.IsRetryable(err) && !domain.IsServiceOffline(err) {
			o.logger.Debug("image fetch attempt failed", "key", key, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// recordNotFound counts consecutive misses. Reaching the threshold means
// the catalog is stale relative to the server, so everything is dropped
// and the counter restarts.
func (o *Orchestrator) recordNotFound(ctx context.Context, key string) {
	o.mu.Lock()
	o.notFound++
	n := o.notFound
	tripped := n >= o.cfg.NotFoundThreshold
	if tripped {
		o.notFound = 0
	}
	o.mu.Unlock()

	o.logger.Debug("image not found", "key", key, "streak", n)
	if !tripped {
		return
	}

	o.logger.Warn("consecutive image misses, clearing caches", "streak", n)
	if err := o.clear(ctx); err != nil {
		o.logger.Warn("image store purge failed", "error", err)
	}
	o.deps.Catalog.Invalidate(ctx)
}

// Durable entries are prefixed with one quality byte.
const (
	durableLow  byte = 'L'
	durableHigh byte = 'H'
)

var errBadEntry = errors.New("malformed image entry")

func encodeEntry(img *Image) []byte {
	hdr := durableLow
	if img.Quality == domain.QualityHigh {
		hdr = durableHigh
	}
	buf := make([]byte, 0, len(img.Data)+1)
	buf = append(buf, hdr)
	return append(buf, img.Data...)
}

func decodeEntry(raw []byte) (domain.Quality, []byte, error) {
	if len(raw) < 2 {
		return 0, nil, errBadEntry
	}
	switch raw[0] {
	case durableLow:
		return domain.QualityLow, raw[1:], nil
	case durableHigh:
		return domain.QualityHigh, raw[1:], nil
	}
	return 0, nil, errBadEntry
}

func (o *Orchestrator) readDurable(key string, want domain.Quality) (*Image, bool) {
	raw, ok, err := o.deps.Store.Get(domain.BucketImages, key)
	if err != nil {
		o.logger.Warn("image store read failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	q, data, err := decodeEntry(raw)
	if err != nil {
		o.logger.Warn("dropping malformed image entry", "key", key)
		_ = o.deps.Store.Delete(domain.BucketImages, key)
		return nil, false
	}
	if !q.Satisfies(want) {
		return nil, false
	}
	return &Image{ID: key, Data: data, Quality: q, Source: domain.SourceRemote}, true
}

// persist writes img to the store unless the key was cleared or invalidated
// since ep. The check and the write share o.mu so an invalidation either
// sees the entry and deletes it, or the write is skipped.
func (o *Orchestrator) persist(key string, img *Image, ep epoch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epochLocked(key) != ep {
		o.logger.Debug("not persisting image loaded before invalidation", "key", key)
		return
	}
	o.writeDurable(key, img)
}

func (o *Orchestrator) writeDurable(key string, img *Image) {
	if img.Quality == domain.QualityLow {
		if raw, ok, _ := o.deps.Store.Get(domain.BucketImages, key); ok && len(raw) > 0 && raw[0] == durableHigh {
			return
		}
	}
	if err := o.deps.Store.Put(domain.BucketImages, key, encodeEntry(img)); err != nil {
		o.logger.Warn("image store write failed", "key", key, "error", err)
	}
}
