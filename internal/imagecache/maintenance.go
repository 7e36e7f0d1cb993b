package imagecache

import (
	"bytes"
	"context"
	"errors"

	"github.com/mmcdole/kiosk/internal/domain"
)

// Invalidate drops one image from memory and the store, together with the
// derived entries that point at it. derivedKeys are removed by name; any
// other derived value containing imageID is removed by scan. A load of
// imageID already in flight still answers its callers but is not kept.
func (o *Orchestrator) Invalidate(ctx context.Context, imageID string, derivedKeys ...string) error {
	if imageID == "" {
		return nil
	}

	o.mu.Lock()
	o.keyGens[imageID]++
	o.entries.Remove(imageID)
	o.mu.Unlock()

	var errs []error
	if err := o.deps.Store.Delete(domain.BucketImages, imageID); err != nil {
		errs = append(errs, err)
	}
	for _, k := range derivedKeys {
		if err := o.deps.Store.Delete(domain.BucketDerived, k); err != nil {
			errs = append(errs, err)
		}
	}

	needle := []byte(imageID)
	n, err := o.deps.Store.DeleteMatching(domain.BucketDerived, func(_ string, v []byte) bool {
		return bytes.Contains(v, needle)
	})
	if err != nil {
		errs = append(errs, err)
	}

	o.logger.Debug("image invalidated", "image_id", imageID, "derived", len(derivedKeys), "scanned", n)
	return errors.Join(errs...)
}

// ClearOptions controls Clear.
type ClearOptions struct {
	// SkipCatalogRefresh leaves the catalog alone for callers that
	// refresh it themselves.
	SkipCatalogRefresh bool
}

// Clear empties memory and the durable image tiers, then refreshes the
// catalog unless told otherwise. Loads already in flight finish but are
// not installed.
func (o *Orchestrator) Clear(ctx context.Context, opts ClearOptions) error {
	err := o.clear(ctx)
	if opts.SkipCatalogRefresh {
		return err
	}
	if _, rerr := o.deps.Catalog.Refresh(ctx); rerr != nil {
		return errors.Join(err, rerr)
	}
	return err
}

func (o *Orchestrator) clear(ctx context.Context) error {
	o.mu.Lock()
	o.generation++
	o.notFound = 0
	o.entries.Purge()
	o.mu.Unlock()
	o.clears.Add(1)

	var errs []error
	for _, b := range []domain.Bucket{domain.BucketImages, domain.BucketDerived} {
		if err := o.deps.Store.Purge(b); err != nil {
			errs = append(errs, err)
		}
	}
	o.logger.Info("image cache cleared")
	return errors.Join(errs...)
}
