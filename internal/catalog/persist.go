package catalog

import (
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/mmcdole/kiosk/internal/manifest"
	"github.com/mmcdole/kiosk/internal/store"
)

// Well-known keys in the catalog bucket
const (
	keyGames     = "games"
	keyMetadata  = "metadata"
	keyTimestamp = "timestamp"
)

// persisted is a REMOTE snapshot read back from the store.
type persisted struct {
	snapshot *domain.CatalogSnapshot
	storedAt time.Time
}

func (c *Cache) readPersisted() (*persisted, bool) {
	var records []domain.CatalogRecord
	ok, err := store.GetJSON(c.kv, domain.BucketCatalog, keyGames, &records)
	if err != nil {
		c.logger.Warn("persisted catalog unreadable", "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var meta domain.CatalogMetadata
	if _, err := store.GetJSON(c.kv, domain.BucketCatalog, keyMetadata, &meta); err != nil {
		c.logger.Warn("persisted catalog metadata unreadable", "error", err)
	}

	var storedMs int64
	if _, err := store.GetJSON(c.kv, domain.BucketCatalog, keyTimestamp, &storedMs); err != nil {
		c.logger.Warn("persisted catalog timestamp unreadable", "error", err)
	}

	for i := range records {
		manifest.Normalize(&records[i])
	}

	meta.SourceKind = domain.SourceRemote
	meta.RecordCount = len(records)
	return &persisted{
		snapshot: &domain.CatalogSnapshot{Records: records, Metadata: meta},
		storedAt: time.UnixMilli(storedMs),
	}, true
}

func (c *Cache) writePersisted(snap *domain.CatalogSnapshot, at time.Time) {
	if err := store.PutJSON(c.kv, domain.BucketCatalog, keyGames, snap.Records); err != nil {
		c.logger.Error("failed to persist catalog", "error", err)
		return
	}
	if err := store.PutJSON(c.kv, domain.BucketCatalog, keyMetadata, snap.Metadata); err != nil {
		c.logger.Error("failed to persist catalog metadata", "error", err)
	}
	c.touchPersisted(at)
}

func (c *Cache) touchPersisted(at time.Time) {
	if err := store.PutJSON(c.kv, domain.BucketCatalog, keyTimestamp, at.UnixMilli()); err != nil {
		c.logger.Error("failed to persist catalog timestamp", "error", err)
	}
}

func (c *Cache) dropPersisted() {
	if err := c.kv.Purge(domain.BucketCatalog); err != nil {
		c.logger.Error("failed to drop persisted catalog", "error", err)
	}
}
