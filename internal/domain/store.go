package domain

// Bucket names a keyspace inside the durable store.
type Bucket string

const (
	// BucketImages holds image bytes keyed by imageId
	BucketImages Bucket = "images"

	// BucketCatalog holds the persisted catalog under a few well-known keys
	BucketCatalog Bucket = "catalog"

	// BucketDerived holds name-keyed representations derived from images
	BucketDerived Bucket = "derived"
)

// Buckets lists every keyspace the store must create.
var Buckets = []Bucket{BucketImages, BucketCatalog, BucketDerived}

// KVStore is the durable binary object store.
type KVStore interface {
	Get(bucket Bucket, key string) ([]byte, bool, error)
	Put(bucket Bucket, key string, value []byte) error
	Delete(bucket Bucket, key string) error
	Purge(bucket Bucket) error

	// DeleteMatching removes every entry for which match returns true
	// and reports how many were removed.
	DeleteMatching(bucket Bucket, match func(key string, value []byte) bool) (int, error)

	Close() error
}
