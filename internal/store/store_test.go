package store

import (
	"strings"
	"testing"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStores(t *testing.T) map[string]*Store {
	t.Helper()

	disk, err := Open(t.TempDir(), "https://api.example.com")
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	mem, err := Open("", "")
	require.NoError(t, err)

	return map[string]*Store{"disk": disk, "memory": mem}
}

func TestStore_PutGetDelete(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get(domain.BucketImages, "abc")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(domain.BucketImages, "abc", []byte("bytes")))

			got, ok, err := s.Get(domain.BucketImages, "abc")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("bytes"), got)

			// Returned slices are copies.
			got[0] = 'X'
			again, _, _ := s.Get(domain.BucketImages, "abc")
			assert.Equal(t, []byte("bytes"), again)

			require.NoError(t, s.Delete(domain.BucketImages, "abc"))
			_, ok, err = s.Get(domain.BucketImages, "abc")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_BucketsAreIsolated(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(domain.BucketImages, "k", []byte("image")))
			require.NoError(t, s.Put(domain.BucketCatalog, "k", []byte("catalog")))

			require.NoError(t, s.Purge(domain.BucketImages))

			_, ok, _ := s.Get(domain.BucketImages, "k")
			assert.False(t, ok)
			got, ok, _ := s.Get(domain.BucketCatalog, "k")
			require.True(t, ok)
			assert.Equal(t, "catalog", string(got))
		})
	}
}

func TestStore_DeleteMatching(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Put(domain.BucketDerived, "cover:Alpha", []byte("img-1")))
			require.NoError(t, s.Put(domain.BucketDerived, "cover:Beta", []byte("img-2")))
			require.NoError(t, s.Put(domain.BucketDerived, "thumb:Alpha", []byte("img-1")))

			n, err := s.DeleteMatching(domain.BucketDerived, func(_ string, v []byte) bool {
				return strings.Contains(string(v), "img-1")
			})
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			keys, err := s.Keys(domain.BucketDerived)
			require.NoError(t, err)
			assert.Equal(t, []string{"cover:Beta"}, keys)
		})
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "https://api.example.com")
	require.NoError(t, err)
	require.NoError(t, s.Put(domain.BucketImages, "abc", []byte("bytes")))
	require.NoError(t, PutJSON(s, domain.BucketCatalog, "timestamp", int64(42)))
	require.NoError(t, s.Close())

	s, err = Open(dir, "https://api.example.com/")
	require.NoError(t, err)
	defer s.Close()

	got, ok, err := s.Get(domain.BucketImages, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bytes", string(got))

	var ts int64
	ok, err = GetJSON(s, domain.BucketCatalog, "timestamp", &ts)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), ts)
}

func TestStore_NamespacesAreSeparate(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(dir, "https://a.example.com")
	require.NoError(t, err)
	require.NoError(t, a.Put(domain.BucketImages, "abc", []byte("a")))
	require.NoError(t, a.Close())

	b, err := Open(dir, "https://b.example.com")
	require.NoError(t, err)
	defer b.Close()

	_, ok, err := b.Get(domain.BucketImages, "abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_InvalidateAll(t *testing.T) {
	for name, s := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, b := range domain.Buckets {
				require.NoError(t, s.Put(b, "k", []byte("v")))
			}
			require.NoError(t, s.InvalidateAll())
			for _, b := range domain.Buckets {
				_, ok, err := s.Get(b, "k")
				require.NoError(t, err)
				assert.False(t, ok, "bucket %s", b)
			}
		})
	}
}

func TestGetJSON_CorruptValue(t *testing.T) {
	s, err := Open("", "")
	require.NoError(t, err)
	require.NoError(t, s.Put(domain.BucketCatalog, "metadata", []byte("{not json")))

	var dest map[string]any
	ok, err := GetJSON(s, domain.BucketCatalog, "metadata", &dest)
	assert.Error(t, err)
	assert.False(t, ok)
}
