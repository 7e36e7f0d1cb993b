package catalog

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/mmcdole/kiosk/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSettings struct {
	mu  sync.Mutex
	s   domain.Settings
	err error
}

func (m *mockSettings) Settings(ctx context.Context) (domain.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return domain.Settings{}, m.err
	}
	return m.s, nil
}

func (m *mockSettings) set(s domain.Settings) {
	m.mu.Lock()
	m.s, m.err = s, nil
	m.mu.Unlock()
}

func (m *mockSettings) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type mockRemote struct {
	mu         sync.Mutex
	snap       *domain.CatalogSnapshot
	err        error
	marker     string
	markerErr  error
	fetchCalls int
	headCalls  int
	gate       chan struct{}
}

func (m *mockRemote) FetchCatalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	m.mu.Lock()
	m.fetchCalls++
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return cloneSnapshot(m.snap), nil
}

func (m *mockRemote) LastModified(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.headCalls++
	return m.marker, m.markerErr
}

func (m *mockRemote) setResult(snap *domain.CatalogSnapshot, err error) {
	m.mu.Lock()
	m.snap, m.err = snap, err
	m.mu.Unlock()
}

func (m *mockRemote) calls() (fetch, head int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls, m.headCalls
}

type mockLocal struct {
	mu    sync.Mutex
	snap  *domain.CatalogSnapshot
	err   error
	calls int
	roots []string
}

func (m *mockLocal) ReadCatalog(ctx context.Context, root, manifest string) (*domain.CatalogSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.roots = append(m.roots, root+"/"+manifest)
	if m.err != nil {
		return nil, m.err
	}
	return cloneSnapshot(m.snap), nil
}

func cloneSnapshot(s *domain.CatalogSnapshot) *domain.CatalogSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Records = slices.Clone(s.Records)
	return &out
}

func record(id, imageID, gameID string) domain.CatalogRecord {
	return domain.CatalogRecord{
		ID:            id,
		Title:         id,
		ImageID:       imageID,
		GameID:        gameID,
		DownloadLinks: map[string][]string{},
	}
}

func snapshot(kind domain.SourceKind, records ...domain.CatalogRecord) *domain.CatalogSnapshot {
	return &domain.CatalogSnapshot{
		Records:  records,
		Metadata: domain.CatalogMetadata{SourceKind: kind, RecordCount: len(records)},
	}
}

type fixture struct {
	cache    *Cache
	settings *mockSettings
	remote   *mockRemote
	local    *mockLocal
	kv       *store.Store
	now      time.Time
	clockMu  sync.Mutex
}

func (f *fixture) advance(d time.Duration) {
	f.clockMu.Lock()
	f.now = f.now.Add(d)
	f.clockMu.Unlock()
}

func (f *fixture) clock() time.Time {
	f.clockMu.Lock()
	defer f.clockMu.Unlock()
	return f.now
}

func newFixture(t *testing.T, mode domain.SourceKind) *fixture {
	t.Helper()
	kv, err := store.Open("", "")
	require.NoError(t, err)

	f := &fixture{
		settings: &mockSettings{s: domain.Settings{Mode: mode, LocalPath: "/dataset", Manifest: "games.json"}},
		remote:   &mockRemote{snap: snapshot(domain.SourceRemote, record("Alpha", "img-a", "1"), record("Beta", "img-b", "2"))},
		local:    &mockLocal{snap: snapshot(domain.SourceLocal, record("Local One", "loc-1", "101"))},
		kv:       kv,
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.cache = New(f.settings, f.remote, f.local, kv, Options{Now: f.clock}, nil)
	return f
}

func (f *fixture) reopen() *Cache {
	return New(f.settings, f.remote, f.local, f.kv, Options{Now: f.clock}, nil)
}

func TestGetCatalog_RemoteFetchAndMemoryHit(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	snap, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemote, snap.Metadata.SourceKind)
	assert.Equal(t, 2, snap.Metadata.RecordCount)
	assert.Equal(t, f.now, snap.Metadata.FetchedAt)

	again, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, again)

	fetch, _ := f.remote.calls()
	assert.Equal(t, 1, fetch)
}

func TestGetCatalog_LocalModeNeverFallsBackToRemote(t *testing.T) {
	tests := []struct {
		name string
		snap *domain.CatalogSnapshot
		err  error
	}{
		{"corrupt manifest", nil, domain.NewCorrupt(nil, "bad json")},
		{"missing manifest", nil, domain.NewNotFound("no file")},
		{"empty manifest", snapshot(domain.SourceLocal), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.SourceLocal)
			f.local.snap, f.local.err = tt.snap, tt.err

			snap, err := f.cache.GetCatalog(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 0, snap.Metadata.RecordCount)
			assert.Equal(t, domain.SourceLocal, snap.Metadata.SourceKind)
			assert.Empty(t, snap.Records)

			fetch, head := f.remote.calls()
			assert.Zero(t, fetch)
			assert.Zero(t, head)
		})
	}
}

func TestGetCatalog_LocalModeLoadsAndSanitizes(t *testing.T) {
	f := newFixture(t, domain.SourceLocal)
	rec := record("Cafe", "loc-1", "101")
	rec.Title = "  CafÃ©\u0007   Deluxe Edition "
	rec.Description = "line one  \r\nline two\u200b"
	rec.Categories = []string{" action ", "", "rpg"}
	f.local.snap = snapshot(domain.SourceLocal, rec)

	snap, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)

	got := snap.Records[0]
	assert.Equal(t, "Café Deluxe Edition", got.Title)
	assert.Equal(t, "line one\nline two", got.Description)
	assert.Equal(t, []string{"action", "rpg"}, got.Categories)
	assert.Equal(t, domain.SourceLocal, snap.Metadata.SourceKind)
	assert.Equal(t, []string{"/dataset/games.json"}, f.local.roots)

	_, ok, err := f.cache.LookupByImageID(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetCatalog_SettingsOutageKeepsLastSettings(t *testing.T) {
	f := newFixture(t, domain.SourceLocal)
	ctx := context.Background()

	_, err := f.cache.GetCatalog(ctx)
	require.NoError(t, err)

	f.settings.fail(errors.New("host unavailable"))
	f.advance(2 * time.Hour)

	snap, err := f.cache.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLocal, snap.Metadata.SourceKind)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "Local One", snap.Records[0].ID)
	assert.Equal(t, []string{"/dataset/games.json", "/dataset/games.json"}, f.local.roots)

	fetch, head := f.remote.calls()
	assert.Zero(t, fetch)
	assert.Zero(t, head)
}

func TestGetCatalog_UnknownModeConsultsNoSource(t *testing.T) {
	f := newFixture(t, domain.SourceLocal)
	ctx := context.Background()
	f.settings.fail(errors.New("host unavailable"))

	snap, err := f.cache.GetCatalog(ctx)
	require.Error(t, err)
	assert.Nil(t, snap)

	_, ok, err := f.cache.LookupByImageID(ctx, "img-a")
	require.Error(t, err)
	assert.False(t, ok)

	fetch, head := f.remote.calls()
	assert.Zero(t, fetch)
	assert.Zero(t, head)
	assert.Zero(t, f.local.calls)

	f.settings.set(domain.Settings{Mode: domain.SourceLocal, LocalPath: "/dataset", Manifest: "games.json"})
	snap, err = f.cache.GetCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLocal, snap.Metadata.SourceKind)
	assert.Equal(t, 1, snap.Len())
}

func TestGetCatalog_ModeSwitchDiscardsPreviousSnapshot(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.settings.set(domain.Settings{Mode: domain.SourceLocal, LocalPath: "/dataset"})
	snap, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceLocal, snap.Metadata.SourceKind)
	assert.Equal(t, "Local One", snap.Records[0].ID)

	_, ok, err := f.cache.LookupByImageID(context.Background(), "img-a")
	require.NoError(t, err)
	assert.False(t, ok, "remote index must not survive a mode switch")

	// The persisted remote catalog went with it.
	_, ok, err = f.kv.Get(domain.BucketCatalog, keyGames)
	require.NoError(t, err)
	assert.False(t, ok)

	f.settings.set(domain.Settings{Mode: domain.SourceRemote})
	snap, err = f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SourceRemote, snap.Metadata.SourceKind)

	fetch, _ := f.remote.calls()
	assert.Equal(t, 2, fetch)
}

func TestGetCatalog_SnapshotAtomicity(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	ctx := context.Background()

	_, err := f.cache.GetCatalog(ctx)
	require.NoError(t, err)

	f.remote.setResult(snapshot(domain.SourceRemote, record("Gamma", "img-c", "3")), nil)
	_, err = f.cache.Refresh(ctx)
	require.NoError(t, err)

	for _, id := range []string{"img-a", "img-b"} {
		_, ok, err := f.cache.LookupByImageID(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}
	for _, id := range []string{"1", "2"} {
		_, ok, err := f.cache.LookupByGameID(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, id)
	}

	rec, ok, err := f.cache.LookupByImageID(ctx, "img-c")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Gamma", rec.ID)

	rec, ok, err = f.cache.LookupByGameID(ctx, "3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Gamma", rec.ID)
}

func TestGetCatalog_PersistedSurvivesRestart(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.advance(10 * time.Minute)
	snap, err := f.reopen().GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Metadata.RecordCount)
	assert.Equal(t, "persisted", snap.Metadata.Origin)

	fetch, _ := f.remote.calls()
	assert.Equal(t, 1, fetch)
}

func TestGetCatalog_PersistedRecordsAreNormalized(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	require.NoError(t, f.kv.Put(domain.BucketCatalog, keyGames, []byte(`[{"id":"Bare Record","imageId":"img-x"}]`)))
	require.NoError(t, store.PutJSON(f.kv, domain.BucketCatalog, keyTimestamp, f.now.UnixMilli()))

	snap, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "Bare Record", snap.Records[0].Title)
	assert.NotNil(t, snap.Records[0].DownloadLinks)
	assert.Equal(t, "persisted", snap.Metadata.Origin)

	fetch, _ := f.remote.calls()
	assert.Zero(t, fetch)
}

func TestGetCatalog_ExpiresAfterTTL(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.advance(59 * time.Minute)
	_, err = f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	fetch, _ := f.remote.calls()
	assert.Equal(t, 1, fetch)

	f.advance(2 * time.Minute)
	_, err = f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	fetch, _ = f.remote.calls()
	assert.Equal(t, 2, fetch)
}

func TestGetCatalog_RevalidatesWithHead(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	snap := snapshot(domain.SourceRemote, record("Alpha", "img-a", "1"))
	snap.Metadata.LastModified = "etag-1"
	f.remote.setResult(snap, nil)
	f.remote.marker = "etag-1"

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.advance(2 * time.Hour)
	got, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metadata.RecordCount)

	fetch, head := f.remote.calls()
	assert.Equal(t, 1, fetch, "unchanged marker must not trigger a download")
	assert.Equal(t, 1, head)

	// Re-stamped: within the next hour no HEAD either.
	f.advance(30 * time.Minute)
	_, err = f.reopen().GetCatalog(context.Background())
	require.NoError(t, err)
	_, head = f.remote.calls()
	assert.Equal(t, 1, head)
}

func TestGetCatalog_StalePositiveOnFailure(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.remote.setResult(nil, domain.NewTransient(nil, "network down"))
	f.advance(2 * time.Hour)

	snap, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Metadata.RecordCount)
	assert.Equal(t, domain.SourceRemote, snap.Metadata.SourceKind)
	assert.Equal(t, "persisted", snap.Metadata.Origin)

	// Degraded snapshots are retried sooner than the full TTL.
	f.remote.setResult(snapshot(domain.SourceRemote, record("Fresh", "img-f", "9")), nil)
	f.advance(DefaultDegradedTTL + time.Second)
	snap, err = f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Fresh", snap.Records[0].ID)
}

func TestGetCatalog_EmptyRemoteWhenNothingCached(t *testing.T) {
	for _, fail := range []error{
		domain.NewTransient(nil, "down"),
		domain.NewServiceOffline("offline"),
	} {
		f := newFixture(t, domain.SourceRemote)
		f.remote.setResult(nil, fail)

		snap, err := f.cache.GetCatalog(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, snap.Metadata.RecordCount)
		assert.Equal(t, domain.SourceRemote, snap.Metadata.SourceKind)
		assert.NotNil(t, snap.Records)
	}
}

func TestGetCatalog_ConcurrentCallersShareOneFetch(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	f.remote.gate = make(chan struct{})

	const callers = 20
	var wg sync.WaitGroup
	results := make([]*domain.CatalogSnapshot, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := f.cache.GetCatalog(context.Background())
			assert.NoError(t, err)
			results[i] = snap
		}()
	}

	require.Eventually(t, func() bool {
		fetch, _ := f.remote.calls()
		return fetch == 1
	}, time.Second, time.Millisecond)
	close(f.remote.gate)
	wg.Wait()

	fetch, _ := f.remote.calls()
	assert.Equal(t, 1, fetch)
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}

func TestGetCatalog_AbandonedCallerStillInstalls(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	f.remote.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.cache.GetCatalog(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool {
		fetch, _ := f.remote.calls()
		return fetch == 1
	}, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(f.remote.gate)
	require.Eventually(t, func() bool {
		_, ok := f.cache.Metadata()
		return ok
	}, time.Second, time.Millisecond)

	fetch, _ := f.remote.calls()
	assert.Equal(t, 1, fetch)
}

func TestInvalidate_DropsMemoryAndPersisted(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)

	_, err := f.cache.GetCatalog(context.Background())
	require.NoError(t, err)

	f.cache.Invalidate(context.Background())

	_, ok := f.cache.Metadata()
	assert.False(t, ok)
	_, ok, err = f.kv.Get(domain.BucketCatalog, keyTimestamp)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.cache.GetCatalog(context.Background())
	require.NoError(t, err)
	fetch, _ := f.remote.calls()
	assert.Equal(t, 2, fetch)
}

func TestSearchAndFindByName(t *testing.T) {
	f := newFixture(t, domain.SourceRemote)
	f.remote.setResult(snapshot(domain.SourceRemote,
		record("The Witcher 3", "w3", "1"),
		record("Witch It", "wi", "2"),
		record("Hollow Knight", "hk", "3"),
	), nil)
	ctx := context.Background()

	matches, err := f.cache.Search(ctx, "witch", 0)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.Contains(t, []string{"The Witcher 3", "Witch It"}, m.Record.ID)
	}

	matches, err = f.cache.Search(ctx, "witch", 1)
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	matches, err = f.cache.Search(ctx, "   ", 0)
	require.NoError(t, err)
	assert.Nil(t, matches)

	rec, ok, err := f.cache.FindByName(ctx, "hollow knight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hk", rec.ImageID)

	rec, ok, err = f.cache.FindByName(ctx, "hollowknt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Hollow Knight", rec.ID)

	_, ok, err = f.cache.FindByName(ctx, "zelda")
	require.NoError(t, err)
	assert.False(t, ok)
}
