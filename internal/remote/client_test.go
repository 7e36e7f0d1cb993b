package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/mmcdole/kiosk/internal/bridge"
	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogJSON = `{"games":[{"game":"Alpha","imgID":"img-a","gameID":"1"},{"game":"Beta","gameID":"2"}],"metadata":{"last_updated":"v1"}}`

type fakeAPI struct {
	catalogStatus int
	catalogBody   string
	imageStatus   int
	imageBody     string

	catalogHits atomic.Int32
	imageHits   atomic.Int32
	lastQuery   atomic.Value
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/games", func(w http.ResponseWriter, r *http.Request) {
		f.catalogHits.Add(1)
		if r.Method == http.MethodHead {
			w.Header().Set("Last-Modified", "Tue, 06 Jan 2026 10:00:00 GMT")
			return
		}
		if f.catalogStatus != 0 {
			w.WriteHeader(f.catalogStatus)
		}
		w.Write([]byte(f.catalogBody))
	})
	mux.HandleFunc("/v2/image/", func(w http.ResponseWriter, r *http.Request) {
		f.imageHits.Add(1)
		f.lastQuery.Store(r.URL.RawQuery)
		if f.imageStatus != 0 {
			w.WriteHeader(f.imageStatus)
		}
		w.Write([]byte(f.imageBody))
	})
	mux.HandleFunc("/v3/image/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("game-cover:" + r.URL.Path[len("/v3/image/"):]))
	})
	mux.HandleFunc("/v3/game/checkupdate/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("local_version") == "1.0" {
			w.Write([]byte(`{"update_available":true,"latest_version":"1.2"}`))
			return
		}
		w.Write([]byte(`{"version":"1.2"}`))
	})
	return mux
}

func newTestClient(t *testing.T, api *fakeAPI, cdn http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(api.handler())
	t.Cleanup(server.Close)

	opts := Options{BaseURL: server.URL + "/"}
	if cdn != nil {
		cdnServer := httptest.NewServer(cdn)
		t.Cleanup(cdnServer.Close)
		opts.CDNURL = cdnServer.URL + "/catalog.json"
	}
	return New(bridge.NewHTTPTransport(server.Client(), nil), opts, nil)
}

func cdnServing(status int, body string, hits *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(status)
		w.Write([]byte(body))
	})
}

func TestFetchCatalog_Primary(t *testing.T) {
	var cdnHits atomic.Int32
	c := newTestClient(t, &fakeAPI{catalogBody: catalogJSON}, cdnServing(200, catalogJSON, &cdnHits))

	snap, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, snap.Metadata.RecordCount)
	assert.Equal(t, OriginPrimary, snap.Metadata.Origin)
	assert.Equal(t, domain.SourceRemote, snap.Metadata.SourceKind)
	assert.Equal(t, int32(0), cdnHits.Load())
}

func TestFetchCatalog_FallsBackToCDN(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, "boom"},
		{"not found", http.StatusNotFound, ""},
		{"corrupt primary", http.StatusOK, "<html>maintenance</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cdnHits atomic.Int32
			c := newTestClient(t, &fakeAPI{catalogStatus: tt.status, catalogBody: tt.body}, cdnServing(200, catalogJSON, &cdnHits))

			snap, err := c.FetchCatalog(context.Background())
			require.NoError(t, err)
			assert.Equal(t, OriginCDN, snap.Metadata.Origin)
			assert.Len(t, snap.Records, 2)
			assert.Equal(t, int32(1), cdnHits.Load())
		})
	}
}

func TestFetchCatalog_OfflineSkipsCDN(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"status code", http.StatusServiceUnavailable, ""},
		{"body status", http.StatusOK, `{"status": 503, "message": "maintenance"}`},
		{"body code string", http.StatusBadGateway, `{"code": "503"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cdnHits atomic.Int32
			c := newTestClient(t, &fakeAPI{catalogStatus: tt.status, catalogBody: tt.body}, cdnServing(200, catalogJSON, &cdnHits))

			_, err := c.FetchCatalog(context.Background())
			require.Error(t, err)
			assert.True(t, domain.IsServiceOffline(err))
			assert.False(t, domain.IsRetryable(err))
			assert.Equal(t, int32(0), cdnHits.Load())
		})
	}
}

func TestFetchCatalog_CDNCorrupt(t *testing.T) {
	var cdnHits atomic.Int32
	c := newTestClient(t, &fakeAPI{catalogStatus: 500}, cdnServing(200, "not json at all", &cdnHits))

	_, err := c.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindCorrupt, domain.Classify(err))
}

func TestFetchCatalog_NoCDN(t *testing.T) {
	c := newTestClient(t, &fakeAPI{catalogStatus: 500}, nil)

	_, err := c.FetchCatalog(context.Background())
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestFetchImage(t *testing.T) {
	api := &fakeAPI{imageBody: "\xff\xd8jpeg"}
	c := newTestClient(t, api, nil)

	data, err := c.FetchImage(context.Background(), "img a", 1700000000, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8jpeg", string(data))
	assert.Equal(t, "sig=abc123&ts=1700000000", api.lastQuery.Load())
}

func TestFetchImage_Classification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   domain.ErrorKind
	}{
		{"404", http.StatusNotFound, "", domain.KindNotFound},
		{"400 not found body", http.StatusBadRequest, `{"error":"Image Not Found"}`, domain.KindNotFound},
		{"400 other", http.StatusBadRequest, "bad sig", domain.KindTransient},
		{"500", http.StatusInternalServerError, "", domain.KindTransient},
		{"offline", http.StatusServiceUnavailable, "", domain.KindServiceOffline},
		{"empty body", http.StatusOK, "", domain.KindCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &fakeAPI{imageStatus: tt.status, imageBody: tt.body}, nil)
			_, err := c.FetchImage(context.Background(), "x", 1, "s")
			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.Classify(err))
		})
	}
}

func TestFetchImage_ConnectionFailureIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	c := New(bridge.NewHTTPTransport(nil, nil), Options{BaseURL: base}, nil)
	_, err := c.FetchImage(context.Background(), "x", 1, "s")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.Classify(err))
}

func TestFetchImage_CustomOfflineStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(599)
	}))
	defer server.Close()

	c := New(bridge.NewHTTPTransport(server.Client(), nil), Options{BaseURL: server.URL, OfflineStatus: 599}, nil)
	_, err := c.FetchImage(context.Background(), "x", 1, "s")
	assert.True(t, domain.IsServiceOffline(err))
}

func TestFetchImageByGameID(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, nil)
	data, err := c.FetchImageByGameID(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "game-cover:1001", string(data))
}

func TestLastModified(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, nil)
	marker, err := c.LastModified(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Tue, 06 Jan 2026 10:00:00 GMT", marker)
}

func TestCheckUpdate(t *testing.T) {
	c := newTestClient(t, &fakeAPI{}, nil)

	info, err := c.CheckUpdate(context.Background(), "1001", "1.0")
	require.NoError(t, err)
	assert.True(t, info.UpdateAvailable)
	assert.Equal(t, "1.2", info.LatestVersion)

	info, err = c.CheckUpdate(context.Background(), "1001", "1.2")
	require.NoError(t, err)
	assert.False(t, info.UpdateAvailable)
	assert.Equal(t, "1.2", info.LatestVersion)
}

func TestRedact(t *testing.T) {
	assert.Equal(t, "https://api/v2/image/x?sig=REDACTED&ts=1", redact("https://api/v2/image/x?ts=1&sig=secret"))
	assert.Equal(t, "https://api/json/games", redact("https://api/json/games"))
}

func TestValidate(t *testing.T) {
	assert.Error(t, New(nil, Options{BaseURL: "x"}, nil).Validate())
	assert.Error(t, New(bridge.NewHTTPTransport(nil, nil), Options{}, nil).Validate())
	assert.NoError(t, New(bridge.NewHTTPTransport(nil, nil), Options{BaseURL: "x"}, nil).Validate())
}

func TestFetchCatalog_RecordsLastModifiedHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Last-Modified", "Wed, 07 Jan 2026 08:00:00 GMT")
		w.Write([]byte(catalogJSON))
	}))
	defer server.Close()

	c := New(bridge.NewHTTPTransport(server.Client(), nil), Options{BaseURL: server.URL}, nil)
	snap, err := c.FetchCatalog(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Wed, 07 Jan 2026 08:00:00 GMT", snap.Metadata.LastModified)
}
