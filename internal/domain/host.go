package domain

import (
	"context"
	"net/http"
)

// Settings is the host-provided configuration snapshot.
type Settings struct {
	Mode      SourceKind // REMOTE or LOCAL
	LocalPath string     // dataset root, used in LOCAL mode
	Manifest  string     // catalog file name under LocalPath
	Provider  string     // preferred download provider
}

// IsLocal reports whether local dataset mode is active.
func (s Settings) IsLocal() bool {
	return s.Mode == SourceLocal
}

// SettingsSource supplies the current settings snapshot.
type SettingsSource interface {
	Settings(ctx context.Context) (Settings, error)
}

// Request is a network call delegated to the host.
// Opaque asks for relaxed handling where the response may not be introspectable.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Opaque bool
}

// Response is the host's answer to a Request.
// An opaque response carries StatusCode 0 and whatever body could be read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Opaque     bool
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// Transport issues network requests on behalf of the cache.
type Transport interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// FileReader reads local files through the host.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// SecretSource supplies the request-signing secret.
type SecretSource interface {
	Secret(ctx context.Context) (string, error)
}

// URLResolver turns a local path into a browsable URL.
type URLResolver interface {
	FileURL(path string) string
}

// Host is the full platform bridge.
type Host interface {
	SettingsSource
	Transport
	FileReader
	SecretSource
	URLResolver
}
