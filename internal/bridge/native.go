// Package bridge provides the in-process host platform: settings, network,
// local files, the signing secret and file URLs.
package bridge

import (
	"context"
	"log/slog"
	"net/url"
	"path/filepath"

	"github.com/mmcdole/kiosk/internal/config"
	"github.com/mmcdole/kiosk/internal/domain"
)

// ConfigLoader returns the current configuration. It is called on every
// settings read, so callers put a cache in front of Native.
type ConfigLoader func() (*config.Config, error)

// Native implements domain.Host without an external shell.
type Native struct {
	load      ConfigLoader
	transport domain.Transport
	files     domain.FileReader
	logger    *slog.Logger
}

var _ domain.Host = (*Native)(nil)

// NewNative assembles a host. transport and files default to net/http and
// the local disk.
func NewNative(load ConfigLoader, transport domain.Transport, files domain.FileReader, logger *slog.Logger) *Native {
	if logger == nil {
		logger = slog.Default()
	}
	if transport == nil {
		transport = NewHTTPTransport(nil, logger)
	}
	if files == nil {
		files = NewLocalReader()
	}
	return &Native{
		load:      load,
		transport: transport,
		files:     files,
		logger:    logger,
	}
}

// StaticConfig returns a loader that always yields cfg.
func StaticConfig(cfg *config.Config) ConfigLoader {
	return func() (*config.Config, error) { return cfg, nil }
}

// Settings reads the source section of the current configuration.
func (n *Native) Settings(ctx context.Context) (domain.Settings, error) {
	cfg, err := n.load()
	if err != nil {
		return domain.Settings{}, err
	}
	return cfg.Settings(), nil
}

// Do delegates to the transport.
func (n *Native) Do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	return n.transport.Do(ctx, req)
}

// ReadFile delegates to the file reader.
func (n *Native) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return n.files.ReadFile(ctx, path)
}

// Secret returns the configured API secret, or ErrNoSecret when unset.
func (n *Native) Secret(ctx context.Context) (string, error) {
	cfg, err := n.load()
	if err != nil {
		return "", err
	}
	if cfg.API.Secret == "" {
		return "", domain.ErrNoSecret
	}
	return cfg.API.Secret, nil
}

// FileURL returns a file:// URL for path.
func (n *Native) FileURL(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}
