package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second

	// Catalog documents run to a few MB; anything past this is not ours.
	maxResponseBytes = 64 << 20
)

// HTTPTransport issues requests directly with net/http. It never produces
// opaque responses: status and headers are always readable.
type HTTPTransport struct {
	client *http.Client
	logger *slog.Logger
}

var _ domain.Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport. A nil client gets a default with a
// 30s timeout.
func NewHTTPTransport(client *http.Client, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{client: client, logger: logger}
}

// Do performs req and reads the full body.
func (t *HTTPTransport) Do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		// Relaxed requests keep whatever arrived before the failure.
		if !req.Opaque {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		t.logger.Debug("partial body on relaxed request", "url", req.URL, "error", err)
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
