// Package remote talks to the vendor API and its CDN mirror through the host
// transport.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
	"github.com/mmcdole/kiosk/internal/manifest"
)

const (
	defaultUserAgent     = "Kiosk/1.0"
	defaultOfflineStatus = http.StatusServiceUnavailable

	catalogPath     = "/json/games"
	imagePath       = "/v2/image/"
	gameImagePath   = "/v3/image/"
	checkUpdatePath = "/v3/game/checkupdate/"

	// Bodies larger than this are never inspected for an embedded offline code.
	maxStatusBody = 4 << 10
)

// Origins recorded in snapshot metadata.
const (
	OriginPrimary = "primary"
	OriginCDN     = "cdn"
)

// Options configures a Client.
type Options struct {
	BaseURL       string // canonical API host
	CDNURL        string // static catalog mirror, optional
	OfflineStatus int    // vendor "intentionally offline" code
	UserAgent     string
}

// Client implements the remote fetch adapter.
type Client struct {
	transport domain.Transport
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a remote client.
func New(transport domain.Transport, opts Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.OfflineStatus == 0 {
		opts.OfflineStatus = defaultOfflineStatus
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Client{
		transport: transport,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// FetchCatalog downloads the full catalog from the primary API, falling back
// to the CDN mirror on any failure except an offline signal.
func (c *Client) FetchCatalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	snap, err := c.fetchPrimaryCatalog(ctx)
	if err == nil {
		return snap, nil
	}
	if domain.IsServiceOffline(err) || ctx.Err() != nil {
		return nil, err
	}
	if c.opts.CDNURL == "" {
		return nil, err
	}

	c.logger.Warn("primary catalog fetch failed, trying CDN", "error", err)

	snap, cdnErr := c.fetchCDNCatalog(ctx)
	if cdnErr != nil {
		c.logger.Error("CDN catalog fetch failed", "error", cdnErr)
		return nil, cdnErr
	}
	return snap, nil
}

func (c *Client) fetchPrimaryCatalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	resp, err := c.do(ctx, domain.Request{
		Method: http.MethodGet,
		URL:    c.opts.BaseURL + catalogPath,
		Header: c.headers(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}

	snap, err := manifest.Decode(resp.Body, domain.SourceRemote, c.now())
	if err != nil {
		return nil, err
	}
	snap.Metadata.Origin = OriginPrimary
	// The HEAD marker wins over the document's own field so revalidation
	// compares like with like.
	if marker := lastModified(resp.Header); marker != "" {
		snap.Metadata.LastModified = marker
	}
	return snap, nil
}

// fetchCDNCatalog tolerates opaque responses: whatever body the host could
// read is parsed, and a parse failure is reported as corrupt.
func (c *Client) fetchCDNCatalog(ctx context.Context) (*domain.CatalogSnapshot, error) {
	resp, err := c.do(ctx, domain.Request{
		Method: http.MethodGet,
		URL:    c.opts.CDNURL,
		Header: c.headers(),
		Opaque: true,
	})
	if err != nil {
		return nil, err
	}
	if !resp.Opaque && resp.StatusCode != 0 {
		if err := c.checkStatus(resp); err != nil {
			return nil, err
		}
	}

	snap, err := manifest.Decode(resp.Body, domain.SourceRemote, c.now())
	if err != nil {
		return nil, domain.NewCorrupt(err, "CDN catalog unreadable")
	}
	snap.Metadata.Origin = OriginCDN
	return snap, nil
}

// LastModified reads the catalog's last-modified marker with a HEAD request.
// ETag is used when the server sends no Last-Modified header.
func (c *Client) LastModified(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, domain.Request{
		Method: http.MethodHead,
		URL:    c.opts.BaseURL + catalogPath,
		Header: c.headers(),
	})
	if err != nil {
		return "", err
	}
	if err := c.checkStatus(resp); err != nil {
		return "", err
	}
	return lastModified(resp.Header), nil
}

func lastModified(h http.Header) string {
	if v := h.Get("Last-Modified"); v != "" {
		return v
	}
	return h.Get("ETag")
}

// FetchImage downloads cover art for imageID. ts and sig must come from a
// fresh signer stamp.
func (c *Client) FetchImage(ctx context.Context, imageID string, ts int64, sig string) ([]byte, error) {
	query := url.Values{}
	query.Set("ts", strconv.FormatInt(ts, 10))
	query.Set("sig", sig)
	reqURL := c.opts.BaseURL + imagePath + url.PathEscape(imageID) + "?" + query.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, domain.NewCorrupt(nil, "empty image body for %s", imageID)
	}
	return body, nil
}

// FetchImageByGameID downloads cover art addressed by vendor game id.
func (c *Client) FetchImageByGameID(ctx context.Context, gameID string) ([]byte, error) {
	body, err := c.get(ctx, c.opts.BaseURL+gameImagePath+url.PathEscape(gameID))
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, domain.NewCorrupt(nil, "empty image body for game %s", gameID)
	}
	return body, nil
}

// UpdateInfo is the answer to an update check.
type UpdateInfo struct {
	GameID          string `json:"gameId"`
	LocalVersion    string `json:"localVersion"`
	LatestVersion   string `json:"latestVersion"`
	UpdateAvailable bool   `json:"updateAvailable"`
}

type updateDTO struct {
	UpdateAvailable *bool  `json:"update_available"`
	LatestVersion   string `json:"latest_version"`
	Version         string `json:"version"`
}

// CheckUpdate asks whether a newer build than localVersion exists.
func (c *Client) CheckUpdate(ctx context.Context, gameID, localVersion string) (*UpdateInfo, error) {
	query := url.Values{}
	query.Set("local_version", localVersion)
	reqURL := c.opts.BaseURL + checkUpdatePath + url.PathEscape(gameID) + "?" + query.Encode()

	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var dto updateDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return nil, domain.NewCorrupt(err, "failed to parse update check for %s", gameID)
	}

	info := &UpdateInfo{
		GameID:        gameID,
		LocalVersion:  localVersion,
		LatestVersion: dto.LatestVersion,
	}
	if info.LatestVersion == "" {
		info.LatestVersion = dto.Version
	}
	if dto.UpdateAvailable != nil {
		info.UpdateAvailable = *dto.UpdateAvailable
	} else {
		info.UpdateAvailable = info.LatestVersion != "" && info.LatestVersion != localVersion
	}
	return info, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json")
	h.Set("User-Agent", c.opts.UserAgent)
	return h
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	resp, err := c.do(ctx, domain.Request{
		Method: http.MethodGet,
		URL:    reqURL,
		Header: c.headers(),
	})
	if err != nil {
		return nil, err
	}
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *Client) do(ctx context.Context, req domain.Request) (*domain.Response, error) {
	c.logger.Debug("remote request", "method", req.Method, "url", redact(req.URL))

	resp, err := c.transport.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Errors already classified by the transport pass through.
		if domain.Classify(err) != domain.KindUnknown {
			return nil, err
		}
		return nil, domain.NewTransient(err, "request to %s failed", redact(req.URL))
	}
	if resp == nil {
		return nil, domain.NewTransient(nil, "no response from %s", redact(req.URL))
	}
	return resp, nil
}

// checkStatus maps a response onto the error taxonomy.
func (c *Client) checkStatus(resp *domain.Response) error {
	if c.offlineBody(resp.Body) {
		return domain.NewServiceOffline("service reported offline in response body")
	}
	if resp.OK() {
		return nil
	}

	switch {
	case resp.StatusCode == c.opts.OfflineStatus:
		return domain.NewServiceOffline("service offline (status %d)", resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return domain.NewNotFound("resource not found")
	case resp.StatusCode == http.StatusBadRequest && bytes.Contains(bytes.ToLower(resp.Body), []byte("not found")):
		return domain.NewNotFound("resource not found")
	default:
		return domain.NewTransient(nil, "unexpected status code: %d", resp.StatusCode)
	}
}

// offlineBody reports whether a small JSON error body carries the vendor
// offline code as "status" or "code".
func (c *Client) offlineBody(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || len(body) > maxStatusBody || body[0] != '{' {
		return false
	}
	var payload struct {
		Status json.RawMessage `json:"status"`
		Code   json.RawMessage `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}
	want := strconv.Itoa(c.opts.OfflineStatus)
	return rawEquals(payload.Status, want) || rawEquals(payload.Code, want)
}

func rawEquals(raw json.RawMessage, want string) bool {
	if len(raw) == 0 {
		return false
	}
	return strings.Trim(string(raw), `" `) == want
}

// redact strips the signature from URLs before they reach logs.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("sig") {
		q.Set("sig", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

var errNoTransport = errors.New("remote: no transport configured")

// Validate reports configuration problems that make every call fail.
func (c *Client) Validate() error {
	if c.transport == nil {
		return errNoTransport
	}
	if c.opts.BaseURL == "" {
		return fmt.Errorf("remote: base URL is required")
	}
	return nil
}
