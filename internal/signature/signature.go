// Package signature signs remote image requests with a time-boxed HMAC.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mmcdole/kiosk/internal/domain"
)

// DefaultSecret is used when the host cannot supply one. Requests signed with
// it still go out; the server decides whether to honor them.
const DefaultSecret = "kiosk-default-signing-key"

// Signer produces HMAC-SHA256 signatures over Unix timestamps.
type Signer struct {
	secrets  domain.SecretSource
	fallback string
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.Mutex
	secret string // cached after the first successful lookup
}

// Option configures a Signer.
type Option func(*Signer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithFallback overrides the secret used when the host has none.
func WithFallback(secret string) Option {
	return func(s *Signer) {
		if secret != "" {
			s.fallback = secret
		}
	}
}

// New creates a signer. secrets may be nil, in which case the fallback
// secret is always used.
func New(secrets domain.SecretSource, logger *slog.Logger, opts ...Option) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Signer{
		secrets:  secrets,
		fallback: DefaultSecret,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Compute returns the hex HMAC-SHA256 of the decimal timestamp.
func Compute(secret string, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign returns the signature for timestamp using the host secret.
func (s *Signer) Sign(ctx context.Context, timestamp int64) string {
	return Compute(s.resolveSecret(ctx), timestamp)
}

// Stamp generates a fresh timestamp and its signature. Call it once per
// outgoing request; reusing a stamp defeats replay protection.
func (s *Signer) Stamp(ctx context.Context) (int64, string) {
	ts := s.now().Unix()
	return ts, s.Sign(ctx, ts)
}

func (s *Signer) resolveSecret(ctx context.Context) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.secret != "" {
		return s.secret
	}
	if s.secrets == nil {
		return s.fallback
	}

	secret, err := s.secrets.Secret(ctx)
	if err != nil || secret == "" {
		s.logger.Warn("signing secret unavailable, using fallback", "error", err)
		return s.fallback
	}
	s.secret = secret
	return secret
}
