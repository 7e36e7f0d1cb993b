package domain

import (
	"context"
	"errors"
	"fmt"

	platformerrors "github.com/jmgilman/go/errors"
)

// Sentinel errors for cache operations
var (
	// ErrTransient indicates a retryable I/O failure (network blip, timeout, 5xx)
	ErrTransient = errors.New("transient I/O failure")

	// ErrNotFound indicates the resource does not exist at the source
	ErrNotFound = errors.New("resource not found")

	// ErrServiceOffline indicates the vendor service is intentionally offline
	ErrServiceOffline = errors.New("service is offline")

	// ErrCorruptResponse indicates a payload that could not be parsed
	ErrCorruptResponse = errors.New("corrupt response payload")

	// ErrNoSecret indicates the host could not provide a signing secret
	ErrNoSecret = errors.New("signing secret unavailable")
)

// ErrorKind is the coarse classification callers branch on.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindNotFound
	KindServiceOffline
	KindCorrupt
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not_found"
	case KindServiceOffline:
		return "service_offline"
	case KindCorrupt:
		return "corrupt_response"
	default:
		return "unknown"
	}
}

// NewTransient wraps cause as a retryable network failure.
func NewTransient(cause error, format string, args ...any) error {
	if cause == nil {
		cause = ErrTransient
	} else {
		cause = fmt.Errorf("%w: %w", ErrTransient, cause)
	}
	return platformerrors.Wrapf(cause, platformerrors.CodeNetwork, format, args...)
}

// NewNotFound builds a permanent miss.
func NewNotFound(format string, args ...any) error {
	return platformerrors.Wrapf(ErrNotFound, platformerrors.CodeNotFound, format, args...)
}

// NewServiceOffline builds an offline error. CodeUnavailable is retryable by
// default, so it is pinned to permanent to stop retry loops.
func NewServiceOffline(format string, args ...any) error {
	err := platformerrors.Wrapf(ErrServiceOffline, platformerrors.CodeUnavailable, format, args...)
	return platformerrors.WithClassification(err, platformerrors.ClassificationPermanent)
}

// NewCorrupt wraps a parse failure.
func NewCorrupt(cause error, format string, args ...any) error {
	if cause == nil {
		cause = ErrCorruptResponse
	} else {
		cause = fmt.Errorf("%w: %w", ErrCorruptResponse, cause)
	}
	return platformerrors.Wrapf(cause, platformerrors.CodeInvalidInput, format, args...)
}

// Classify maps an error onto the cache taxonomy.
func Classify(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrServiceOffline):
		return KindServiceOffline
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCorruptResponse):
		return KindCorrupt
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		return KindUnknown
	}
}

// IsRetryable reports whether another attempt may succeed.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return platformerrors.IsRetryable(err)
}

// IsNotFound reports a permanent miss.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsServiceOffline reports the vendor offline signal.
func IsServiceOffline(err error) bool { return errors.Is(err, ErrServiceOffline) }

// IsCorrupt reports an unparseable payload.
func IsCorrupt(err error) bool { return errors.Is(err, ErrCorruptResponse) }
