package domain

import (
	"errors"
	"fmt"
)

// ErrKind buckets failures for retry and reporting decisions.
type ErrKind int

const (
	// KindNetworkTransient covers connection errors and HTTP 5xx.
	KindNetworkTransient ErrKind = iota
	// KindRateLimited covers HTTP 429 and provider quota responses.
	KindRateLimited
	// KindAuthInvalid covers HTTP 401/403; never retried.
	KindAuthInvalid
	// KindPayloadTooLarge signals the direct download path is too big.
	KindPayloadTooLarge
	// KindCacheCorrupt marks an artifact that failed the integrity check.
	KindCacheCorrupt
	// KindNoCoverage marks legitimate absence of data, not a failure.
	KindNoCoverage
	// KindShapeMismatch marks a layer that violates the GridSpec contract.
	KindShapeMismatch
)

func (k ErrKind) String() string {
	switch k {
	case KindNetworkTransient:
		return "network_transient"
	case KindRateLimited:
		return "rate_limited"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindCacheCorrupt:
		return "cache_corrupt"
	case KindNoCoverage:
		return "no_coverage"
	case KindShapeMismatch:
		return "shape_mismatch"
	default:
		return fmt.Sprintf("ErrKind(%d)", int(k))
	}
}

// Retryable reports whether another attempt can change the outcome.
func (k ErrKind) Retryable() bool {
	return k == KindNetworkTransient || k == KindRateLimited
}

// ClassifiedError attaches an ErrKind and the failing operation to an
// underlying cause. Use errors.As / KindOf to dispatch on it.
type ClassifiedError struct {
	Kind ErrKind
	Op   string
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a kind and operation name.
func Classify(kind ErrKind, op string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Op: op, Err: err}
}

// Classifyf builds a classified error from a format string.
func Classifyf(kind ErrKind, op, format string, args ...any) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the classification from an error chain.
func KindOf(err error) (ErrKind, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ValidationError reports an invalid construction input with the offending
// field named. It escapes the core: callers fix their input.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return e.Msg }

// ShapeMismatchError reports a layer whose dimensions violate the current
// GridSpec. It is fatal: the harmonizer contract was broken by a caller.
type ShapeMismatchError struct {
	Layer              string
	WantRows, WantCols int
	GotRows, GotCols   int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("layer %q dimensions %dx%d do not match master grid %dx%d",
		e.Layer, e.GotRows, e.GotCols, e.WantRows, e.WantCols)
}
