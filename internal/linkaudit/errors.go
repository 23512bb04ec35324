package linkaudit

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of error origins the analyser and queue
// report. It is a kind, not a distinct error type per origin: callers
// branch on Kind via errors.As on a single KindError wrapper.
type Kind string

const (
	KindTransientFetch     Kind = "transient_fetch"
	KindBlocked403         Kind = "blocked_403"
	KindHTTPError          Kind = "http_4xx_5xx"
	KindNonIndexable       Kind = "non_indexable"
	KindCanonicalised      Kind = "canonicalised"
	KindMalformedInput     Kind = "malformed_input"
	KindBackendUnavailable Kind = "backend_unavailable"
)

// KindError wraps an underlying error with its taxonomy kind.
type KindError struct {
	Kind Kind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err under the given kind. A nil err still
// produces a matchable sentinel for kinds that carry no underlying
// cause (e.g. KindNonIndexable).
func NewKindError(kind Kind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, if any KindError is present in
// its chain.
func KindOf(err error) (Kind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind, true
	}
	return "", false
}

// IsKind reports whether err's chain carries the given Kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// ErrBackendUnavailable is returned by Queue/Repository operations
// when the storage layer cannot be reached.
var ErrBackendUnavailable = NewKindError(KindBackendUnavailable, errors.New("backend unavailable"))

// ErrMalformedInput is returned by producer-facing calls (enqueue,
// sheet creation) that reject invalid input before it ever reaches the
// queue.
var ErrMalformedInput = NewKindError(KindMalformedInput, errors.New("malformed input"))
