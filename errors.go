package rendercache

import (
	"fmt"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

var (
	// ErrFetchFailed is matched by every error produced by a failing fetcher.
	ErrFetchFailed = zerr.New("fetch failed")

	// ErrNotPrewarmed is returned for a static-only resolution of a key that was not prewarmed.
	ErrNotPrewarmed = zerr.New("key was not prewarmed")

	// ErrEmptyKey is returned when resolving an empty resource key.
	ErrEmptyKey = zerr.New("empty resource key")

	// ErrNilFetcher is returned when resolving without a fetcher.
	ErrNilFetcher = zerr.New("nil fetcher")

	// ErrInvalidPolicy is returned for an unknown mode or a negative revalidation TTL.
	ErrInvalidPolicy = zerr.New("invalid cache policy")

	// ErrUnexpectedType is returned by ResolveAs when the cached value has another type.
	ErrUnexpectedType = zerr.New("unexpected cached value type")
)

// FetchError reports a failed fetch for a key.
// It matches both ErrFetchFailed and the fetcher's own error.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %q: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrFetchFailed, e.Err}
}

// PrewarmError lists the keys that could not be prewarmed.
type PrewarmError struct {
	Failed map[string]error
}

// Keys returns the failed keys in sorted order.
func (e *PrewarmError) Keys() []string {
	keys := make([]string, 0, len(e.Failed))
	for key := range e.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (e *PrewarmError) Error() string {
	return fmt.Sprintf("prewarm failed for %d key(s): %s", len(e.Failed), strings.Join(e.Keys(), ", "))
}

func (e *PrewarmError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, key := range e.Keys() {
		errs = append(errs, e.Failed[key])
	}
	return errs
}
