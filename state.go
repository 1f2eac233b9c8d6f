package rendercache

import "time"

// State of a cache entry as seen under a policy.
type State int

const (
	StateEmpty State = iota
	StateFresh
	StateStale
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateFresh:
		return "fresh"
	case StateStale:
		return "stale"
	case StateRefreshing:
		return "refreshing"
	}
	return "unknown"
}

// Status tells how a resolution was served.
type Status string

const (
	// StatusHit means a cached value was served without fetching.
	StatusHit Status = "hit"
	// StatusMiss means nothing was cached and the value was fetched in the foreground.
	StatusMiss Status = "miss"
	// StatusStale means a stale value was served and a background refresh was started or already running.
	StatusStale Status = "stale"
	// StatusBypass means the policy required a fetch regardless of the cache.
	StatusBypass Status = "bypass"
)

// Result is the outcome of a resolution.
type Result struct {
	Value     any
	Status    Status
	FetchedAt time.Time
	// Age of the value when it was served.
	Age time.Duration
}
