package rendercache

import (
	"context"
	"fmt"
	"sync"

	"github.com/always-cache/render-cache/cache"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher produces the value of a single resolution.
// It is responsible for its own timeout.
type Fetcher func(ctx context.Context) (any, error)

// LoadFunc produces the value for a key. It is used where one call covers many keys.
type LoadFunc func(ctx context.Context, key string) (any, error)

type Config struct {
	// Storage for cache entries.
	// An in-memory provider is used if nil.
	Cache cache.Provider
	// Clock used for fetch timestamps and entry ages.
	// The real clock is used if nil.
	Clock clockwork.Clock
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Maximum number of keys fetched at the same time by Prewarm. Defaults to 4.
	PrewarmConcurrency int
}

// Engine resolves resource keys according to a per-call Policy.
// It coalesces concurrent fetches of the same key and refreshes
// stale entries in the background.
type Engine struct {
	cache              cache.Provider
	clock              clockwork.Clock
	log                zerolog.Logger
	prewarmConcurrency int

	flights    singleflight.Group
	refreshing sync.Map
	background sync.WaitGroup

	staticMutex sync.RWMutex
	static      map[string]struct{}
}

// New creates an engine, filling in defaults for unset config fields.
func New(config Config) *Engine {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	e := &Engine{
		cache:              config.Cache,
		clock:              config.Clock,
		log:                logger.With().Str("component", "engine").Logger(),
		prewarmConcurrency: config.PrewarmConcurrency,
		static:             make(map[string]struct{}),
	}
	if e.cache == nil {
		e.cache = cache.NewMemCache()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.prewarmConcurrency <= 0 {
		e.prewarmConcurrency = 4
	}
	return e
}

// flight is the shared outcome of one coalesced fetch.
// fetched is false when the flight found an entry and served it instead of fetching.
type flight struct {
	entry   cache.Entry
	fetched bool
}

// Resolve returns the value for key under the given policy,
// fetching it with fetch when the policy requires it.
func (e *Engine) Resolve(ctx context.Context, key string, p Policy, fetch Fetcher) (any, error) {
	res, err := e.ResolveResult(ctx, key, p, fetch)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

// ResolveResult is like Resolve, but also reports how the value was served.
func (e *Engine) ResolveResult(ctx context.Context, key string, p Policy, fetch Fetcher) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}
	if fetch == nil {
		return Result{}, fmt.Errorf("%w: key %q", ErrNilFetcher, key)
	}
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if p.StaticOnly && !e.Prewarmed(key) {
		e.log.Trace().Str("key", key).Msg("Key was not prewarmed")
		return Result{}, fmt.Errorf("%w: %q", ErrNotPrewarmed, key)
	}

	switch p.Mode {
	case ModeForceCache:
		if ce, ok := e.cache.Get(key); ok {
			e.log.Trace().Str("key", key).Msg("Cache hit")
			return e.result(ce, StatusHit), nil
		}
		return e.fetchNow(ctx, key, fetch, true)
	case ModeRevalidate:
		ce, ok := e.cache.Get(key)
		if !ok {
			return e.fetchNow(ctx, key, fetch, true)
		}
		if e.clock.Since(ce.FetchedAt) < p.TTL {
			e.log.Trace().Str("key", key).Msg("Cache hit")
			return e.result(ce, StatusHit), nil
		}
		e.revalidate(ctx, key, fetch)
		return e.result(ce, StatusStale), nil
	default:
		return e.fetchNow(ctx, key, fetch, false)
	}
}

// fetchNow fetches key in the foreground, joining a fetch already in flight.
// With reuse set, an entry stored while waiting is served instead of fetching again.
// Without it, the caller only accepts a value that was actually fetched.
func (e *Engine) fetchNow(ctx context.Context, key string, fetch Fetcher, reuse bool) (Result, error) {
	for {
		f, err := e.await(ctx, key, e.flight(ctx, key, fetch, reuse))
		if err != nil {
			return Result{}, err
		}
		switch {
		case f.fetched && reuse:
			return e.result(f.entry, StatusMiss), nil
		case f.fetched:
			return e.result(f.entry, StatusBypass), nil
		case reuse:
			return e.result(f.entry, StatusHit), nil
		}
		// joined a flight that served the cached entry, go again
	}
}

func (e *Engine) await(ctx context.Context, key string, fn func() (any, error)) (flight, error) {
	ch := e.flights.DoChan(key, fn)
	select {
	case <-ctx.Done():
		// the flight keeps going and still stores its result
		return flight{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return flight{}, res.Err
		}
		return res.Val.(flight), nil
	}
}

// flight returns the function run by a coalesced fetch of key.
// It is detached from the caller's cancellation, so an abandoned fetch is still cached.
func (e *Engine) flight(ctx context.Context, key string, fetch Fetcher, reuse bool) func() (any, error) {
	ctx = context.WithoutCancel(ctx)
	return func() (f any, err error) {
		if reuse {
			if ce, ok := e.cache.Get(key); ok {
				return flight{entry: ce}, nil
			}
		}
		defer func() {
			if r := recover(); r != nil {
				f, err = nil, &FetchError{Key: key, Err: fmt.Errorf("fetcher panic: %v", r)}
			}
		}()

		requestedAt := e.clock.Now()
		e.log.Debug().Str("key", key).Msg("Fetching")
		value, err := fetch(ctx)
		if err != nil {
			return nil, &FetchError{Key: key, Err: err}
		}
		ce := cache.Entry{
			Key:         key,
			Value:       value,
			RequestedAt: requestedAt,
			FetchedAt:   e.clock.Now(),
		}
		if !e.cache.Put(ce) {
			e.log.Trace().Str("key", key).Msg("Kept newer cache entry")
		}
		return flight{entry: ce, fetched: true}, nil
	}
}

func (e *Engine) result(ce cache.Entry, status Status) Result {
	return Result{
		Value:     ce.Value,
		Status:    status,
		FetchedAt: ce.FetchedAt,
		Age:       e.clock.Since(ce.FetchedAt),
	}
}

// State returns the state of the entry for key as seen under the given policy.
func (e *Engine) State(key string, p Policy) State {
	ce, ok := e.cache.Get(key)
	if !ok {
		return StateEmpty
	}
	if _, running := e.refreshing.Load(key); running {
		return StateRefreshing
	}
	if p.Mode == ModeRevalidate && e.clock.Since(ce.FetchedAt) >= p.TTL {
		return StateStale
	}
	return StateFresh
}

// Entries returns a snapshot of all cache entries, sorted by key.
func (e *Engine) Entries() []cache.Entry {
	return cache.All(e.cache)
}

// ResolveAs resolves key and asserts the value to T.
func ResolveAs[T any](ctx context.Context, e *Engine, key string, p Policy, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if fetch == nil {
		return zero, fmt.Errorf("%w: key %q", ErrNilFetcher, key)
	}
	v, err := e.Resolve(ctx, key, p, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: key %q holds %T", ErrUnexpectedType, key, v)
	}
	return t, nil
}
