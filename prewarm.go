package rendercache

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prewarm resolves every key under the given policy ahead of request time,
// emulating build-time generation. Keys that resolve successfully join the
// static set served to StaticOnly policies. Every key is attempted; the
// returned *PrewarmError lists the ones that failed.
func (e *Engine) Prewarm(ctx context.Context, keys []string, p Policy, load LoadFunc) error {
	if load == nil {
		return ErrNilFetcher
	}
	// prewarming is what fills the static set
	p.StaticOnly = false
	if err := p.Validate(); err != nil {
		return err
	}

	var (
		g      errgroup.Group
		mutex  sync.Mutex
		failed = make(map[string]error)
	)
	g.SetLimit(e.prewarmConcurrency)
	for _, key := range keys {
		g.Go(func() error {
			_, err := e.ResolveResult(ctx, key, p, func(ctx context.Context) (any, error) {
				return load(ctx, key)
			})
			if err != nil {
				e.log.Error().Err(err).Str("key", key).Msg("Could not prewarm key")
				mutex.Lock()
				failed[key] = err
				mutex.Unlock()
				return nil
			}
			e.markPrewarmed(key)
			return nil
		})
	}
	// workers report failures through the map
	_ = g.Wait()

	if len(failed) > 0 {
		return &PrewarmError{Failed: failed}
	}
	e.log.Info().Int("keys", len(keys)).Str("policy", p.String()).Msg("Prewarmed cache")
	return nil
}

// Prewarmed reports whether key is in the static set.
func (e *Engine) Prewarmed(key string) bool {
	e.staticMutex.RLock()
	defer e.staticMutex.RUnlock()
	_, ok := e.static[key]
	return ok
}

func (e *Engine) markPrewarmed(key string) {
	e.staticMutex.Lock()
	defer e.staticMutex.Unlock()
	e.static[key] = struct{}{}
}
