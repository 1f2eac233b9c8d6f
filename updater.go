package rendercache

import "context"

// revalidate starts a background refresh of key, unless one is already running.
// A successful refresh replaces the entry for all future callers.
// A failed one leaves the stale entry untouched and is only logged.
func (e *Engine) revalidate(ctx context.Context, key string, fetch Fetcher) {
	if _, running := e.refreshing.LoadOrStore(key, struct{}{}); running {
		e.log.Trace().Str("key", key).Msg("Refresh already running, serving stale")
		return
	}
	e.log.Trace().Str("key", key).Msg("Serving stale and refreshing in background")

	e.background.Add(1)
	ch := e.flights.DoChan(key, e.flight(ctx, key, fetch, false))
	go func() {
		defer e.background.Done()
		defer e.refreshing.Delete(key)
		res := <-ch
		if res.Err != nil {
			e.log.Error().Err(res.Err).Str("key", key).Msg("Could not revalidate cache entry")
			return
		}
		if f := res.Val.(flight); f.fetched {
			e.log.Debug().Str("key", key).Time("fetchedAt", f.entry.FetchedAt).Msg("Revalidated cache entry")
		}
	}()
}

// Wait blocks until every background refresh started so far has finished.
// Use it for graceful shutdown once no more resolutions are coming in.
func (e *Engine) Wait() {
	e.background.Wait()
}
