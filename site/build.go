package site

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	rendercache "github.com/always-cache/render-cache"
	"github.com/always-cache/render-cache/pkg/records"

	"github.com/google/uuid"
)

// BuildInfo describes the last build.
type BuildInfo struct {
	ID        string    `json:"id"`
	BuiltAt   time.Time `json:"builtAt"`
	Prewarmed []string  `json:"prewarmed"`
	Failed    []string  `json:"failed,omitempty"`
}

// Build emulates build-time generation.
// It prewarms the blog list and the first posts of the list together with
// their authors, so those pages are served from the cache from the first request.
// Keys that could not be prewarmed are listed in the returned info and error.
func (s *Site) Build(ctx context.Context) (BuildInfo, error) {
	info := BuildInfo{
		ID:      uuid.NewString(),
		BuiltAt: s.clock.Now(),
	}
	s.log.Info().Str("build", info.ID).Int("staticPosts", s.staticPosts).Msg("Starting build")

	var errs []error
	attempted := []string{postsKey}
	err := s.engine.Prewarm(ctx, attempted, s.policies.BlogList, func(ctx context.Context, _ string) (any, error) {
		return s.source.Posts(ctx)
	})
	if err != nil {
		errs = append(errs, err)
	} else if posts, err := rendercache.ResolveAs(ctx, s.engine, postsKey, rendercache.ForceCache(), s.source.Posts); err != nil {
		errs = append(errs, err)
	} else {
		keys, err := s.prewarmPosts(ctx, posts)
		attempted = append(attempted, keys...)
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, key := range attempted {
		if s.engine.Prewarmed(key) {
			info.Prewarmed = append(info.Prewarmed, key)
		} else {
			info.Failed = append(info.Failed, key)
		}
	}

	s.buildMutex.Lock()
	s.build = info
	s.buildMutex.Unlock()

	if len(errs) > 0 {
		s.log.Error().Str("build", info.ID).Strs("failed", info.Failed).Msg("Build finished with failures")
		return info, errors.Join(errs...)
	}
	s.log.Info().Str("build", info.ID).Int("prewarmed", len(info.Prewarmed)).Msg("Build finished")
	return info, nil
}

// prewarmPosts prewarms the first posts of the list and their authors.
// The static post ids come from the list, like the pages' static params.
// It returns every key it attempted.
func (s *Site) prewarmPosts(ctx context.Context, posts []records.Post) ([]string, error) {
	ids := make(map[string]int)
	for _, post := range posts[:min(len(posts), s.staticPosts)] {
		ids[postKey(post.ID)] = post.ID
	}
	keys := sortedKeys(ids)
	postsErr := s.engine.Prewarm(ctx, keys, s.policies.BlogPost, func(ctx context.Context, key string) (any, error) {
		return s.source.Post(ctx, ids[key])
	})

	authors := make(map[string]int)
	for _, key := range keys {
		if !s.engine.Prewarmed(key) {
			continue
		}
		post, err := rendercache.ResolveAs(ctx, s.engine, key, rendercache.ForceCache(), func(ctx context.Context) (records.Post, error) {
			return s.source.Post(ctx, ids[key])
		})
		if err == nil {
			authors[userKey(post.UserID)] = post.UserID
		}
	}
	authorKeys := sortedKeys(authors)
	authorsErr := s.engine.Prewarm(ctx, authorKeys, s.policies.Author, func(ctx context.Context, key string) (any, error) {
		return s.source.User(ctx, authors[key])
	})

	return append(keys, authorKeys...), errors.Join(postsErr, authorsErr)
}

// BuildInfo returns the info of the last build.
func (s *Site) BuildInfo() BuildInfo {
	s.buildMutex.RLock()
	defer s.buildMutex.RUnlock()
	return s.build
}

func (s *Site) handleBuild(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, s.BuildInfo())
}

type entryView struct {
	Key         string    `json:"key"`
	State       string    `json:"state"`
	Policy      string    `json:"policy"`
	Prewarmed   bool      `json:"prewarmed"`
	RequestedAt time.Time `json:"requestedAt"`
	FetchedAt   time.Time `json:"fetchedAt"`
	AgeSeconds  int64     `json:"ageSeconds"`
}

// handleCache lists the engine entries with their state under the policy of the page using them.
func (s *Site) handleCache(w http.ResponseWriter, r *http.Request) {
	now := s.clock.Now()
	entries := s.engine.Entries()
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		p := s.policyFor(e.Key)
		views = append(views, entryView{
			Key:         e.Key,
			State:       s.engine.State(e.Key, p).String(),
			Policy:      p.String(),
			Prewarmed:   s.engine.Prewarmed(e.Key),
			RequestedAt: e.RequestedAt,
			FetchedAt:   e.FetchedAt,
			AgeSeconds:  int64(now.Sub(e.FetchedAt) / time.Second),
		})
	}
	s.writeJSON(w, r, http.StatusOK, views)
}

func (s *Site) policyFor(key string) rendercache.Policy {
	switch {
	case key == postsKey:
		return s.policies.BlogList
	case strings.HasPrefix(key, "post:"):
		return s.policies.BlogPost
	default:
		return s.policies.Author
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m[keys[i]] < m[keys[j]]
	})
	return keys
}
