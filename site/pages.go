package site

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	rendercache "github.com/always-cache/render-cache"
	"github.com/always-cache/render-cache/pkg/records"

	"github.com/go-chi/chi/v5"
)

const postsKey = "posts:list"

func postKey(id int) string {
	return "post:" + strconv.Itoa(id)
}

func userKey(id int) string {
	return "user:" + strconv.Itoa(id)
}

type strategyView struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Policy      string `json:"policy,omitempty"`
	Description string `json:"description"`
}

type homeView struct {
	Strategy   string         `json:"strategy"`
	Strategies []strategyView `json:"strategies"`
}

func (s *Site) handleHome(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, homeView{
		Strategy: "csr",
		Strategies: []strategyView{
			{"SSR", "/about", s.policies.About.String(), "Fetches fresh data on every request"},
			{"SSG", "/blog", s.policies.BlogList.String(), "Fetches data once at build time"},
			{"ISR", "/blog/1", s.policies.BlogPost.String(), "Prebuilt, regenerated in the background once stale"},
			{"CSR", "/", "", "Client-side state only, e.g. the live clock and the category search"},
		},
	})
}

type category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

var categories = []category{
	{"Tech", 25},
	{"Lifestyle", 18},
	{"Education", 12},
	{"Business", 15},
	{"Travel", 8},
}

type categoriesView struct {
	Query      string     `json:"query"`
	Found      int        `json:"found"`
	Categories []category `json:"categories"`
}

// handleCategories filters the sidebar categories by name, case-insensitively.
func (s *Site) handleCategories(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	found := make([]category, 0, len(categories))
	for _, c := range categories {
		if strings.Contains(strings.ToLower(c.Name), strings.ToLower(q)) {
			found = append(found, c)
		}
	}
	s.writeJSON(w, r, http.StatusOK, categoriesView{Query: q, Found: len(found), Categories: found})
}

type aboutView struct {
	Strategy  string       `json:"strategy"`
	Policy    string       `json:"policy"`
	User      records.User `json:"user"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

func (s *Site) handleAbout(w http.ResponseWriter, r *http.Request) {
	p := s.policies.About
	res, err := s.engine.ResolveResult(r.Context(), userKey(1), p, s.fetchUser(1))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	user, err := as[records.User](res, userKey(1))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	addCacheStatus(w, userKey(1), p, res)
	s.writeJSON(w, r, http.StatusOK, aboutView{
		Strategy:  "ssr",
		Policy:    p.String(),
		User:      user,
		FetchedAt: res.FetchedAt,
	})
}

type blogView struct {
	Strategy  string         `json:"strategy"`
	Policy    string         `json:"policy"`
	Posts     []records.Post `json:"posts"`
	FetchedAt time.Time      `json:"fetchedAt"`
}

func (s *Site) handleBlog(w http.ResponseWriter, r *http.Request) {
	p := s.policies.BlogList
	res, err := s.engine.ResolveResult(r.Context(), postsKey, p, s.fetchPosts)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	posts, err := as[[]records.Post](res, postsKey)
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	if len(posts) > s.listSize {
		posts = posts[:s.listSize]
	}
	addCacheStatus(w, postsKey, p, res)
	s.writeJSON(w, r, http.StatusOK, blogView{
		Strategy:  "ssg",
		Policy:    p.String(),
		Posts:     posts,
		FetchedAt: res.FetchedAt,
	})
}

type postView struct {
	Strategy  string       `json:"strategy"`
	Policy    string       `json:"policy"`
	Post      records.Post `json:"post"`
	Author    records.User `json:"author"`
	FetchedAt time.Time    `json:"fetchedAt"`
}

func (s *Site) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		s.writeJSON(w, r, http.StatusBadRequest, errorView{Error: "invalid post id"})
		return
	}

	p := s.policies.BlogPost
	if s.strictStatic {
		p = p.Static()
	}
	postRes, err := s.engine.ResolveResult(r.Context(), postKey(id), p, s.fetchPost(id))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	post, err := as[records.Post](postRes, postKey(id))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	authorRes, err := s.engine.ResolveResult(r.Context(), userKey(post.UserID), s.policies.Author, s.fetchUser(post.UserID))
	if err != nil {
		s.renderError(w, r, err)
		return
	}
	author, err := as[records.User](authorRes, userKey(post.UserID))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	addCacheStatus(w, postKey(id), p, postRes)
	addCacheStatus(w, userKey(post.UserID), s.policies.Author, authorRes)
	s.writeJSON(w, r, http.StatusOK, postView{
		Strategy:  "isr",
		Policy:    p.String(),
		Post:      post,
		Author:    author,
		FetchedAt: postRes.FetchedAt,
	})
}

func (s *Site) fetchPosts(ctx context.Context) (any, error) {
	return s.source.Posts(ctx)
}

func (s *Site) fetchPost(id int) rendercache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.source.Post(ctx, id)
	}
}

func (s *Site) fetchUser(id int) rendercache.Fetcher {
	return func(ctx context.Context) (any, error) {
		return s.source.User(ctx, id)
	}
}

func as[T any](res rendercache.Result, key string) (T, error) {
	v, ok := res.Value.(T)
	if !ok {
		return v, fmt.Errorf("%w: key %q holds %T", rendercache.ErrUnexpectedType, key, res.Value)
	}
	return v, nil
}
