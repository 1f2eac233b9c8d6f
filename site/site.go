// Package site serves the rendering strategy demo on top of the render cache.
//
// Every page names the strategy it demonstrates and reports how its data was
// served in a Cache-Status header:
//
//	/            client-driven state, no server fetch
//	/about       no-store, fetched on every request
//	/blog        force-cache, fetched once at build time
//	/blog/{id}   revalidate, prebuilt for the first posts and refreshed in the background
package site

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	rendercache "github.com/always-cache/render-cache"
	cachestatus "github.com/always-cache/render-cache/pkg/cache-status"
	"github.com/always-cache/render-cache/pkg/preferences"
	"github.com/always-cache/render-cache/pkg/records"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Policies holds the cache policy of every page resource.
type Policies struct {
	About    rendercache.Policy
	BlogList rendercache.Policy
	BlogPost rendercache.Policy
	Author   rendercache.Policy
}

// DefaultPolicies returns the policies the demo pages use unless configured otherwise.
func DefaultPolicies() Policies {
	return Policies{
		About:    rendercache.NoStore(),
		BlogList: rendercache.ForceCache(),
		BlogPost: rendercache.Revalidate(60 * time.Second),
		Author:   rendercache.Revalidate(60 * time.Second),
	}
}

type Config struct {
	// Source of posts and users.
	Source records.Source
	// Engine resolving page data. A new engine is created if nil.
	Engine *rendercache.Engine
	// Preferences store. Theme endpoints answer 404 if nil.
	Preferences *preferences.Store
	// Clock for build timestamps. The real clock is used if nil.
	Clock clockwork.Clock
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Policies of the page resources. Zero-valued fields get DefaultPolicies.
	Policies *Policies
	// Number of posts shown on the blog page. Defaults to 12.
	ListSize int
	// Number of posts prebuilt by Build. Defaults to 10.
	StaticPosts int
	// Answer 404 for posts that were not prebuilt instead of generating them on demand.
	StrictStatic bool
}

type Site struct {
	source       records.Source
	engine       *rendercache.Engine
	prefs        *preferences.Store
	clock        clockwork.Clock
	log          zerolog.Logger
	policies     Policies
	listSize     int
	staticPosts  int
	strictStatic bool
	router       chi.Router

	buildMutex sync.RWMutex
	build      BuildInfo
}

// New creates the site and its routes.
func New(config Config) *Site {
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	s := &Site{
		source:       config.Source,
		engine:       config.Engine,
		prefs:        config.Preferences,
		clock:        config.Clock,
		log:          logger.With().Str("component", "site").Logger(),
		policies:     DefaultPolicies(),
		listSize:     config.ListSize,
		staticPosts:  config.StaticPosts,
		strictStatic: config.StrictStatic,
	}
	if config.Policies != nil {
		s.policies = *config.Policies
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.engine == nil {
		s.engine = rendercache.New(rendercache.Config{Clock: s.clock, Logger: &logger})
	}
	if s.listSize <= 0 {
		s.listSize = 12
	}
	if s.staticPosts <= 0 {
		s.staticPosts = 10
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Engine returns the engine resolving page data.
func (s *Site) Engine() *rendercache.Engine {
	return s.engine
}

func (s *Site) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		hlog.NewHandler(s.log),
		hlog.RequestIDHandler("reqId", "Request-Id"),
		hlog.RemoteAddrHandler("sourceIp"),
		hlog.AccessHandler(logRequest),
		middleware.Recoverer,
	)

	r.Get("/", s.handleHome)
	r.Get("/about", s.handleAbout)
	r.Get("/blog", s.handleBlog)
	r.Get("/blog/{id}", s.handlePost)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/categories", s.handleCategories)
		r.Get("/build", s.handleBuild)
		r.Get("/cache", s.handleCache)
		r.Get("/theme", s.handleGetTheme)
		r.Put("/theme", s.handlePutTheme)
		r.Post("/theme/toggle", s.handleToggleTheme)
	})
	return r
}

func logRequest(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Int("status", status).
		Int("size", size).
		Dur("took", duration).
		Msg("Sending response to client")
}

// addCacheStatus adds a Cache-Status member describing how key was resolved.
func addCacheStatus(w http.ResponseWriter, key string, p rendercache.Policy, res rendercache.Result) {
	cs := cachestatus.CacheStatus{Key: key}
	switch res.Status {
	case rendercache.StatusHit:
		cs.Hit()
		if p.Mode == rendercache.ModeRevalidate {
			cs.TTL(int((p.TTL - res.Age) / time.Second))
		}
	case rendercache.StatusStale:
		cs.Hit()
		cs.TTL(int((p.TTL - res.Age) / time.Second))
		cs.Detail = "revalidating"
	case rendercache.StatusMiss:
		cs.Forward(cachestatus.FwdReasonUriMiss)
		cs.Stored = true
	case rendercache.StatusBypass:
		cs.Forward(cachestatus.FwdReasonBypass)
		cs.Stored = true
	}
	w.Header().Add(cachestatus.HeaderName, cs.String())
}

// writeJSON writes v with a strong ETag, answering 304 when the client already has it.
func (s *Site) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not encode response")
		http.Error(w, "Could not encode response", http.StatusInternalServerError)
		return
	}
	etag := `"` + strconv.FormatUint(xxhash.Sum64(body), 16) + `"`
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("ETag", etag)
	if status == http.StatusOK && r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.WriteHeader(status)
	w.Write(body)
}

type errorView struct {
	Error string `json:"error"`
}

// renderError renders a well-defined outcome for a failed resolution.
// Nothing partial is ever rendered.
func (s *Site) renderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rendercache.ErrNotPrewarmed), errors.Is(err, records.ErrNotFound):
		s.writeJSON(w, r, http.StatusNotFound, errorView{Error: "not found"})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("Could not resolve page data")
		s.writeJSON(w, r, http.StatusServiceUnavailable, errorView{Error: "unavailable"})
	}
}
