package site_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	rendercache "github.com/always-cache/render-cache"
	"github.com/always-cache/render-cache/pkg/preferences"
	"github.com/always-cache/render-cache/pkg/records"
	"github.com/always-cache/render-cache/pkg/records/mocks"
	"github.com/always-cache/render-cache/site"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var testPosts = []records.Post{
	{UserID: 1, ID: 1, Title: "first", Body: "one"},
	{UserID: 1, ID: 2, Title: "second", Body: "two"},
	{UserID: 2, ID: 3, Title: "third", Body: "three"},
	{UserID: 2, ID: 4, Title: "fourth", Body: "four"},
}

type fixture struct {
	source *mocks.MockSource
	clock  clockwork.FakeClock
	site   *site.Site
}

func newFixture(t *testing.T, mutate func(*site.Config)) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	logger := zerolog.Nop()
	f := &fixture{
		source: mocks.NewMockSource(ctrl),
		clock:  clockwork.NewFakeClock(),
	}
	engine := rendercache.New(rendercache.Config{Clock: f.clock, Logger: &logger})
	t.Cleanup(engine.Wait)
	config := site.Config{
		Source:      f.source,
		Engine:      engine,
		Clock:       f.clock,
		Logger:      &logger,
		ListSize:    3,
		StaticPosts: 2,
	}
	if mutate != nil {
		mutate(&config)
	}
	f.site = site.New(config)
	return f
}

// expectBuild sets up the source calls of a build prewarming posts 1 and 2 and their author.
func (f *fixture) expectBuild() {
	f.source.EXPECT().Posts(gomock.Any()).Return(testPosts, nil).Times(1)
	f.source.EXPECT().Post(gomock.Any(), 1).Return(testPosts[0], nil).Times(1)
	f.source.EXPECT().Post(gomock.Any(), 2).Return(testPosts[1], nil).Times(1)
	f.source.EXPECT().User(gomock.Any(), 1).Return(records.User{ID: 1, Name: "Leanne"}, nil).Times(1)
}

func (f *fixture) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return f.do(t, httptest.NewRequest(http.MethodGet, path, nil), header)
}

func (f *fixture) do(t *testing.T, req *http.Request, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	for name, values := range header {
		req.Header[name] = values
	}
	rec := httptest.NewRecorder()
	f.site.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type postPage struct {
	Policy string       `json:"policy"`
	Post   records.Post `json:"post"`
	Author records.User `json:"author"`
}

func TestHome(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	home := decode[struct {
		Strategy   string `json:"strategy"`
		Strategies []struct {
			Path   string `json:"path"`
			Policy string `json:"policy"`
		} `json:"strategies"`
	}](t, rec)
	assert.Equal(t, "csr", home.Strategy)
	require.Len(t, home.Strategies, 4)
	assert.Equal(t, "no-store", home.Strategies[0].Policy)
	assert.Equal(t, "force-cache", home.Strategies[1].Policy)
	assert.Equal(t, "revalidate=60", home.Strategies[2].Policy)
}

func TestAboutFetchesOnEveryRequest(t *testing.T) {
	f := newFixture(t, nil)
	gomock.InOrder(
		f.source.EXPECT().User(gomock.Any(), 1).Return(records.User{ID: 1, Name: "Leanne"}, nil),
		f.source.EXPECT().User(gomock.Any(), 1).Return(records.User{ID: 1, Name: "Ervin"}, nil),
	)

	for _, want := range []string{"Leanne", "Ervin"} {
		rec := f.get(t, "/about", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		about := decode[struct {
			Policy string       `json:"policy"`
			User   records.User `json:"user"`
		}](t, rec)
		assert.Equal(t, "no-store", about.Policy)
		assert.Equal(t, want, about.User.Name)
		assert.Equal(t, `Render-Cache; fwd=bypass; stored; key="user:1"`, rec.Header().Get("Cache-Status"))
	}
}

func TestBlogServedFromBuild(t *testing.T) {
	f := newFixture(t, nil)
	f.expectBuild()

	_, err := f.site.Build(context.Background())
	require.NoError(t, err)

	for range 3 {
		rec := f.get(t, "/blog", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		blog := decode[struct {
			Policy string         `json:"policy"`
			Posts  []records.Post `json:"posts"`
		}](t, rec)
		assert.Equal(t, "force-cache", blog.Policy)
		if diff := cmp.Diff(testPosts[:3], blog.Posts); diff != "" {
			t.Errorf("posts mismatch (-want +got):\n%s", diff)
		}
		assert.Equal(t, `Render-Cache; hit; key="posts:list"`, rec.Header().Get("Cache-Status"))
	}
}

func TestBlogWithoutBuildFetchesOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.source.EXPECT().Posts(gomock.Any()).Return(testPosts, nil).Times(1)

	rec := f.get(t, "/blog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `Render-Cache; fwd=uri-miss; stored; key="posts:list"`, rec.Header().Get("Cache-Status"))

	rec = f.get(t, "/blog", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `Render-Cache; hit; key="posts:list"`, rec.Header().Get("Cache-Status"))
}

func TestBlogUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.source.EXPECT().Posts(gomock.Any()).Return(nil, errors.New("connection refused")).Times(1)

	rec := f.get(t, "/blog", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Cache-Status"))
	assert.Equal(t, "unavailable", decode[map[string]string](t, rec)["error"])
}

func TestPostRevalidatesInBackground(t *testing.T) {
	f := newFixture(t, nil)
	f.expectBuild()
	_, err := f.site.Build(context.Background())
	require.NoError(t, err)

	rec := f.get(t, "/blog/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[postPage](t, rec)
	assert.Equal(t, "first", page.Post.Title)
	assert.Equal(t, "Leanne", page.Author.Name)
	assert.Equal(t, []string{
		`Render-Cache; hit; ttl=60; key="post:1"`,
		`Render-Cache; hit; ttl=60; key="user:1"`,
	}, rec.Header().Values("Cache-Status"))

	updated := testPosts[0]
	updated.Title = "first, edited"
	f.source.EXPECT().Post(gomock.Any(), 1).Return(updated, nil).Times(1)
	f.source.EXPECT().User(gomock.Any(), 1).Return(records.User{ID: 1, Name: "Leanne Graham"}, nil).Times(1)
	f.clock.Advance(61 * time.Second)

	rec = f.get(t, "/blog/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[postPage](t, rec)
	assert.Equal(t, "first", page.Post.Title, "stale value is served while refreshing")
	assert.Equal(t, []string{
		`Render-Cache; hit; ttl=-1; key="post:1"; detail=revalidating`,
		`Render-Cache; hit; ttl=-1; key="user:1"; detail=revalidating`,
	}, rec.Header().Values("Cache-Status"))

	f.site.Engine().Wait()

	rec = f.get(t, "/blog/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page = decode[postPage](t, rec)
	assert.Equal(t, "first, edited", page.Post.Title)
	assert.Equal(t, "Leanne Graham", page.Author.Name)
}

func TestPostGeneratedOnDemand(t *testing.T) {
	f := newFixture(t, nil)
	f.source.EXPECT().Post(gomock.Any(), 4).Return(testPosts[3], nil).Times(1)
	f.source.EXPECT().User(gomock.Any(), 2).Return(records.User{ID: 2, Name: "Ervin"}, nil).Times(1)

	rec := f.get(t, "/blog/4", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[postPage](t, rec)
	assert.Equal(t, "fourth", page.Post.Title)
	assert.Equal(t, "Ervin", page.Author.Name)
	assert.Equal(t, `Render-Cache; fwd=uri-miss; stored; key="post:4"`, rec.Header().Values("Cache-Status")[0])
}

func TestStrictStaticRefusesUnbuiltPost(t *testing.T) {
	f := newFixture(t, func(c *site.Config) { c.StrictStatic = true })
	f.expectBuild()
	_, err := f.site.Build(context.Background())
	require.NoError(t, err)

	rec := f.get(t, "/blog/4", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.get(t, "/blog/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[postPage](t, rec)
	assert.Equal(t, "revalidate=60, static", page.Policy)
	assert.Equal(t, "second", page.Post.Title)
}

func TestPostErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		setup  func(*mocks.MockSource)
		status int
	}{
		{
			name:   "invalid id",
			path:   "/blog/abc",
			status: http.StatusBadRequest,
		},
		{
			name:   "zero id",
			path:   "/blog/0",
			status: http.StatusBadRequest,
		},
		{
			name: "unknown post",
			path: "/blog/999",
			setup: func(m *mocks.MockSource) {
				m.EXPECT().Post(gomock.Any(), 999).Return(records.Post{}, records.ErrNotFound)
			},
			status: http.StatusNotFound,
		},
		{
			name: "source down",
			path: "/blog/3",
			setup: func(m *mocks.MockSource) {
				m.EXPECT().Post(gomock.Any(), 3).Return(records.Post{}, &records.StatusError{URL: "/posts/3", StatusCode: 502})
			},
			status: http.StatusServiceUnavailable,
		},
		{
			name: "author down",
			path: "/blog/3",
			setup: func(m *mocks.MockSource) {
				m.EXPECT().Post(gomock.Any(), 3).Return(testPosts[2], nil)
				m.EXPECT().User(gomock.Any(), 2).Return(records.User{}, errors.New("timeout"))
			},
			status: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.setup != nil {
				tt.setup(f.source)
			}
			rec := f.get(t, tt.path, nil)
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, rec.Header().Values("Cache-Status"))
		})
	}
}

func TestBuildReportsFailedKeys(t *testing.T) {
	f := newFixture(t, nil)
	f.source.EXPECT().Posts(gomock.Any()).Return(testPosts, nil).Times(1)
	f.source.EXPECT().Post(gomock.Any(), 1).Return(testPosts[0], nil).Times(1)
	f.source.EXPECT().Post(gomock.Any(), 2).Return(records.Post{}, errors.New("timeout")).Times(1)
	f.source.EXPECT().User(gomock.Any(), 1).Return(records.User{ID: 1}, nil).Times(1)

	info, err := f.site.Build(context.Background())
	require.Error(t, err)
	var perr *rendercache.PrewarmError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, []string{"post:2"}, perr.Keys())
	assert.Equal(t, []string{"posts:list", "post:1", "user:1"}, info.Prewarmed)
	assert.Equal(t, []string{"post:2"}, info.Failed)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, f.clock.Now(), info.BuiltAt)

	rec := f.get(t, "/api/build", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[site.BuildInfo](t, rec)
	assert.Equal(t, info.ID, got.ID)
	assert.Equal(t, info.Failed, got.Failed)
}

func TestBuildFailsWithoutList(t *testing.T) {
	f := newFixture(t, nil)
	f.source.EXPECT().Posts(gomock.Any()).Return(nil, errors.New("connection refused")).Times(1)

	info, err := f.site.Build(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rendercache.ErrFetchFailed)
	assert.Empty(t, info.Prewarmed)
	assert.Equal(t, []string{"posts:list"}, info.Failed)
}

func TestCacheListing(t *testing.T) {
	f := newFixture(t, nil)
	f.expectBuild()
	_, err := f.site.Build(context.Background())
	require.NoError(t, err)
	f.clock.Advance(90 * time.Second)

	rec := f.get(t, "/api/cache", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]struct {
		Key        string `json:"key"`
		State      string `json:"state"`
		Policy     string `json:"policy"`
		Prewarmed  bool   `json:"prewarmed"`
		AgeSeconds int64  `json:"ageSeconds"`
	}](t, rec)
	require.Len(t, entries, 4)

	states := make(map[string]string)
	for _, e := range entries {
		states[e.Key] = e.State
		assert.True(t, e.Prewarmed, e.Key)
		assert.EqualValues(t, 90, e.AgeSeconds, e.Key)
	}
	assert.Equal(t, map[string]string{
		"post:1":     "stale",
		"post:2":     "stale",
		"posts:list": "fresh",
		"user:1":     "stale",
	}, states)
}

func TestCategories(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Tech", "Lifestyle", "Education", "Business", "Travel"}},
		{"tr", []string{"Travel"}},
		{"  ES ", []string{"Lifestyle", "Business"}},
		{"nothing", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			f := newFixture(t, nil)
			rec := f.get(t, "/api/categories?q="+strings.ReplaceAll(tt.query, " ", "+"), nil)
			require.Equal(t, http.StatusOK, rec.Code)
			view := decode[struct {
				Found      int `json:"found"`
				Categories []struct {
					Name string `json:"name"`
				} `json:"categories"`
			}](t, rec)
			names := []string{}
			for _, c := range view.Categories {
				names = append(names, c.Name)
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, len(tt.want), view.Found)
		})
	}
}

func TestETagNotModified(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/categories", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	rec = f.get(t, "/api/categories", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = f.get(t, "/api/categories?q=tech", http.Header{"If-None-Match": {etag}})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestThemeWithoutPreferences(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/api/theme", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTheme(t *testing.T) {
	prefs, err := preferences.Open(filepath.Join(t.TempDir(), "preferences.db"))
	require.NoError(t, err)
	t.Cleanup(func() { prefs.Close() })
	f := newFixture(t, func(c *site.Config) { c.Preferences = prefs })

	rec := f.get(t, "/api/theme", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", decode[map[string]string](t, rec)["theme"])
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "client_id", cookies[0].Name)
	client := http.Header{"Cookie": {"client_id=" + cookies[0].Value}}

	req := httptest.NewRequest(http.MethodPut, "/api/theme", strings.NewReader(`{"theme":"dark"}`))
	rec = f.do(t, req, client)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "known client keeps its id")

	rec = f.get(t, "/api/theme", client)
	assert.Equal(t, "dark", decode[map[string]string](t, rec)["theme"])

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/theme/toggle", nil), client)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "light", decode[map[string]string](t, rec)["theme"])

	req = httptest.NewRequest(http.MethodPut, "/api/theme", strings.NewReader(`{"theme":"sepia"}`))
	rec = f.do(t, req, client)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodPut, "/api/theme", strings.NewReader(`not json`))
	rec = f.do(t, req, client)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// another client is not affected
	rec = f.get(t, "/api/theme", nil)
	assert.Equal(t, "", decode[map[string]string](t, rec)["theme"])
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.get(t, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}
