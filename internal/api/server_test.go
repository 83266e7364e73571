package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/instafix/internal/cache"
	"github.com/JakeFAU/instafix/internal/cache/memory"
	"github.com/JakeFAU/instafix/internal/extract/extracttest"
	"github.com/JakeFAU/instafix/internal/grid"
	"github.com/JakeFAU/instafix/internal/mediaurl"
	"github.com/JakeFAU/instafix/internal/post"
	"github.com/JakeFAU/instafix/internal/resolver"
	"github.com/JakeFAU/instafix/internal/upstream"
)

type fakeResolver struct {
	mu    sync.Mutex
	posts map[string]post.Post
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, postID string) post.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postID)
	if p, ok := f.posts[postID]; ok {
		return p
	}
	return post.Failure(postID, "post not found")
}

type fakeCompositor struct {
	result grid.Result
	err    error
	urls   []string
}

func (f *fakeCompositor) Compose(_ context.Context, _ string, urls []string) (grid.Result, error) {
	f.urls = urls
	return f.result, f.err
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func mustPost(t *testing.T, id string, media ...post.Media) post.Post {
	t.Helper()
	p, err := post.New(id, "alice", strings.Repeat("x", 250), media)
	require.NoError(t, err)
	return p
}

func image(u string) post.Media { return post.Media{Kind: post.KindImage, URL: u} }
func video(u string) post.Media { return post.Media{Kind: post.KindVideo, URL: u} }

func newTestServer(t *testing.T, posts map[string]post.Post, g Compositor) (*Server, *fakeResolver) {
	t.Helper()
	res := &fakeResolver{posts: posts}
	if g == nil {
		g = &fakeCompositor{}
	}
	s := NewServer(Options{
		Resolver: res,
		Grid:     g,
		Rewriter: mediaurl.Rewriter{RelayBase: "https://relay.example/v"},
	})
	return s, res
}

func serve(s *Server, target string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	rec := serve(s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = serve(s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	down := NewServer(Options{Resolver: &fakeResolver{}, Grid: &fakeCompositor{}, Ready: fakePinger{err: errors.New("dial tcp: refused")}})
	rec = serve(down, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "cache unavailable")
}

func TestRequestIDIsEchoed(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	rec := serve(s, "/healthz", func(r *http.Request) { r.Header.Set(RequestIDHeader, "abc-123") })
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	serve(s, "/healthz")
	rec := serve(s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestGetPost(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123", image("https://cdn/a.jpg"))
	s, res := newTestServer(t, map[string]post.Post{"ABC123": p}, nil)

	for _, path := range []string{"/api/posts/ABC123", "/p/ABC123", "/reel/ABC123", "/reels/ABC123", "/tv/ABC123", "/alice/p/ABC123"} {
		rec := serve(s, path)
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "ABC123", body["post_id"])
		assert.Equal(t, "alice", body["owner_username"])
		assert.Len(t, body["caption"], 250)
		assert.Equal(t, post.Truncate(p.Caption), body["summary"])
	}
	assert.Len(t, res.calls, 6)
}

func TestGetPostUnavailable(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, nil, nil)
	rec := serve(s, "/api/posts/MISSING")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"post unavailable"}`, rec.Body.String())
}

func TestGetPostInvalidID(t *testing.T) {
	t.Parallel()

	s, res := newTestServer(t, nil, nil)
	rec := serve(s, "/api/posts/bad!id")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, res.calls)
}

func TestGetStory(t *testing.T) {
	t.Parallel()

	// 64 encodes to "BA".
	p := mustPost(t, "BA", image("https://cdn/s.jpg"))
	s, res := newTestServer(t, map[string]post.Post{"BA": p}, nil)

	rec := serve(s, "/stories/alice/64_1234")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"BA"}, res.calls)

	rec = serve(s, "/stories/alice/not-a-number")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetImage(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123", image("https://cdn/1.jpg"), image("https://cdn/2.jpg"))
	s, _ := newTestServer(t, map[string]post.Post{"ABC123": p}, nil)

	rec := serve(s, "/images/ABC123/2")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn/2.jpg", rec.Header().Get("Location"))

	for _, path := range []string{"/images/ABC123/0", "/images/ABC123/3", "/images/ABC123/x"} {
		rec = serve(s, path)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestGetVideo(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123", video("https://cdn/v.mp4"), image("https://cdn/i.jpg"))
	s, _ := newTestServer(t, map[string]post.Post{"ABC123": p}, nil)

	rec := serve(s, "/videos/ABC123/1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://relay.example/v?url=https%3A%2F%2Fcdn%2Fv.mp4", rec.Header().Get("Location"))

	rec = serve(s, "/videos/ABC123/1?direct=1")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn/v.mp4", rec.Header().Get("Location"))

	rec = serve(s, "/videos/ABC123/1", func(r *http.Request) {
		r.Header.Set("User-Agent", "TelegramBot (like TwitterBot)")
	})
	assert.Equal(t, "https://cdn/v.mp4", rec.Header().Get("Location"))

	rec = serve(s, "/videos/ABC123/2")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetGridComposed(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123",
		image("https://cdn/1.jpg"), video("https://cdn/v.mp4"), image("https://cdn/2.jpg"),
		image("https://cdn/3.jpg"), image("https://cdn/4.jpg"), image("https://cdn/5.jpg"),
	)
	g := &fakeCompositor{result: grid.Result{Image: []byte("jpeg-bytes"), Path: grid.Path("ABC123"), ETag: "deadbeef"}}
	s, _ := newTestServer(t, map[string]post.Post{"ABC123": p}, g)

	rec := serve(s, "/grid/ABC123")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, `"deadbeef"`, rec.Header().Get("ETag"))
	assert.Equal(t, "public, max-age=86400", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "jpeg-bytes", rec.Body.String())
	assert.Equal(t, []string{"https://cdn/1.jpg", "https://cdn/2.jpg", "https://cdn/3.jpg", "https://cdn/4.jpg"}, g.urls)

	rec = serve(s, "/grid/ABC123", func(r *http.Request) { r.Header.Set("If-None-Match", `"other", "deadbeef"`) })
	require.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestGetGridRedirectAndFailures(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123", image("https://cdn/1.jpg"))
	posts := map[string]post.Post{"ABC123": p}

	s, _ := newTestServer(t, posts, &fakeCompositor{result: grid.Result{Redirect: "https://cdn/1.jpg"}})
	rec := serve(s, "/grid/ABC123")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/images/ABC123/1", rec.Header().Get("Location"))

	mixed := map[string]post.Post{"ABC123": mustPost(t, "ABC123", video("https://cdn/clip.mp4"), image("https://cdn/photo.jpg"))}
	g := &fakeCompositor{result: grid.Result{Redirect: "https://cdn/photo.jpg"}}
	s, _ = newTestServer(t, mixed, g)
	rec = serve(s, "/grid/ABC123")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/images/ABC123/2", rec.Header().Get("Location"))
	assert.Equal(t, []string{"https://cdn/photo.jpg"}, g.urls)

	rec = serve(s, "/images/ABC123/2")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn/photo.jpg", rec.Header().Get("Location"))

	s, _ = newTestServer(t, posts, &fakeCompositor{err: grid.ErrNoImages})
	rec = serve(s, "/grid/ABC123")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s, _ = newTestServer(t, posts, &fakeCompositor{err: errors.New("download image 2: boom")})
	rec = serve(s, "/grid/ABC123")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	s, _ = newTestServer(t, nil, &fakeCompositor{})
	rec = serve(s, "/grid/ABC123")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panicResolver struct{}

func (panicResolver) Resolve(context.Context, string) post.Post { panic("boom") }

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	s := NewServer(Options{Resolver: panicResolver{}, Grid: &fakeCompositor{}, Logger: zap.New(core)})

	rec := serve(s, "/api/posts/ABC123")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("panic recovered").Len())
	entries := logs.FilterMessage("request completed").All()
	require.Len(t, entries, 1)
	assert.NotEmpty(t, entries[0].ContextMap()["request_id"])
}

func TestImageRoute(t *testing.T) {
	t.Parallel()

	p := mustPost(t, "ABC123", video("https://cdn/a.jpg"), image("https://cdn/b.jpg"), image("https://cdn/a.jpg"))
	assert.Equal(t, "/images/ABC123/3", imageRoute(p, "ABC123", "https://cdn/a.jpg"))
	assert.Equal(t, "/images/ABC123/2", imageRoute(p, "ABC123", "https://cdn/b.jpg"))
	assert.Equal(t, "https://cdn/other.jpg", imageRoute(p, "ABC123", "https://cdn/other.jpg"))
}

func TestEtagMatches(t *testing.T) {
	t.Parallel()

	assert.False(t, etagMatches("", `"a"`))
	assert.True(t, etagMatches(`"a"`, `"a"`))
	assert.True(t, etagMatches(`W/"a"`, `"a"`))
	assert.True(t, etagMatches(`*`, `"a"`))
	assert.False(t, etagMatches(`"b", "c"`, `"a"`))
}

func TestImageRedirectEndToEnd(t *testing.T) {
	t.Parallel()

	media := extracttest.ShortcodeMedia("alice", "two pics", extracttest.Images("https://cdn/a.jpg", "https://cdn/b.jpg")...)
	page := extracttest.InlineEmbed(media)
	fetcher := upstream.FetcherFunc(func(_ context.Context, req upstream.Request) (upstream.Response, error) {
		if strings.HasSuffix(req.URL, "/p/ABC123/embed/captioned/") {
			return upstream.Response{StatusCode: http.StatusOK, Body: []byte(page)}, nil
		}
		return upstream.Response{}, upstream.Classify(req.URL, http.StatusNotFound, nil)
	})
	r, err := resolver.New(resolver.Options{
		Fetcher:  fetcher,
		Cache:    cache.NewPostCache(memory.New(nil)),
		Policy:   upstream.NoRetry(),
		Rewriter: mediaurl.Rewriter{CDNHost: mediaurl.DefaultCDNHost},
	})
	require.NoError(t, err)
	s := NewServer(Options{Resolver: r, Grid: &fakeCompositor{}})

	rec := serve(s, "/images/ABC123/2")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://scontent.cdninstagram.com/b.jpg", rec.Header().Get("Location"))
}
