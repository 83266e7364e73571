package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/instafix/internal/cache"
	"github.com/JakeFAU/instafix/internal/config"
	"github.com/JakeFAU/instafix/internal/post"
)

type fakeService struct {
	posts  map[string]post.Post
	closed bool
}

func (f *fakeService) Handler() http.Handler             { return http.NotFoundHandler() }
func (f *fakeService) Sweeper() cache.Sweeper            { return nil }
func (f *fakeService) Warm(context.Context) (int, error) { return 0, nil }
func (f *fakeService) Close() error                      { f.closed = true; return nil }

func (f *fakeService) Resolve(_ context.Context, postID string) post.Post {
	if p, ok := f.posts[postID]; ok {
		return p
	}
	return post.Failure(postID, "post not found")
}

func useService(t *testing.T, svc Service) {
	t.Helper()
	prev := newService
	newService = func(context.Context, config.Config, *zap.Logger) (Service, error) { return svc, nil }
	t.Cleanup(func() { newService = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestShortcodeCommands(t *testing.T) {
	out, err := run(t, "shortcode", "encode", "3140391106346827292")
	require.NoError(t, err)
	assert.Equal(t, "CuU6RKdmT4c\n", out)

	out, err = run(t, "shortcode", "decode", "CuU6RKdmT4c")
	require.NoError(t, err)
	assert.Equal(t, "3140391106346827292\n", out)

	_, err = run(t, "shortcode", "decode", "bad!")
	require.Error(t, err)
}

func TestResolvePrintsJSONLines(t *testing.T) {
	p, err := post.New("ABC123", "alice", "hi", []post.Media{{Kind: post.KindImage, URL: "https://cdn/a.jpg"}})
	require.NoError(t, err)
	svc := &fakeService{posts: map[string]post.Post{"ABC123": p}}
	useService(t, svc)

	out, err := run(t, "resolve", "ABC123")
	require.NoError(t, err)
	assert.True(t, svc.closed)

	var got post.Post
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, p, got)
}

func TestResolveReportsFailures(t *testing.T) {
	useService(t, &fakeService{})

	out, err := run(t, "resolve", "ABC123", "DEF456")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	// cobra appends the error text after the records.
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Contains(t, lines[0], `"error":"post not found"`)
}

func TestResolveRequiresArgs(t *testing.T) {
	_, err := run(t, "resolve")
	require.Error(t, err)
}

func TestListenPort(t *testing.T) {
	t.Setenv("PORT", "")
	assert.Equal(t, 3000, listenPort(3000))

	t.Setenv("PORT", "8081")
	assert.Equal(t, 8081, listenPort(3000))

	t.Setenv("PORT", "nope")
	assert.Equal(t, 3000, listenPort(3000))
}
