package upstream

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEndpoints(t *testing.T) {
	t.Parallel()

	e := Endpoints{Web: "https://web.example/", API: "https://api.example"}
	assert.Equal(t, "https://web.example/p/ABC/embed/captioned/", e.Embed("ABC"))
	assert.Equal(t, "https://web.example/p/ABC/", e.Canonical("ABC"))
	assert.Equal(t, "https://api.example/api/v1/media/42/info/", e.MediaInfo(42))
}

func TestClassify(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		status int
		err    error
		want   error
	}{
		{"ok", http.StatusOK, nil, nil},
		{"not found", http.StatusNotFound, errors.New("Not Found"), ErrNotFound},
		{"gone", http.StatusGone, nil, ErrNotFound},
		{"forbidden", http.StatusForbidden, nil, ErrBlocked},
		{"throttled", http.StatusTooManyRequests, nil, ErrBlocked},
		{"bad gateway", http.StatusBadGateway, nil, ErrTransient},
		{"transport", 0, errors.New("connection reset by peer"), ErrTransient},
		{"ok with body error", http.StatusOK, errors.New("short read"), ErrInvalidShape},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := Classify("https://example.com", tc.status, tc.err)
			if tc.want == nil {
				require.NoError(t, got)
				return
			}
			require.ErrorIs(t, got, tc.want)
			if tc.err != nil {
				require.ErrorIs(t, got, tc.err)
			}
		})
	}
}

func TestClassifyPassesCancellationThrough(t *testing.T) {
	t.Parallel()

	err := Classify("https://example.com", 0, context.Canceled)
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsTransient(err))
}

func TestSoft(t *testing.T) {
	t.Parallel()

	assert.True(t, Soft(ErrNotApplicable))
	assert.True(t, Soft(ErrInvalidShape))
	assert.False(t, Soft(ErrBlocked))
	assert.False(t, Soft(nil))
}

func TestFetchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	f := FetcherFunc(func(_ context.Context, req Request) (Response, error) {
		calls++
		if calls < 3 {
			return Response{}, Classify(req.URL, 0, errors.New("i/o timeout"))
		}
		return Response{StatusCode: http.StatusOK, Body: []byte("ok")}, nil
	})

	var seen []int
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	resp, err := Fetch(context.Background(), f, Request{URL: "https://x", Target: "embed"}, policy, func(attempt int, _ error) {
		seen = append(seen, attempt)
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	f := FetcherFunc(func(_ context.Context, req Request) (Response, error) {
		calls++
		return Response{}, Classify(req.URL, http.StatusServiceUnavailable, nil)
	})

	_, err := Fetch(context.Background(), f, Request{URL: "https://x"}, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, nil)
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestFetchDoesNotRetryPermanentFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	f := FetcherFunc(func(_ context.Context, req Request) (Response, error) {
		calls++
		return Response{}, Classify(req.URL, http.StatusNotFound, nil)
	})

	_, err := Fetch(context.Background(), f, Request{URL: "https://x"}, DefaultRetryPolicy(), nil)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, calls)
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	f := FetcherFunc(func(_ context.Context, req Request) (Response, error) {
		calls++
		cancel()
		return Response{}, Classify(req.URL, 0, errors.New("connection reset"))
	})

	_, err := Fetch(ctx, f, Request{URL: "https://x"}, RetryPolicy{MaxAttempts: 3, Delay: time.Second}, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
