package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// RetryPolicy is the explicit retry contract handed to Fetch.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transport failures three times, one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Delay:       time.Second,
		Retryable:   IsTransient,
	}
}

// NoRetry performs a single attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Retryable: IsTransient}
}

func (p RetryPolicy) normalize() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

func (p RetryPolicy) build() retrypolicy.RetryPolicy[Response] {
	builder := retrypolicy.NewBuilder[Response]().
		HandleIf(func(_ Response, err error) bool {
			return p.Retryable(err)
		}).
		WithMaxRetries(p.MaxAttempts - 1).
		ReturnLastFailure()
	if p.Delay > 0 {
		builder = builder.WithDelay(p.Delay)
	}
	return builder.Build()
}

// AttemptFunc observes each attempt; attempt is 1-based.
type AttemptFunc func(attempt int, err error)

// Fetch runs req through f, retrying per policy. Cancelling ctx aborts both the
// in-flight attempt and any pending delay.
func Fetch(ctx context.Context, f Fetcher, req Request, policy RetryPolicy, observe AttemptFunc) (Response, error) {
	policy = policy.normalize()
	attempt := 0
	resp, err := failsafe.With[Response](policy.build()).
		WithContext(ctx).
		Get(func() (Response, error) {
			attempt++
			r, fetchErr := f.Fetch(ctx, req)
			if observe != nil {
				observe(attempt, fetchErr)
			}
			return r, fetchErr
		})
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s after %d attempt(s): %w", req.Target, attempt, err)
	}
	return resp, nil
}
