package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotApplicable means a strategy's preconditions were absent.
	ErrNotApplicable = errors.New("not applicable")
	// ErrTransient covers timeouts, resets and 5xx replies. Only these are retried.
	ErrTransient = errors.New("transient upstream failure")
	// ErrBlocked means upstream served a degraded page or refused the caller.
	ErrBlocked = errors.New("upstream blocked")
	// ErrInvalidShape means the payload parsed but expected fields were missing.
	ErrInvalidShape = errors.New("invalid upstream shape")
	// ErrNotFound means the post does not exist or every strategy was exhausted.
	ErrNotFound = errors.New("post not found")
)

// FetchError carries the classified failure of one upstream call.
type FetchError struct {
	Kind   error
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Err != nil && e.Status > 0:
		return fmt.Sprintf("%v: %s (status %d): %v", e.Kind, e.URL, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.URL, e.Err)
	default:
		return fmt.Sprintf("%v: %s (status %d)", e.Kind, e.URL, e.Status)
	}
}

// Unwrap exposes both the taxonomy kind and the underlying cause.
func (e *FetchError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify maps a status code and transport error onto the taxonomy.
// It returns nil for 2xx replies without a transport error. Cancellation is
// returned untouched so it is never retried; client timeouts are transient.
func Classify(rawURL string, status int, err error) error {
	if status == 0 && errors.Is(err, context.Canceled) {
		return err
	}
	var kind error
	switch {
	case status >= 200 && status < 300 && err == nil:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		kind = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden || status == http.StatusTooManyRequests:
		kind = ErrBlocked
	case status >= 500:
		kind = ErrTransient
	case status >= 400:
		kind = ErrNotFound
	case status == 0:
		kind = ErrTransient
	default:
		kind = ErrInvalidShape
	}
	return &FetchError{Kind: kind, URL: rawURL, Status: status, Err: err}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransient)
}

// Soft reports whether err only disqualifies one strategy rather than the post.
func Soft(err error) bool {
	return errors.Is(err, ErrNotApplicable) || errors.Is(err, ErrInvalidShape)
}
