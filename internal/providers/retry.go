package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RetryConfig controls RetryDo's backoff and attempt count.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryConfig applies exponential backoff: 100ms × 2^attempt.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}
}

// HTTPError wraps a non-2xx HTTP response from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// permanentMarkers are textual substrings (case-insensitive) that mark an
// error as non-retryable even without a structured HTTPError.
var permanentMarkers = []string{"unauthorized", "forbidden", "not found", "bad request"}

// isPermanent classifies an error as non-retriable: HTTP 400/401/403/404/422,
// or one of the textual markers above, is permanent — retrying it for the
// same provider is pointless.
func isPermanent(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch httpErr.Status {
		case 400, 401, 403, 404, 422:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryDo calls fn up to cfg.MaxAttempts times with exponential backoff,
// stopping early on a permanent error or context cancellation.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if isPermanent(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		if httpErr, ok := err.(*HTTPError); ok && httpErr.RetryAfter > delay {
			delay = httpErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// ParseRetryAfter parses an HTTP Retry-After header value, which may be
// either an integer number of seconds or an HTTP-date. Unparseable or
// empty values return 0 (no override).
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		d := time.Until(t)
		if d > 0 {
			return d
		}
	}
	return 0
}
