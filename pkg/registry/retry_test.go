package registry

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
)

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoffSucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		attempts++
		if attempts < 3 {
			return &RetryableError{Err: errors.New("transient"), Retryable: true}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryWithBackoff returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryWithBackoffStopsOnPermanentError(t *testing.T) {
	attempts := 0
	permanent := &RetryableError{Err: errors.New("not found"), Retryable: false, StatusCode: 404}
	err := RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("RetryWithBackoff returned %v, want %v", err, permanent)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryWithBackoffExhaustsRetries(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), testRetryConfig(), func() error {
		attempts++
		return &RetryableError{Err: errors.New("still failing"), Retryable: true}
	})
	if err == nil {
		t.Fatal("RetryWithBackoff succeeded, want error")
	}
	if attempts != 4 { // initial attempt plus three retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetryWithBackoffHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, testRetryConfig(), func() error {
		return &RetryableError{Err: errors.New("transient"), Retryable: true}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff returned %v, want context.Canceled", err)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable http", WrapHTTPError(errors.New("503"), 503), true},
		{"permanent http", WrapHTTPError(errors.New("404"), 404), false},
		{"wrapped retryable", errors.Wrap(WrapHTTPError(errors.New("502"), 502), "resolve"), true},
		{"context canceled", context.Canceled, false},
		{"context deadline", context.DeadlineExceeded, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"plain error", errors.New("parse failure"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsHTTPRetryable(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsHTTPRetryable(code) {
			t.Errorf("IsHTTPRetryable(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		if IsHTTPRetryable(code) {
			t.Errorf("IsHTTPRetryable(%d) = true, want false", code)
		}
	}
}

type flakyResolver struct {
	failures int
	calls    int
}

func (r *flakyResolver) Resolve(ctx context.Context, repository, tag string) (string, error) {
	r.calls++
	if r.calls <= r.failures {
		return "", &RetryableError{Err: errors.New("transient"), Retryable: true}
	}
	return testDigest, nil
}

func TestRetryingResolver(t *testing.T) {
	flaky := &flakyResolver{failures: 2}
	resolver := NewRetryingResolver(flaky, testRetryConfig())

	got, err := resolver.Resolve(context.Background(), "library/debian", "buster")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != testDigest {
		t.Errorf("Resolve = %q, want %q", got, testDigest)
	}
	if flaky.calls != 3 {
		t.Errorf("calls = %d, want 3", flaky.calls)
	}
}
