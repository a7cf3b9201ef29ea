package registry

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// RetryConfig contains configuration for retry operations.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int `json:"max_retries"`

	// InitialDelay is the initial delay between retries
	InitialDelay time.Duration `json:"initial_delay"`

	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `json:"max_delay"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns a default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryableError represents an error that can be retried.
type RetryableError struct {
	Err        error
	Retryable  bool
	StatusCode int
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context timeout/cancellation are not retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	// Transient connection failures.
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "no such host") {
		return true
	}

	return false
}

// IsHTTPRetryable checks if an HTTP error is retryable based on status code.
func IsHTTPRetryable(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// WrapHTTPError wraps an HTTP error with retry information.
func WrapHTTPError(err error, statusCode int) error {
	if err == nil {
		return nil
	}
	return &RetryableError{
		Err:        err,
		Retryable:  IsHTTPRetryable(statusCode),
		StatusCode: statusCode,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry
// logic.
func RetryWithBackoff(ctx context.Context, config *RetryConfig, operation func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == config.MaxRetries {
			break
		}
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.BackoffMultiplier)
	}

	return lastErr
}

// RetryingResolver wraps a Resolver with retry logic.
type RetryingResolver struct {
	resolver Resolver
	config   *RetryConfig
}

// NewRetryingResolver creates a resolver with retry capabilities.
func NewRetryingResolver(resolver Resolver, config *RetryConfig) *RetryingResolver {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryingResolver{
		resolver: resolver,
		config:   config,
	}
}

// Resolve resolves a digest with retry logic.
func (r *RetryingResolver) Resolve(ctx context.Context, repository, tag string) (string, error) {
	var result string

	retryOp := func() error {
		var err error
		result, err = r.resolver.Resolve(ctx, repository, tag)
		return err
	}

	if err := RetryWithBackoff(ctx, r.config, retryOp); err != nil {
		return "", err
	}
	return result, nil
}
