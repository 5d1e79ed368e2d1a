package github

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/logging"
)

// RetryConfig configures retry behavior for GitHub API calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int

	// InitialBackoff is the first wait between attempts.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff caps any single wait.
	// Default: 30 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier grows the wait after each attempt.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	d := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
}

// withRetry runs op until it succeeds, fails with a non-retryable error or
// the attempts are exhausted. Rate-limit responses wait for the reset time.
func withRetry(ctx context.Context, cfg RetryConfig, log *logging.Logger, op func() (*github.Response, error)) error {
	cfg.ApplyDefaults()
	backoff := cfg.InitialBackoff
	start := time.Now()

	var (
		lastErr  error
		lastResp *github.Response
	)
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		resp, err := op()
		if err == nil {
			if attempt > 0 {
				log.Info(ctx, "github call recovered after retries",
					zap.Int("attempts", attempt),
					zap.Duration("total_time", time.Since(start)))
			}
			return nil
		}
		lastErr, lastResp = err, resp

		if !retryable(err, resp) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		wait := backoff
		if rateLimited(resp) {
			wait = rateLimitWait(resp, cfg.MaxBackoff)
		}
		log.Info(ctx, "retrying github call",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Int("status_code", statusCode(resp)),
			zap.Duration("backoff", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(wait):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	log.Warn(ctx, "github call failed after retries",
		zap.Int("total_attempts", cfg.MaxRetries+1),
		zap.Int("status_code", statusCode(lastResp)),
		zap.Error(lastErr))
	return fmt.Errorf("github call failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

func retryable(err error, resp *github.Response) bool {
	if err == nil {
		return false
	}
	if resp == nil || resp.Response == nil {
		// Network errors and timeouts.
		return true
	}
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return true
	case code == http.StatusForbidden:
		// Secondary rate limits come back as 403 with rate headers.
		return resp.Rate.Limit > 0 && resp.Rate.Remaining == 0
	case code >= 500 && code < 600:
		return true
	}
	return false
}

func rateLimited(resp *github.Response) bool {
	if resp == nil || resp.Response == nil {
		return false
	}
	return resp.StatusCode == http.StatusTooManyRequests ||
		(resp.StatusCode == http.StatusForbidden && resp.Rate.Limit > 0)
}

func rateLimitWait(resp *github.Response, max time.Duration) time.Duration {
	if resp.Rate.Reset.Time.IsZero() {
		return max
	}
	wait := time.Until(resp.Rate.Reset.Time) + time.Second
	if wait < time.Second {
		wait = time.Second
	}
	if wait > max {
		wait = max
	}
	return wait
}

func statusCode(resp *github.Response) int {
	if resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return 0
}
