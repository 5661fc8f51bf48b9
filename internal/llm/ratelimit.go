package llm

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/jo-hoe/medisnap/internal/config"
)

// RateLimited wraps a Client so calls wait for a token from limiter first.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

var _ Client = (*RateLimited)(nil)

// WithRateLimit limits next to perSecond calls with the given burst.
// A non-positive perSecond returns next unchanged.
func WithRateLimit(next Client, perSecond float64, burst int) Client {
	if perSecond <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (c *RateLimited) DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}
	return c.next.DescribeImage(ctx, prompt, r, mime)
}

// WithPolicies wraps next with the rate limit and retry settings of cfg.
// The limiter sits inside the retry loop so every attempt waits for a token.
func WithPolicies(next Client, log *slog.Logger, cfg config.LLMConfig) Client {
	limited := WithRateLimit(next, cfg.RateLimit, cfg.RateBurst)
	return WithRetry(limited, log, cfg.Retries, cfg.RetryBackoff)
}
