package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrying wraps a Client and repeats failed calls with exponential backoff.
type Retrying struct {
	next    Client
	log     *slog.Logger
	retries uint64
	initial time.Duration
}

var _ Client = (*Retrying)(nil)

// WithRetry retries failed calls of next up to retries extra times, starting
// with the initial backoff. Zero retries returns next unchanged.
func WithRetry(next Client, log *slog.Logger, retries int, initial time.Duration) Client {
	if retries <= 0 {
		return next
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Retrying{next: next, log: log, retries: uint64(retries), initial: initial} // #nosec G115 - retries checked positive above
}

func (c *Retrying) DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error) {
	// The image has to be replayed on every attempt.
	img, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	eb := backoff.NewExponentialBackOff()
	if c.initial > 0 {
		eb.InitialInterval = c.initial
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.retries), ctx)

	var out string
	attempt := 0
	op := func() error {
		attempt++
		text, err := c.next.DescribeImage(ctx, prompt, bytes.NewReader(img), mime)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		out = text
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn("llm call failed, retrying", "attempt", attempt, "wait", wait, "err", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return out, nil
}
