package mock

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jo-hoe/medisnap/internal/config"
	"github.com/jo-hoe/medisnap/internal/llm"
)

var _ llm.Client = (*Client)(nil)

const defaultResponse = "```json\n" + `{
  "medicine_name": "Mock Medicine",
  "uses": "Not available",
  "side_effects": "Not available",
  "dosage": "Not available",
  "manufacturer": "Not available",
  "precautions": "Not available",
  "expiry_date": "Not available",
  "composition": "Not available"
}` + "\n```"

// Client is an llm.Client that answers with a canned response.
type Client struct {
	delay    time.Duration
	response string
}

// New creates a mock client. An empty response falls back to a fenced JSON record.
func New(cfg config.MockSettings) *Client {
	resp := cfg.Response
	if resp == "" {
		resp = defaultResponse
	}
	return &Client{delay: cfg.Delay, response: resp}
}

// DescribeImage drains r, waits for the configured delay and returns the canned response.
func (c *Client) DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if c.delay > 0 {
		timer := time.NewTimer(c.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.response, nil
}
