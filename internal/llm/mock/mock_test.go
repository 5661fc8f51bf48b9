package mock

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jo-hoe/medisnap/internal/config"
)

func TestMockLLM_DescribeImage_Default(t *testing.T) {
	c := New(config.MockSettings{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, err := c.DescribeImage(ctx, "prompt", bytes.NewBufferString("fakeimagedata"), "image/png")
	if err != nil {
		t.Fatalf("DescribeImage error: %v", err)
	}
	if !strings.HasPrefix(out, "```json\n") || !strings.Contains(out, `"medicine_name": "Mock Medicine"`) {
		t.Fatalf("unexpected default response: %q", out)
	}
}

func TestMockLLM_DescribeImage_ConfiguredResponse(t *testing.T) {
	c := New(config.MockSettings{Response: "not json at all"})

	out, err := c.DescribeImage(context.Background(), "prompt", bytes.NewBufferString("x"), "image/jpeg")
	if err != nil {
		t.Fatalf("DescribeImage error: %v", err)
	}
	if out != "not json at all" {
		t.Fatalf("got %q", out)
	}
}

func TestMockLLM_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if _, err := c.DescribeImage(ctx, "prompt", bytes.NewBufferString("x"), "image/png"); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}
