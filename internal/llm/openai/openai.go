// Package openai implements llm.Client on top of the OpenAI Chat Completions API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jo-hoe/medisnap/internal/config"
	"github.com/jo-hoe/medisnap/internal/llm"
)

var _ llm.Client = (*Client)(nil)

// Client sends images to an OpenAI vision model.
type Client struct {
	api         *goopenai.Client
	model       string
	maxTokens   int
	temperature float32
}

// New creates an OpenAI client from settings; maxTokens bounds each completion.
func New(cfg config.OpenAISettings, maxTokens int) *Client {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"); base != "" {
		clientCfg.BaseURL = base
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	return &Client{
		api:         goopenai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}
}

// DescribeImage sends the prompt and the image as a data URL in a single user
// message and returns the first choice's content, or "" when there is none.
func (c *Client) DescribeImage(ctx context.Context, prompt string, r io.Reader, mime string) (string, error) {
	img, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}
	if len(img) == 0 {
		return "", errors.New("image is empty")
	}

	req := goopenai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []goopenai.ChatCompletionMessage{
			{
				Role: goopenai.ChatMessageRoleUser,
				MultiContent: []goopenai.ChatMessagePart{
					{Type: goopenai.ChatMessagePartTypeText, Text: prompt},
					{
						Type:     goopenai.ChatMessagePartTypeImageURL,
						ImageURL: &goopenai.ChatMessageImageURL{URL: llm.DataURL(mime, img)},
					},
				},
			},
		},
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
