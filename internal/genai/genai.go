// Package genai provides GenAI-assisted text operations using the OpenAI API.

package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// chatCompleter defines the minimal interface for chat completions.
type chatCompleter interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Client wraps the OpenAI chat completion service for rewriting SMS text.
type Client struct {
	chat  chatCompleter
	model openai.ChatModel
}

// NewClient initializes a GenAI client with the given API key.
func NewClient(apiKey string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	cli := openai.NewClient(option.WithAPIKey(apiKey))
	return &Client{chat: &cli.Chat.Completions, model: openai.ChatModelGPT4oMini}, nil
}

// Shorten rewrites an SMS so it fits within maxChars while keeping the
// language, tone and the most important facts. The returned text is not
// guaranteed to fit; callers should still truncate as a last resort.
func (c *Client) Shorten(ctx context.Context, body string, maxChars int) (string, error) {
	system := fmt.Sprintf(
		"Du forkorter SMS-beskeder. Omskriv beskeden til højst %d tegn. "+
			"Behold sprog, tone, emojis og de vigtigste fakta. Svar kun med selve beskeden.",
		maxChars)
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(body),
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", fmt.Errorf("empty completion")
	}
	return out, nil
}
