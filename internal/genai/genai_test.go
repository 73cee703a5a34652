package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type fakeChat struct {
	gotParams openai.ChatCompletionNewParams
	reply     string
	err       error
	choices   int
}

func (f *fakeChat) New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	f.gotParams = params
	if f.err != nil {
		return nil, f.err
	}
	resp := &openai.ChatCompletion{}
	for i := 0; i < f.choices; i++ {
		resp.Choices = append(resp.Choices, openai.ChatCompletionChoice{
			Message: openai.ChatCompletionMessage{Content: f.reply},
		})
	}
	return resp, nil
}

func TestShorten(t *testing.T) {
	fake := &fakeChat{reply: "  Kort besked ☀️  ", choices: 1}
	c := &Client{chat: fake, model: openai.ChatModelGPT4oMini}

	got, err := c.Shorten(context.Background(), "En meget lang besked om vejret i København", 160)
	if err != nil {
		t.Fatalf("Shorten: %v", err)
	}
	if got != "Kort besked ☀️" {
		t.Errorf("got %q, want trimmed reply", got)
	}
	if len(fake.gotParams.Messages) != 2 {
		t.Fatalf("got %d messages, want system+user", len(fake.gotParams.Messages))
	}
	system := fake.gotParams.Messages[0].OfSystem.Content.OfString.Value
	if !strings.Contains(system, "160 tegn") {
		t.Errorf("system prompt = %q, want char budget mentioned", system)
	}
}

func TestShortenErrors(t *testing.T) {
	cases := []struct {
		name string
		fake *fakeChat
	}{
		{"transport error", &fakeChat{err: errors.New("boom")}},
		{"no choices", &fakeChat{choices: 0}},
		{"empty completion", &fakeChat{reply: "   ", choices: 1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Client{chat: tc.fake, model: openai.ChatModelGPT4oMini}
			if _, err := c.Shorten(context.Background(), "besked", 160); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Error("expected error for empty API key")
	}
}
