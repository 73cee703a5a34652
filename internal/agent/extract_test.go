package agent

import (
	"testing"
)

func assistantMsg(content any) map[string]any {
	return map[string]any{"role": "assistant", "content": content}
}

func TestExtractJSONDirect(t *testing.T) {
	msgs := []map[string]any{assistantMsg(`{"intro":"hej","signoff":"vi ses"}`)}
	data := ExtractJSON(msgs)
	if data["intro"] != "hej" || data["signoff"] != "vi ses" {
		t.Errorf("unexpected extraction: %v", data)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	content := "Here you go!\n```json\n{\"intro\":\"hej\"}\n```\nEnjoy."
	data := ExtractJSON([]map[string]any{assistantMsg(content)})
	if data["intro"] != "hej" {
		t.Errorf("expected fenced JSON to parse, got %v", data)
	}
}

func TestExtractJSONFencedCaseInsensitive(t *testing.T) {
	content := "```JSON\n{\"intro\":\"hej\"}\n```"
	data := ExtractJSON([]map[string]any{assistantMsg(content)})
	if data["intro"] != "hej" {
		t.Errorf("expected case-insensitive fence match, got %v", data)
	}
}

func TestExtractJSONEmbeddedInProse(t *testing.T) {
	content := "Selvfølgelig! Her er dataen: {\"intro\":\"hej\",\"events\":[]} – sig til hvis andet."
	data := ExtractJSON([]map[string]any{assistantMsg(content)})
	if data["intro"] != "hej" {
		t.Errorf("expected loose-brace JSON to parse, got %v", data)
	}
}

func TestExtractJSONGarbageYieldsEmpty(t *testing.T) {
	data := ExtractJSON([]map[string]any{assistantMsg("bare tekst uden noget som helst")})
	if len(data) != 0 {
		t.Errorf("expected empty object for brace-free text, got %v", data)
	}
}

func TestExtractJSONNoAssistantMessage(t *testing.T) {
	msgs := []map[string]any{{"role": "user", "content": "hello"}}
	if data := ExtractJSON(msgs); len(data) != 0 {
		t.Errorf("expected empty object without assistant messages, got %v", data)
	}
}

func TestExtractJSONUsesNewestAssistantMessage(t *testing.T) {
	msgs := []map[string]any{
		assistantMsg(`{"intro":"nyeste"}`),
		assistantMsg(`{"intro":"ældre"}`),
		{"role": "user", "content": "hej"},
	}
	data := ExtractJSON(msgs)
	if data["intro"] != "nyeste" {
		t.Errorf("expected newest-first selection, got %v", data)
	}
}

func TestFlattenContentParts(t *testing.T) {
	cases := []struct {
		name    string
		content any
		want    string
	}{
		{"plain string", "hej", "hej"},
		{"number", float64(42), "42"},
		{"bool", true, "true"},
		{"nil", nil, ""},
		{"text part", map[string]any{"type": "text", "text": "hej"}, "hej"},
		{"value part", map[string]any{"value": "hej"}, "hej"},
		{"input_text part", map[string]any{"input_text": "hej"}, "hej"},
		{"non-string text falls through to value concatenation", map[string]any{"text": map[string]any{"value": "hej"}}, "hej"},
		{"content string", map[string]any{"content": "hej"}, "hej"},
		{
			"content list",
			map[string]any{"content": []any{
				map[string]any{"type": "text", "text": "hej "},
				map[string]any{"type": "text", "text": "verden"},
			}},
			"hej verden",
		},
		{
			"list of parts",
			[]any{map[string]any{"text": "a"}, map[string]any{"text": "b"}},
			"ab",
		},
		{"fallback concatenation", map[string]any{"alpha": "a", "beta": "b"}, "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FlattenContent(tc.content); got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}
