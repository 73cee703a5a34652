package agent

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
)

var (
	fencedJSONRe = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")
	looseJSONRe  = regexp.MustCompile(`(?s)(\{.*\})`)
)

// FlattenContent collects the text out of a message content value, which
// may be a plain string or an arbitrarily nested structure of content
// parts. For object nodes the fields are tried in a fixed priority order;
// when none match, all values are concatenated.
func FlattenContent(v any) string {
	switch node := v.(type) {
	case nil:
		return ""
	case string:
		return node
	case bool:
		return strconv.FormatBool(node)
	case float64:
		return strconv.FormatFloat(node, 'f', -1, 64)
	case json.Number:
		return node.String()
	case []any:
		var out string
		for _, child := range node {
			out += FlattenContent(child)
		}
		return out
	case map[string]any:
		if s, ok := node["text"].(string); ok {
			return s
		}
		if s, ok := node["value"].(string); ok {
			return s
		}
		if s, ok := node["input_text"].(string); ok {
			return s
		}
		switch content := node["content"].(type) {
		case []any:
			var out string
			for _, child := range content {
				out += FlattenContent(child)
			}
			return out
		case string:
			return content
		}
		// Last resort: concatenate every value, in key order so the
		// result is deterministic.
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var out string
		for _, k := range keys {
			out += FlattenContent(node[k])
		}
		return out
	default:
		return ""
	}
}

// ExtractJSON finds the newest assistant message (the backend orders
// newest first) and parses its content as JSON: directly, from a fenced
// ```json block, or from the first brace-delimited span. When nothing
// parses the result is an empty object, never an error; the caller decides
// what an empty extraction means.
func ExtractJSON(msgs []map[string]any) map[string]any {
	slog.Debug("agent.ExtractJSON: extracting from messages", "count", len(msgs))

	content := newestAssistantContent(msgs)
	if content == "" {
		slog.Warn("agent.ExtractJSON: no assistant content found")
		return map[string]any{}
	}

	if data := safeUnmarshal(content); len(data) > 0 {
		slog.Debug("agent.ExtractJSON: parsed direct JSON", "keys", len(data))
		return data
	}
	if m := fencedJSONRe.FindStringSubmatch(content); m != nil {
		if data := safeUnmarshal(m[1]); len(data) > 0 {
			slog.Debug("agent.ExtractJSON: parsed fenced JSON block", "keys", len(data))
			return data
		}
	}
	if m := looseJSONRe.FindStringSubmatch(content); m != nil {
		if data := safeUnmarshal(m[1]); len(data) > 0 {
			slog.Debug("agent.ExtractJSON: parsed loose JSON span", "keys", len(data))
			return data
		}
	}

	snippet := content
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	slog.Error("agent.ExtractJSON: assistant output is not parseable JSON", "snippet", snippet)
	return map[string]any{}
}

// newestAssistantContent returns the flattened content of the first
// assistant-authored message in protocol order.
func newestAssistantContent(msgs []map[string]any) string {
	for _, m := range msgs {
		if role, _ := m["role"].(string); role == "assistant" {
			return FlattenContent(m["content"])
		}
	}
	return ""
}

func safeUnmarshal(s string) map[string]any {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return nil
	}
	return data
}
