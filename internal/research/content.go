package research

import (
	"encoding/json"
	"fmt"
	"strings"
)

// toolResult is the result envelope a tool server returns from tools/call:
// a list of content blocks plus an in-band error flag.
type toolResult struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// textContent concatenates the text blocks of a tools/call result. A result
// flagged isError becomes an error carrying that text.
func textContent(raw json.RawMessage) (string, error) {
	var res toolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return "", fmt.Errorf("decode tool result: %w", err)
	}

	var b strings.Builder
	for _, c := range res.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	if res.IsError {
		msg := strings.TrimSpace(b.String())
		if msg == "" {
			msg = "tool reported an error with no message"
		}
		return "", fmt.Errorf("tool error: %s", msg)
	}
	return b.String(), nil
}

// decodeResult parses the text content of a tools/call result into v.
// Tool output sometimes wraps the JSON in markdown fences; those are
// stripped first.
func decodeResult(raw json.RawMessage, v any) error {
	text, err := textContent(raw)
	if err != nil {
		return err
	}
	text = stripFences(text)
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("decode tool output: %w", err)
	}
	return nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
