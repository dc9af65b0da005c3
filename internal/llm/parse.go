package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// decodeObject finds the JSON object in a reply (the model may wrap it in
// prose or a code fence) and decodes it into v.
func decodeObject(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in response")
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// clip trims s to at most n runes, ending on a word boundary when possible.
func clip(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	cut := string(r[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
