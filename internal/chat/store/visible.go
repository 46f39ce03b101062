package store

import "strings"

// IsVisible reports whether a message has something to render: a non-empty
// text part or a tool invocation.
func IsVisible(m Message) bool {
	for _, p := range m.Parts {
		switch p.Type {
		case PartTypeText:
			if strings.TrimSpace(p.Text) != "" {
				return true
			}
		case PartTypeTool:
			return true
		}
	}
	return false
}

// FilterVisible returns the visible messages in order. The input is not modified.
func FilterVisible(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if IsVisible(m) {
			out = append(out, m)
		}
	}
	return out
}
