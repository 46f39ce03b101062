// Package mention parses "@path" file references while the user types and
// serves the file search behind them.
package mention

import (
	"strings"
	"unicode"
)

// Context describes the mention being typed at the cursor, if any.
type Context struct {
	Active bool   `json:"active"`
	Query  string `json:"query"`
	// AnchorOffset is the rune offset of the '@', or -1 when inactive.
	AnchorOffset int `json:"anchorOffset"`
}

var inactive = Context{AnchorOffset: -1}

// ComputeContext finds the mention that ends at cursor. Offsets count runes,
// and cursor is clamped to the text.
//
// A mention is active when the nearest '@' before the cursor starts the text
// or follows whitespace, and nothing between it and the cursor is whitespace.
func ComputeContext(text string, cursor int) Context {
	runes := []rune(text)
	cursor = clamp(cursor, 0, len(runes))

	anchor := -1
	for i := cursor - 1; i >= 0; i-- {
		r := runes[i]
		if r == '@' {
			anchor = i
			break
		}
		if unicode.IsSpace(r) {
			return inactive
		}
	}
	if anchor < 0 {
		return inactive
	}
	if anchor > 0 && !unicode.IsSpace(runes[anchor-1]) {
		return inactive
	}

	return Context{
		Active:       true,
		Query:        string(runes[anchor+1 : cursor]),
		AnchorOffset: anchor,
	}
}

// ApplySelection replaces the span [anchor, anchor+1+queryLen) with "@path",
// optionally followed by a space, and returns the new text with the cursor
// placed after the insertion. No space is added when whitespace already
// follows the span.
func ApplySelection(text string, anchor, queryLen int, path string, trailingSpace bool) (string, int) {
	runes := []rune(text)
	anchor = clamp(anchor, 0, len(runes))
	end := clamp(anchor+1+max(queryLen, 0), anchor, len(runes))

	rest := runes[end:]
	var b strings.Builder
	b.WriteString(string(runes[:anchor]))
	b.WriteByte('@')
	b.WriteString(path)
	cursor := anchor + 1 + len([]rune(path))
	if trailingSpace {
		if len(rest) > 0 && unicode.IsSpace(rest[0]) {
			cursor++
		} else {
			b.WriteByte(' ')
			cursor++
		}
	}
	b.WriteString(string(rest))
	return b.String(), cursor
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
