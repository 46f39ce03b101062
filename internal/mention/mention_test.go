package mention

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeContext(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		cursor int
		want   Context
	}{
		{name: "after space", text: "hello @re", cursor: 9, want: Context{Active: true, Query: "re", AnchorOffset: 6}},
		{name: "glued to word", text: "hello@re", cursor: 8, want: inactive},
		{name: "at start", text: "@a b", cursor: 2, want: Context{Active: true, Query: "a", AnchorOffset: 0}},
		{name: "cursor past space", text: "@a b", cursor: 4, want: inactive},
		{name: "empty query", text: "see @", cursor: 5, want: Context{Active: true, Query: "", AnchorOffset: 4}},
		{name: "after newline", text: "line\n@src/ma", cursor: 12, want: Context{Active: true, Query: "src/ma", AnchorOffset: 5}},
		{name: "after tab", text: "x\t@f", cursor: 4, want: Context{Active: true, Query: "f", AnchorOffset: 2}},
		{name: "no at", text: "plain text", cursor: 10, want: inactive},
		{name: "email address", text: "mail me@host", cursor: 12, want: inactive},
		{name: "cursor mid query", text: "@readme", cursor: 3, want: Context{Active: true, Query: "re", AnchorOffset: 0}},
		{name: "cursor clamped high", text: "@ab", cursor: 99, want: Context{Active: true, Query: "ab", AnchorOffset: 0}},
		{name: "cursor clamped low", text: "@ab", cursor: -4, want: inactive},
		{name: "rune offsets", text: "héllo @fé", cursor: 9, want: Context{Active: true, Query: "fé", AnchorOffset: 6}},
		{name: "nearest at wins", text: "@a @b", cursor: 5, want: Context{Active: true, Query: "b", AnchorOffset: 3}},
		{name: "double at", text: "@@x", cursor: 3, want: inactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeContext(tt.text, tt.cursor))
		})
	}
}

func TestApplySelection(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		anchor     int
		queryLen   int
		path       string
		space      bool
		wantText   string
		wantCursor int
	}{
		{name: "end of text", text: "open @re", anchor: 5, queryLen: 2, path: "README.md", space: true, wantText: "open @README.md ", wantCursor: 16},
		{name: "no trailing space", text: "open @re", anchor: 5, queryLen: 2, path: "README.md", wantText: "open @README.md", wantCursor: 15},
		{name: "middle of text", text: "see @ma and more", anchor: 4, queryLen: 2, path: "main.go", space: true, wantText: "see @main.go and more", wantCursor: 13},
		{name: "empty query", text: "@", anchor: 0, queryLen: 0, path: "a.go", space: true, wantText: "@a.go ", wantCursor: 6},
		{name: "query overruns text", text: "@ab", anchor: 0, queryLen: 10, path: "abc.go", wantText: "@abc.go", wantCursor: 7},
		{name: "runes", text: "é @f", anchor: 2, queryLen: 1, path: "fé.go", space: true, wantText: "é @fé.go ", wantCursor: 9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, cursor := ApplySelection(tt.text, tt.anchor, tt.queryLen, tt.path, tt.space)
			assert.Equal(t, tt.wantText, got)
			assert.Equal(t, tt.wantCursor, cursor)
		})
	}
}

func TestApplySelection_RoundTripsWithContext(t *testing.T) {
	text := "look at @int"
	ctx := ComputeContext(text, len([]rune(text)))
	assert.True(t, ctx.Active)

	got, cursor := ApplySelection(text, ctx.AnchorOffset, len([]rune(ctx.Query)), "internal/", false)
	assert.Equal(t, "look at @internal/", got)

	after := ComputeContext(got, cursor)
	assert.True(t, after.Active)
	assert.Equal(t, "internal/", after.Query)
}

func TestNavigator(t *testing.T) {
	var n Navigator

	assert.Equal(t, -1, n.Index())
	assert.Equal(t, ActionNone, n.HandleKey(KeyArrowDown))
	assert.Equal(t, ActionNone, n.HandleKey(KeyEnter), "enter falls through with no candidates")
	assert.Equal(t, ActionNone, n.HandleKey(KeyTab))
	assert.Equal(t, ActionCancel, n.HandleKey(KeyEscape))

	n.SetCandidates(3)
	assert.Equal(t, 0, n.Index())
	assert.Equal(t, ActionMove, n.HandleKey(KeyArrowUp))
	assert.Equal(t, 2, n.Index(), "up wraps to the last candidate")
	assert.Equal(t, ActionMove, n.HandleKey(KeyArrowDown))
	assert.Equal(t, 0, n.Index(), "down wraps to the first candidate")
	n.HandleKey(KeyArrowDown)
	assert.Equal(t, 1, n.Index())
	assert.Equal(t, ActionCommit, n.HandleKey(KeyEnter))
	assert.Equal(t, ActionCommit, n.HandleKey(KeyTab))
	assert.Equal(t, ActionNone, n.HandleKey("a"))

	n.SetCandidates(0)
	assert.Equal(t, -1, n.Index())
	assert.Equal(t, "commit", ActionCommit.String())
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("")
	assert.NoError(t, err)
	assert.Equal(t, UnitRune, u)

	u, err = ParseUnit("utf16")
	assert.NoError(t, err)
	assert.Equal(t, UnitUTF16, u)

	_, err = ParseUnit("bytes")
	assert.ErrorContains(t, err, "unknown offset unit")
}

func TestUnitConversion(t *testing.T) {
	// "😀" is one rune and two UTF-16 units; "é" is one of each.
	text := "😀é @src"

	assert.Equal(t, 3, UnitUTF16.ToRunes(text, 4))
	assert.Equal(t, 4, UnitUTF16.FromRunes(text, 3))
	assert.Equal(t, 0, UnitUTF16.ToRunes(text, 1), "half a surrogate pair")
	assert.Equal(t, 7, UnitUTF16.ToRunes(text, 8))
	assert.Equal(t, 8, UnitUTF16.FromRunes(text, 7))
	assert.Equal(t, 9, UnitUTF16.FromRunes(text, 8), "past the end")
	assert.Equal(t, 5, UnitRune.ToRunes(text, 5))
	assert.Equal(t, 5, UnitRune.FromRunes(text, 5))
}

func TestComputeContext_UTF16Cursor(t *testing.T) {
	text := "😀 @re"
	cursor := UnitUTF16.ToRunes(text, 6)
	ctx := ComputeContext(text, cursor)
	assert.True(t, ctx.Active)
	assert.Equal(t, "re", ctx.Query)
	assert.Equal(t, 3, UnitUTF16.FromRunes(text, ctx.AnchorOffset))
}
