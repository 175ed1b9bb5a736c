package formatter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExcerpt_PlainText(t *testing.T) {
	e := NewExcerpter(200)
	assert.Equal(t, "hello world", e.Excerpt("hello world"))
}

func TestExcerpt_CollapsesWhitespace(t *testing.T) {
	e := NewExcerpter(200)
	assert.Equal(t, "one two three", e.Excerpt("  one\n\ntwo\t three  "))
}

func TestExcerpt_StripsHTML(t *testing.T) {
	e := NewExcerpter(200)
	in := `<html><head><style>body{color:red}</style></head><body><p>Your code is</p><p>12345</p></body></html>`
	assert.Equal(t, "Your code is 12345", e.Excerpt(in))
}

func TestExcerpt_RemovesInvisibleCharacters(t *testing.T) {
	e := NewExcerpter(200)
	assert.Equal(t, "code", e.Excerpt("co\u200Bde\uFEFF"))
}

func TestExcerpt_TruncatesLongText(t *testing.T) {
	e := NewExcerpter(20)
	out := e.Excerpt(strings.Repeat("a", 100))
	assert.LessOrEqual(t, len([]rune(out)), 20)
	assert.True(t, strings.HasSuffix(out, "…"))
}

func TestExcerpt_DefaultLength(t *testing.T) {
	e := NewExcerpter(0)
	out := e.Excerpt(strings.Repeat("b", 500))
	assert.Equal(t, 200, len([]rune(out)))
}
