package formatter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// Excerpter produces short plain-text excerpts of message payloads for
// forwarding history entries. HTML payloads (mail-sourced messages) are
// stripped to text first.
type Excerpter struct {
	maxLen          int
	whitespaceRegex *regexp.Regexp
	invisibleRegex  *regexp.Regexp
}

// NewExcerpter creates a new excerpter; maxLen <= 0 uses the default of 200
func NewExcerpter(maxLen int) *Excerpter {
	if maxLen <= 0 {
		maxLen = 200
	}
	return &Excerpter{
		maxLen:          maxLen,
		whitespaceRegex: regexp.MustCompile(`\s+`),
		// Remove invisible Unicode characters (zero-width spaces, etc.)
		invisibleRegex: regexp.MustCompile(`[\x{200B}-\x{200D}\x{FEFF}\x{00AD}\x{2060}-\x{2064}]+`),
	}
}

// Excerpt returns a single-line excerpt of at most maxLen runes
func (e *Excerpter) Excerpt(payload string) string {
	text := payload
	if looksLikeHTML(text) {
		if stripped, err := stripHTML(text); err == nil {
			text = stripped
		}
	}

	text = e.invisibleRegex.ReplaceAllString(text, "")
	text = e.whitespaceRegex.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) <= e.maxLen {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:e.maxLen-1])) + "…"
}

func looksLikeHTML(s string) bool {
	return strings.Contains(s, "<") && strings.Contains(s, ">")
}

// stripHTML converts HTML to plain text, dropping non-content elements
func stripHTML(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, head, meta, link").Remove()

	// Add spacing before block elements so text does not run together
	doc.Find("p, div, br, h1, h2, h3, h4, h5, h6, li, tr").Each(func(i int, s *goquery.Selection) {
		s.PrependHtml(" ")
	})

	return doc.Text(), nil
}
