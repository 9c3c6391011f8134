// Package sanitize cleans agent-supplied text before it is stored or
// rebroadcast: HTML is stripped, control characters removed, and
// length capped.
package sanitize

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var htmlPolicy = bluemonday.StrictPolicy()

// Text strips HTML tags, decodes entities, removes control characters
// (except newline and tab) and limits the length in runes.
func Text(s string, maxLen int) string {
	s = html.UnescapeString(htmlPolicy.Sanitize(s))

	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		if n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}

// Line is Text with newlines collapsed to spaces, for single-line
// fields like thread names and agent descriptions.
func Line(s string, maxLen int) string {
	s = Text(s, maxLen)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	return strings.Join(strings.Fields(s), " ")
}
