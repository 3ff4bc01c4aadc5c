// Package htmlsanitize strips markup from untrusted text before it is stored.
package htmlsanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var strict = bluemonday.StrictPolicy()

// PlainText removes every tag from s and returns readable text. Identity
// providers assert display names we render later, so they pass through here
// first.
func PlainText(s string) string {
	if s == "" {
		return ""
	}
	out := strict.Sanitize(s)
	// StrictPolicy escapes entities; stored names are plain text.
	out = html.UnescapeString(out)
	return strings.TrimSpace(out)
}

// IsPlainText reports whether s contains no markup.
func IsPlainText(s string) bool {
	return strict.Sanitize(s) == html.EscapeString(s)
}
