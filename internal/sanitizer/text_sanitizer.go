// Package sanitizer cleans user-supplied text (names, descriptions, data
// item values) before it is stored, so records never carry markup.
package sanitizer

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer strips all HTML from plain-text input
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer creates a sanitizer using bluemonday's strict policy.
// Script and style element content is dropped along with the tags.
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Text removes markup and surrounding whitespace. Remaining special
// characters are HTML-escaped ("&" becomes "&amp;").
func (s *TextSanitizer) Text(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}
	return strings.TrimSpace(s.policy.Sanitize(input))
}

// Identifier normalizes a login identifier: trimmed and lowercased.
// Identifiers are compared, never rendered, so markup is not stripped.
func Identifier(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}
