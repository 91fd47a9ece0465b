// Package sanitize produces the stored HTML rendering of comment text.
package sanitize

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var policy = bluemonday.UGCPolicy()

// CommentHTML renders plain comment text to the sanitized HTML stored in
// the tree document. Input is escaped first, so markup submitted by the
// client survives only as text; paragraphs come from blank lines.
func CommentHTML(text string) string {
	escaped := html.EscapeString(text)
	var b strings.Builder
	for _, para := range strings.Split(escaped, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(para, "\n", "<br>"))
		b.WriteString("</p>")
	}
	return policy.Sanitize(b.String())
}

// SanitizeHTML filters client-supplied HTML down to the UGC allow list.
// Used when a client submits pre-rendered HTML alongside the text.
func SanitizeHTML(rawHTML string) string {
	return policy.Sanitize(rawHTML)
}
