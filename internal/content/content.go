package content

import (
	"bytes"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
)

// Sanitize strips unsafe HTML from user-provided message content before it
// is persisted.
func Sanitize(input string) string {
	return strings.TrimSpace(policy.Sanitize(input))
}

// Render converts stored message markdown into sanitized HTML for clients
// that want a rendered view.
func Render(input string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		// Fall back to the sanitized source text.
		return Sanitize(input)
	}
	return policy.Sanitize(buf.String())
}
