// Package render turns raw chat bodies into display markup.
package render

import (
	"html"
	"strings"
)

// HTMLRenderer escapes a body for safe inclusion in HTML and keeps line
// breaks. It implements chat.Renderer.
type HTMLRenderer struct{}

func (HTMLRenderer) Render(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br>")
}
