// Package render prepares assistant answers for display. Answers use a
// small markdown subset: bold, links, line breaks and bullet lists.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	heading    = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	bullet     = regexp.MustCompile(`(?m)^([ \t]*)[*+][ \t]+`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Sanitize escapes raw HTML and then reduces text to the supported subset:
// headings become bold lines, bullets use "- ", and runs of blank lines are
// collapsed. Escaping always happens first.
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = escaper.Replace(text)
	text = heading.ReplaceAllString(text, "**$1**")
	text = bullet.ReplaceAllString(text, "$1- ")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// HTML sanitizes text and renders it. Raw HTML never reaches the output
// since it is escaped before parsing and the renderer runs without
// html.WithUnsafe.
func HTML(text string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Sanitize(text)), &buf); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}
