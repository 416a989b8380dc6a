package content

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	policy = bluemonday.UGCPolicy()

	markdown = goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
	)
)

// Sanitize removes unsafe HTML from the input string using a strict policy.
// It is applied to user-supplied message content and status messages before
// they are persisted.
func Sanitize(input string) string {
	return policy.Sanitize(input)
}

// RenderHTML renders message markdown to HTML and sanitizes the result.
// Used to fill contentHtml in client-facing payloads.
func RenderHTML(input string) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(input), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return policy.Sanitize(buf.String()), nil
}

// Preview produces a plain-text, single-line preview of message content,
// trimmed to max runes. Used as the notification body for offline users.
func Preview(input string, max int) string {
	s := strings.Join(strings.Fields(stripMarkdown(input)), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max])) + "…"
}

func stripMarkdown(s string) string {
	// Good enough for previews: drop the common inline markers.
	r := strings.NewReplacer("**", "", "__", "", "*", "", "_", "", "`", "", "~~", "", "#", "")
	return r.Replace(s)
}
