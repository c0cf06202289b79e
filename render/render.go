// Package render turns markdown message content into a displayable document.
package render

import (
	"bytes"
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Renderer is a pure markdown -> document function.
type Renderer interface {
	Render(markdown string) (string, error)
}

// Terminal renders markdown for an ANSI terminal.
type Terminal struct {
	r *glamour.TermRenderer
}

// NewTerminal creates a terminal renderer wrapping at width. An empty style
// picks light or dark from the terminal background; "notty" gives plain output.
func NewTerminal(style string, width int) (*Terminal, error) {
	styleOpt := glamour.WithAutoStyle()
	if style != "" {
		styleOpt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(width))
	if err != nil {
		return nil, fmt.Errorf("failed to create terminal renderer: %w", err)
	}
	return &Terminal{r: r}, nil
}

// Render implements Renderer.
func (t *Terminal) Render(markdown string) (string, error) {
	return t.r.Render(markdown)
}

// HTML renders GitHub-flavoured markdown to an HTML fragment. Raw HTML in the
// source is omitted.
type HTML struct {
	md goldmark.Markdown
}

// NewHTML creates an HTML renderer.
func NewHTML() *HTML {
	return &HTML{md: goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)}
}

// Render implements Renderer.
func (h *HTML) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}

// Plain returns the markdown source unchanged.
type Plain struct{}

// Render implements Renderer.
func (Plain) Render(markdown string) (string, error) {
	return markdown, nil
}

// OrSource renders markdown with r, falling back to the source on error.
func OrSource(r Renderer, markdown string) string {
	out, err := r.Render(markdown)
	if err != nil {
		return markdown
	}
	return out
}
