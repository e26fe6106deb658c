package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/provider"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cellStyle    = lipgloss.NewStyle().PaddingRight(2)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// renderMarkdown renders answer text for the terminal. Falls back to the raw
// text when the renderer cannot be built (no TTY, unknown terminal).
func renderMarkdown(text string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return out
}

// renderTurn prints a committed model turn: answer, table, sources, and
// related questions.
func renderTurn(turn conversation.Turn) string {
	var b strings.Builder

	b.WriteString(renderMarkdown(turn.Content))

	if turn.Table != nil {
		b.WriteString("\n")
		b.WriteString(renderTable(turn.Table))
	}
	if len(turn.Sources) > 0 {
		b.WriteString("\n")
		b.WriteString(renderSources(turn.Sources))
	}
	if len(turn.Related) > 0 {
		b.WriteString("\n")
		b.WriteString(headingStyle.Render("Related"))
		b.WriteString("\n")
		for _, q := range turn.Related {
			fmt.Fprintf(&b, "  - %s\n", q)
		}
	}
	return b.String()
}

func renderSources(sources []provider.Source) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Sources"))
	b.WriteString("\n")
	for i, src := range sources {
		title := src.Title
		if title == "" {
			title = src.URI
		}
		fmt.Fprintf(&b, "  [%d] %s\n      %s\n", i+1, title, dimStyle.Render(src.URI))
	}
	return b.String()
}

func renderTable(table *conversation.Table) string {
	widths := make([]int, len(table.Headers))
	for i, h := range table.Headers {
		widths[i] = len(h)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, h := range table.Headers {
		b.WriteString(cellStyle.Render(headingStyle.Render(pad(h, widths[i]))))
	}
	b.WriteString("\n")
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) {
				b.WriteString(cellStyle.Render(pad(cell, widths[i])))
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
