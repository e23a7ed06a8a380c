package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/mikeboe/research-chat/pkg/chat"
)

var (
	accent = lipgloss.Color("#8BC34A")
	muted  = lipgloss.Color("#6B7280")
	danger = lipgloss.Color("#E53935")

	promptStyle = lipgloss.NewStyle().Foreground(accent).Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(muted).Italic(true)
	sourceStyle = lipgloss.NewStyle().Foreground(muted)
	titleStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true).Underline(true)
	errorStyle  = lipgloss.NewStyle().Foreground(danger)
	okStyle     = lipgloss.NewStyle().Foreground(accent)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1)
)

// markdownRenderer returns a function that renders Markdown for the
// terminal, or nil when rendering is unavailable.
func markdownRenderer(width int) func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return func(md string) string {
		out, err := r.Render(md)
		if err != nil {
			return md
		}
		return out
	}
}

func renderStatus(s chat.Status) string {
	switch {
	case s.Progress != nil:
		return statusStyle.Render(fmt.Sprintf("  searching %d/%d: %s", s.Progress.Index, s.Progress.Total, s.Progress.Query))
	case s.Phase == chat.PhaseRetrieving:
		return statusStyle.Render("  searching the web...")
	case s.Phase == chat.PhaseGenerating && s.Intent != "":
		return statusStyle.Render(fmt.Sprintf("  answering (%s)...", strings.ToLower(string(s.Intent))))
	default:
		return ""
	}
}

func renderSources(msg chat.Message) string {
	if len(msg.Sources) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Sources:")
	for i, s := range msg.Sources {
		fmt.Fprintf(&sb, "\n [%d] %s\n     %s", i+1, s.Title, s.URL)
	}
	return sourceStyle.Render(sb.String())
}

func renderAnalysis(a *chat.AnalysisResult) string {
	if a == nil {
		return ""
	}
	if !a.OK {
		return boxStyle.BorderForeground(danger).Render(errorStyle.Render("analysis failed: " + a.Error))
	}
	return boxStyle.Render(strings.TrimRight(a.Output, "\n"))
}

func renderThreads(threads []chat.ThreadSummary) string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Threads"))
	for i, t := range threads {
		marker := " "
		if t.Active {
			marker = promptStyle.Render("*")
		}
		fmt.Fprintf(&sb, "\n%s %d. %s %s", marker, i+1, t.Title, sourceStyle.Render(fmt.Sprintf("(%d messages)", t.Messages)))
	}
	return sb.String()
}
