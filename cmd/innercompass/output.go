package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/innercompass/internal/conversation"
	"github.com/kalambet/innercompass/internal/progress"
	"github.com/kalambet/innercompass/internal/session"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorDim    = "\033[2m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(os.Stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func roleLabel(role progress.Role) string {
	if role == progress.RoleUser {
		return colorize(colorGreen, "用户")
	}
	return colorize(colorCyan, "AI 教练")
}

// writeDashboard renders the module overview with a status mark per topic.
func writeDashboard(w io.Writer, d session.DashboardView) {
	fmt.Fprintf(w, "%s  %d/%d (%d%%)\n", colorize(colorBold, d.DisplayName), d.Completed, d.Total, d.Percent)
	for _, m := range d.Modules {
		fmt.Fprintf(w, "\n%s %s  %d/%d\n", m.Icon, colorize(colorBold, m.Title), m.Completed, len(m.Topics))
		for _, t := range m.Topics {
			mark := "○"
			switch {
			case t.Completed:
				mark = colorize(colorGreen, "✓")
			case t.Started:
				mark = colorize(colorYellow, "…")
			}
			fmt.Fprintf(w, "  %s %s %s\n", mark, t.Title, colorize(colorDim, t.Key))
		}
	}
	if d.ReportAvailable {
		fmt.Fprintf(w, "\n%s\n", colorize(colorDim, "innercompass report"))
	}
}

// writeChat renders a topic conversation followed by its summaries.
func writeChat(w io.Writer, v session.ChatView) {
	header := v.ModuleTitle + " · " + v.TopicTitle
	if v.Question != nil {
		header += fmt.Sprintf("  (%d/%d)", v.Question.Current, v.Question.Total)
	}
	fmt.Fprintln(w, colorize(colorBold, header))
	if v.MainPrompt != "" {
		fmt.Fprintln(w, colorize(colorDim, v.MainPrompt))
	}
	for _, m := range v.Messages {
		fmt.Fprintf(w, "\n%s\n%s\n", roleLabel(m.Role), strings.TrimSpace(m.Content))
	}
	if v.UserSummary != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "我的总结"), v.UserSummary)
	}
	if v.AISummary != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "AI 教练总结"), v.AISummary)
	}
	switch {
	case v.ReadOnly:
		fmt.Fprintln(w, colorize(colorDim, "\n(已完成)"))
	case v.State == conversation.StateSummarizing:
		fmt.Fprintln(w, colorize(colorDim, "\ninnercompass summary "+v.Key+" <你的总结>"))
	case v.CanComplete:
		fmt.Fprintln(w, colorize(colorDim, "\ninnercompass complete "+v.Key))
	}
}
