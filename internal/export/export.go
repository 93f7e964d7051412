// Package export renders a user's full progress as a plain-text document.
package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
)

const (
	moduleRule = "========================================"
	topicRule  = "----------------------------------------"
)

var speakerLabels = map[progress.Role]string{
	progress.RoleUser:      "用户",
	progress.RoleAssistant: "AI 教练",
	progress.RoleSystem:    "系统",
}

// Filename returns "InnerCompass_<displayName>_<YYYY-MM-DD>.txt" with
// characters that are unsafe in file names replaced.
func Filename(displayName string, now time.Time) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, strings.TrimSpace(displayName))
	if name == "" {
		name = "user"
	}
	return fmt.Sprintf("InnerCompass_%s_%s.txt", name, now.Format("2006-01-02"))
}

// Render lays out every catalog topic in catalog order: module header, topic
// header and prompt, the message log, then both summaries. It performs no
// I/O.
func Render(cat *catalog.Catalog, rec progress.UserRecord, now time.Time) (filename, body string) {
	var b strings.Builder

	fmt.Fprintf(&b, "InnerCompass 自我探索记录\n")
	fmt.Fprintf(&b, "用户：%s\n", rec.DisplayName)
	fmt.Fprintf(&b, "导出日期：%s\n\n", now.Format("2006-01-02"))

	for _, m := range cat.Modules() {
		fmt.Fprintf(&b, "%s\n%s %s\n", moduleRule, m.Icon, m.Title)
		if m.Description != "" {
			fmt.Fprintf(&b, "%s\n", m.Description)
		}
		fmt.Fprintf(&b, "%s\n\n", moduleRule)

		for _, t := range m.Topics {
			key := catalog.TopicKey{Module: m.ID, Topic: t.ID}
			writeTopic(&b, t, rec.Progress[key], hasProgress(rec, key))
		}
	}

	return Filename(rec.DisplayName, now), b.String()
}

func hasProgress(rec progress.UserRecord, key catalog.TopicKey) bool {
	p, ok := rec.Progress[key]
	return ok && len(p.Messages) > 0
}

func writeTopic(b *strings.Builder, t catalog.Topic, p progress.TopicProgress, started bool) {
	status := "（进行中）"
	switch {
	case p.IsCompleted:
		status = "（已完成）"
	case !started:
		status = "（尚未开始）"
	}
	fmt.Fprintf(b, "## %s %s\n", t.Title, status)
	fmt.Fprintf(b, "核心议题：%s\n\n", t.MainPrompt)

	if started {
		b.WriteString("【对话记录】\n")
		for _, msg := range p.Messages {
			label, ok := speakerLabels[msg.Role]
			if !ok {
				label = string(msg.Role)
			}
			fmt.Fprintf(b, "%s：%s\n\n", label, strings.TrimSpace(msg.Content))
		}
	}

	if p.UserSummary != "" {
		fmt.Fprintf(b, "【我的总结】\n%s\n\n", p.UserSummary)
	}
	if p.AISummary != "" {
		fmt.Fprintf(b, "【AI 洞察】\n%s\n\n", p.AISummary)
	}
	fmt.Fprintf(b, "%s\n\n", topicRule)
}
