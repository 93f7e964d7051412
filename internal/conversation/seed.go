package conversation

import (
	"strings"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
)

const (
	seedIntroID     = "init-intro"
	seedQuestionID  = "init-q1"
	seedOpenEndedID = "init-1"
)

// seedEpoch stamps seeded messages so that seeding the same topic twice
// produces identical messages.
var seedEpoch = time.Unix(0, 0).UTC()

func seedMessages(module catalog.Module, topic catalog.Topic) []progress.Message {
	if topic.IsQuestionnaire() {
		msgs := []progress.Message{{
			ID:        seedIntroID,
			Role:      progress.RoleAssistant,
			Content:   questionnaireIntro(topic),
			CreatedAt: seedEpoch,
		}}
		if len(topic.Questions) > 0 {
			msgs = append(msgs, progress.Message{
				ID:        seedQuestionID,
				Role:      progress.RoleAssistant,
				Content:   topic.Questions[0],
				CreatedAt: seedEpoch.Add(time.Millisecond),
			})
		}
		return msgs
	}

	return []progress.Message{{
		ID:        seedOpenEndedID,
		Role:      progress.RoleAssistant,
		Content:   openEndedWelcome(module, topic),
		CreatedAt: seedEpoch,
	}}
}

func questionnaireIntro(topic catalog.Topic) string {
	var b strings.Builder
	b.WriteString("**" + topic.Title + "**\n\n")
	b.WriteString(topic.MainPrompt)
	if topic.Intro != "" {
		b.WriteString("\n\n> " + topic.Intro)
	}
	return b.String()
}

func openEndedWelcome(module catalog.Module, topic catalog.Topic) string {
	var b strings.Builder
	b.WriteString("欢迎来到 **" + module.Title + "** - **" + topic.Title + "**。\n\n")
	b.WriteString("**核心议题：**\n" + topic.MainPrompt + "\n\n")
	if topic.Intro != "" {
		b.WriteString("> " + topic.Intro + "\n\n")
	}
	if len(topic.Questions) > 0 {
		b.WriteString("**你可以参考以下角度进行思考：**\n")
		for _, q := range topic.Questions {
			b.WriteString("- " + q + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString("请把你此刻的想法告诉我，我会陪伴你一起深入探索。")
	return b.String()
}
