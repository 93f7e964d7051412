package coach

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
)

const formattingRules = `FORMATTING REQUIREMENTS:
- Use **Number Emojis (1️⃣, 2️⃣, 3️⃣)** to separate main points.
- Use **Bullet Points (•)** for sub-details.
- Use **Bold Text** to highlight keywords or emotional shifts.
- Avoid long walls of text.`

// ReportEntry is one completed topic contributed to the holistic report.
type ReportEntry struct {
	Key         catalog.TopicKey
	ModuleTitle string
	TopicTitle  string
	UserSummary string
	AISummary   string
}

// formatHistory renders messages one per line as "ROLE: content".
func formatHistory(history []progress.Message) string {
	var b strings.Builder
	for i, m := range history {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.ToUpper(string(m.Role)))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}

func turnPrompt(topic catalog.Topic, history []progress.Message, displayName string) string {
	userContext := "User name: " + displayName
	if displayName == "" {
		userContext = "Unknown"
	}
	return fmt.Sprintf(`You are an empathetic, insightful, and professional Life Coach.
The user is currently working on a self-discovery module.

Current Topic: %q
Main Question: %q

The user has been provided with a list of reflecting questions to guide their thinking.

User Context/Background: %s

Recent Conversation History:
%s

YOUR GOAL:
1. Acknowledge the user's latest input with empathy.
2. Identify key patterns, emotions, or strengths in what they said.
3. Ask ONE or TWO powerful, probing follow-up questions to help them dig deeper into the current topic.
4. Do NOT simply repeat their answer. Synthesize it.
5. Keep the tone warm, encouraging, but professional.

%s

Reply in Chinese (Simplified).`,
		topic.Title, topic.MainPrompt, userContext, formatHistory(history), formattingRules)
}

func summaryPrompt(topic catalog.Topic, history []progress.Message, userSummary string) string {
	return fmt.Sprintf(`You are an expert Life Coach. The user has completed a reflection session on the topic: %q.
Main Question: %q

Session Transcript:
%s

User's Own Summary:
%q

TASK:
Write a concise but profound summary (in Chinese) of the user's insights for this topic.
1. Highlight the core discovery they made.
2. Point out a "blind spot" or a "hidden potential" they might have missed based on their answers.
3. Connect this insight to their broader self-discovery journey (Values/Talents/Passions).

%s
Make it look like a professional, structured insight report.`,
		topic.Title, topic.MainPrompt, formatHistory(history), userSummary, formattingRules)
}

func reportPrompt(entries []ReportEntry) (string, error) {
	data, err := marshalEntries(entries)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a master architect of human potential. The user has completed several self-discovery modules.

Here is the data from their completed sessions (Values, Talents, Passions):
%s

TASK:
Generate a comprehensive "Self-Discovery Report" in Chinese.

Structure:
1. **核心价值观 (Core Values)**: Synthesize their value drivers.
2. **天赋原力 (Native Superpowers)**: Identify their natural talents and flow states.
3. **热情罗盘 (Passion Compass)**: Summarize what gives them energy.
4. **整合建议 (Integration)**: How can they combine their Values, Talents, and Passions to live a more fulfilling life? Provide actionable advice.

%s
Ensure high readability with clear spacing.`, data, formattingRules), nil
}

type entryPayload struct {
	ModuleTitle string `json:"moduleTitle"`
	TopicTitle  string `json:"topicTitle"`
	UserSummary string `json:"userSummary"`
	AISummary   string `json:"aiSummary"`
}

// marshalEntries writes entries as one JSON object keyed by topic key. Go maps
// do not keep insertion order, so the object is assembled by hand to preserve
// catalog order.
func marshalEntries(entries []ReportEntry) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, e := range entries {
		if i > 0 {
			buf.WriteString(",")
		}
		key, err := json.Marshal(e.Key.String())
		if err != nil {
			return "", err
		}
		val, err := json.MarshalIndent(entryPayload{
			ModuleTitle: e.ModuleTitle,
			TopicTitle:  e.TopicTitle,
			UserSummary: e.UserSummary,
			AISummary:   e.AISummary,
		}, "  ", "  ")
		if err != nil {
			return "", err
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	if len(entries) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}")
	return buf.String(), nil
}
