package llm

import (
	"context"
	"strings"
	"sync"
)

var mockTurnResponses = []string{
	"这是一个很好的观点！你能详细说说是什么让你有这样的感受吗？",
	"我注意到你提到了一个重要的模式。这与你之前分享的经历有什么联系吗？",
	"这听起来像是一个关键时刻。你觉得它对你现在的想法产生了什么影响？",
	"非常有趣的观察！你认为这反映了你内心什么样的价值观？",
	"你刚才提到的这个经历很吸引人。它揭示了你怎样的天赋或能力？",
}

const mockTopicSummary = `1️⃣ **核心洞察**
• 你展现了深刻的自我反思能力
• 在探索过程中表现出真诚和开放的态度

2️⃣ **关键发现**
• 识别出了重要的个人价值观
• 展现了独特的思维方式

3️⃣ **行动建议**
• 继续保持这种反思习惯
• 在日常生活中实践今天的发现`

const mockHolisticReport = `1️⃣ **核心价值观**
• 你重视真诚与成长

2️⃣ **天赋原力**
• 你善于在专注中找到心流

3️⃣ **热情罗盘**
• 创造与分享让你充满能量

4️⃣ **整合建议**
• 选择一个能同时发挥价值观、天赋与热情的小项目，从本周开始行动`

// Opening lines of the coach's report and summary prompt templates.
const (
	reportPromptOpening  = "You are a master architect of human potential."
	summaryPromptOpening = "You are an expert Life Coach."
)

// Mock answers without network access. Turn responses rotate through a fixed
// list; summaries and reports are canned.
type Mock struct {
	mu    sync.Mutex
	turns int
}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var prompt string
	if len(req.Messages) > 0 {
		prompt = req.Messages[len(req.Messages)-1].Content
	}

	// Only the template's opening line is looked at; the rest of the prompt
	// carries user text.
	first, _, _ := strings.Cut(prompt, "\n")
	switch {
	case strings.HasPrefix(first, reportPromptOpening):
		return mockHolisticReport, nil
	case strings.HasPrefix(first, summaryPromptOpening):
		return mockTopicSummary, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	resp := mockTurnResponses[m.turns%len(mockTurnResponses)]
	m.turns++
	return resp, nil
}
