package export

import (
	"strings"
	"testing"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]catalog.Module{
		{ID: "values", Title: "价值观", Icon: "🧭", Topics: []catalog.Topic{
			{ID: "core-values", Title: "核心价值观", MainPrompt: "什么对你最重要？"},
		}},
		{ID: "passions", Title: "热情", Icon: "🔥", Topics: []catalog.Topic{
			{ID: "dream_life", Title: "梦想生活", MainPrompt: "描述你的理想一天。"},
		}},
	})
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	return c
}

func TestFilename(t *testing.T) {
	day := time.Date(2026, 3, 9, 23, 0, 0, 0, time.UTC)
	tests := map[string]string{
		"小明":     "InnerCompass_小明_2026-03-09.txt",
		"a/b c":  "InnerCompass_a_b_c_2026-03-09.txt",
		"  ":     "InnerCompass_user_2026-03-09.txt",
		"x:y?\"": "InnerCompass_x_y__2026-03-09.txt",
	}
	for in, want := range tests {
		if got := Filename(in, day); got != want {
			t.Errorf("Filename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRenderSectionOrder(t *testing.T) {
	rec := progress.UserRecord{
		DisplayName: "小明",
		Progress: map[catalog.TopicKey]progress.TopicProgress{
			{Module: "values", Topic: "core-values"}: {
				IsCompleted: true,
				Messages: []progress.Message{
					{ID: "init-1", Role: progress.RoleAssistant, Content: "欢迎"},
					{ID: "u", Role: progress.RoleUser, Content: "我重视自由"},
				},
				UserSummary: "自由是核心",
				AISummary:   "你的洞察",
			},
		},
	}
	now := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC)

	name, body := Render(testCatalog(t), rec, now)
	if name != "InnerCompass_小明_2026-03-09.txt" {
		t.Errorf("filename = %q", name)
	}

	order := []string{
		"用户：小明",
		"导出日期：2026-03-09",
		"🧭 价值观",
		"## 核心价值观 （已完成）",
		"核心议题：什么对你最重要？",
		"AI 教练：欢迎",
		"用户：我重视自由",
		"【我的总结】\n自由是核心",
		"【AI 洞察】\n你的洞察",
		topicRule,
		"🔥 热情",
		"## 梦想生活 （尚未开始）",
	}
	pos := 0
	for _, want := range order {
		i := strings.Index(body[pos:], want)
		if i < 0 {
			t.Fatalf("%q missing or out of order in:\n%s", want, body)
		}
		pos += i + len(want)
	}
	if strings.Contains(body, "【对话记录】\n\n## 梦想生活") {
		t.Error("unstarted topic rendered a message log")
	}
}

func TestRenderIsPure(t *testing.T) {
	c := testCatalog(t)
	rec := progress.UserRecord{DisplayName: "a"}
	now := time.Now()
	_, a := Render(c, rec, now)
	_, b := Render(c, rec, now)
	if a != b {
		t.Error("Render is not deterministic")
	}
}
