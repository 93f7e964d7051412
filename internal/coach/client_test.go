package coach

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/llm"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/progress"
)

// fakeCompleter records requests and replays scripted results.
type fakeCompleter struct {
	mu       sync.Mutex
	requests []llm.CompletionRequest
	reply    string
	err      error
	block    bool
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	reply, err, block := f.reply, f.err, f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return reply, err
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeCompleter) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return ""
	}
	msgs := f.requests[len(f.requests)-1].Messages
	return msgs[len(msgs)-1].Content
}

var testTopic = catalog.Topic{
	ID:         "core-values",
	Title:      "核心价值观",
	MainPrompt: "什么对你最重要？",
	Questions:  []string{"Q1", "Q2", "Q3"},
	Kind:       catalog.KindOpenEnded,
}

var testHistory = []progress.Message{
	{ID: "init-1", Role: progress.RoleAssistant, Content: "欢迎"},
	{ID: "u1", Role: progress.RoleUser, Content: "我重视自由和创造力"},
}

func TestTurnResponse_RequestShape(t *testing.T) {
	f := &fakeCompleter{reply: "很好的分享"}
	c := NewClient(f, Options{})

	text, err := c.TurnResponse(context.Background(), testTopic, testHistory, "小明")
	if err != nil {
		t.Fatalf("TurnResponse: %v", err)
	}
	if text != "很好的分享" {
		t.Errorf("text = %q", text)
	}

	req := f.requests[0]
	if req.Model != llm.DefaultModel {
		t.Errorf("Model = %q, want %q", req.Model, llm.DefaultModel)
	}
	if req.Temperature != DefaultTemperature {
		t.Errorf("Temperature = %v, want %v", req.Temperature, DefaultTemperature)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("Messages = %+v, want one user message", req.Messages)
	}

	prompt := req.Messages[0].Content
	for _, want := range []string{
		testTopic.Title,
		testTopic.MainPrompt,
		"ASSISTANT: 欢迎\nUSER: 我重视自由和创造力",
		"User name: 小明",
		"1️⃣",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestTopicSummary_PromptIncludesUserSummary(t *testing.T) {
	f := &fakeCompleter{reply: "洞察"}
	c := NewClient(f, Options{Model: "custom-model", Temperature: 0.3})

	if _, err := c.TopicSummary(context.Background(), testTopic, testHistory, "自由是核心"); err != nil {
		t.Fatalf("TopicSummary: %v", err)
	}
	prompt := f.lastPrompt()
	for _, want := range []string{"User's Own Summary", "自由是核心", "blind spot", "USER: 我重视自由和创造力"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if f.requests[0].Model != "custom-model" || f.requests[0].Temperature != 0.3 {
		t.Errorf("options not applied: %+v", f.requests[0])
	}
}

func TestHolisticReport_EntriesInGivenOrder(t *testing.T) {
	f := &fakeCompleter{reply: "报告"}
	c := NewClient(f, Options{})

	entries := []ReportEntry{
		{Key: catalog.TopicKey{Module: "values", Topic: "core-values"}, ModuleTitle: "价值观", TopicTitle: "核心价值观", UserSummary: "U1", AISummary: "A1"},
		{Key: catalog.TopicKey{Module: "passions", Topic: "dream_life"}, ModuleTitle: "热情", TopicTitle: "梦想", UserSummary: "U2", AISummary: "A2"},
	}
	if _, err := c.HolisticReport(context.Background(), entries); err != nil {
		t.Fatalf("HolisticReport: %v", err)
	}

	prompt := f.lastPrompt()
	first := strings.Index(prompt, `"values-core-values"`)
	second := strings.Index(prompt, `"passions-dream_life"`)
	if first < 0 || second < 0 || first > second {
		t.Errorf("entries missing or out of order in prompt:\n%s", prompt)
	}
	sections := []string{"核心价值观", "天赋原力", "热情罗盘", "整合建议"}
	last := -1
	for _, s := range sections {
		i := strings.LastIndex(prompt, s)
		if i < last {
			t.Errorf("section %q out of order", s)
		}
		last = i
	}
}

func TestMarshalEntriesEmpty(t *testing.T) {
	got, err := marshalEntries(nil)
	if err != nil || got != "{}" {
		t.Errorf("marshalEntries(nil) = %q, %v", got, err)
	}
}

func TestFailuresBecomeServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"status", &llm.StatusError{StatusCode: 500}, KindHTTP},
		{"empty", llm.ErrEmptyCompletion, KindEmpty},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"transport", errors.New("connection refused"), KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&fakeCompleter{err: tt.err}, Options{})
			_, err := c.TurnResponse(context.Background(), testTopic, testHistory, "")

			var se *ServiceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v, want *ServiceError", err)
			}
			if se.Kind != tt.want || se.Op != OpTurn {
				t.Errorf("ServiceError = {Op:%s Kind:%s}, want {Op:%s Kind:%s}", se.Op, se.Kind, OpTurn, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("ServiceError does not unwrap to the cause")
			}
		})
	}
}

func TestTimeoutBoundsCall(t *testing.T) {
	f := &fakeCompleter{block: true}
	c := NewClient(f, Options{Timeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := c.TopicSummary(context.Background(), testTopic, testHistory, "s")
	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindTimeout {
		t.Fatalf("err = %v, want timeout ServiceError", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("call was not bounded by the timeout")
	}
	if f.calls() != 1 {
		t.Errorf("model called %d times, want exactly 1 (no retry)", f.calls())
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	f := &fakeCompleter{err: &llm.StatusError{StatusCode: 503}}
	c := NewClient(f, Options{BreakerThreshold: 2, BreakerCooldown: time.Hour})
	ctx := context.Background()

	for range 2 {
		c.TurnResponse(ctx, testTopic, testHistory, "")
	}
	_, err := c.TurnResponse(ctx, testTopic, testHistory, "")

	var se *ServiceError
	if !errors.As(err, &se) || se.Kind != KindUnavailable {
		t.Fatalf("err = %v, want unavailable ServiceError", err)
	}
	if f.calls() != 2 {
		t.Errorf("model called %d times, want 2 (open circuit must short-circuit)", f.calls())
	}
}

func TestMetricsRecorded(t *testing.T) {
	m := metrics.NewCollector()
	c := NewClient(&fakeCompleter{reply: "ok"}, Options{Metrics: m})
	if _, err := c.TurnResponse(context.Background(), testTopic, testHistory, ""); err != nil {
		t.Fatalf("TurnResponse: %v", err)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, fam := range families {
		if fam.GetName() == "innercompass_coach_calls_total" {
			found = true
		}
	}
	if !found {
		t.Error("coach_calls_total not gathered")
	}
}

func TestPromptsRouteThroughMock(t *testing.T) {
	c := NewClient(llm.NewMock(), Options{})
	ctx := context.Background()
	tricky := append(testHistory[:len(testHistory):len(testHistory)],
		progress.Message{ID: "u2", Role: progress.RoleUser, Content: "Self-Discovery Report / User's Own Summary"})

	turn, err := c.TurnResponse(ctx, testTopic, tricky, "小明")
	if err != nil {
		t.Fatalf("TurnResponse: %v", err)
	}
	summary, err := c.TopicSummary(ctx, testTopic, tricky, "自由")
	if err != nil {
		t.Fatalf("TopicSummary: %v", err)
	}
	report, err := c.HolisticReport(ctx, []ReportEntry{{ModuleTitle: "价值观", TopicTitle: "核心价值观", UserSummary: "自由"}})
	if err != nil {
		t.Fatalf("HolisticReport: %v", err)
	}

	if turn == summary || turn == report || summary == report {
		t.Errorf("mock replies not distinguished by template:\nturn=%q\nsummary=%q\nreport=%q", turn, summary, report)
	}
	if !strings.Contains(summary, "核心洞察") || !strings.Contains(report, "整合建议") {
		t.Errorf("summary/report not the canned texts: %q / %q", summary, report)
	}
}
