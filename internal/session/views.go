package session

import (
	"math"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/conversation"
	"github.com/kalambet/innercompass/internal/progress"
)

type View string

const (
	ViewLogin     View = "login"
	ViewDashboard View = "dashboard"
	ViewChat      View = "chat"
	ViewReport    View = "report"
)

type TopicStatus struct {
	Key       string `json:"key"`
	ID        string `json:"id"`
	Title     string `json:"title"`
	Started   bool   `json:"started"`
	Completed bool   `json:"completed"`
}

type ModuleStatus struct {
	ID          catalog.ModuleID `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Icon        string           `json:"icon"`
	Color       string           `json:"color"`
	Kind        catalog.Kind     `json:"kind"`
	Completed   int              `json:"completed"`
	Topics      []TopicStatus    `json:"topics"`
}

// DashboardView summarizes a user's progress over the whole catalog.
type DashboardView struct {
	DisplayName     string         `json:"display_name"`
	Completed       int            `json:"completed"`
	Total           int            `json:"total"`
	Percent         int            `json:"percent"`
	ReportAvailable bool           `json:"report_available"`
	Modules         []ModuleStatus `json:"modules"`
}

type MessageView struct {
	ID        string        `json:"id"`
	Role      progress.Role `json:"role"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Scripted  bool          `json:"scripted"`
}

type QuestionProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ChatView is everything a client needs to render one topic conversation.
type ChatView struct {
	Key         string             `json:"key"`
	ModuleTitle string             `json:"module_title"`
	TopicTitle  string             `json:"topic_title"`
	MainPrompt  string             `json:"main_prompt"`
	Kind        catalog.Kind       `json:"kind"`
	State       conversation.State `json:"state"`
	Messages    []MessageView      `json:"messages"`
	UserSummary string             `json:"user_summary,omitempty"`
	AISummary   string             `json:"ai_summary,omitempty"`
	CanComplete bool               `json:"can_complete"`
	ReadOnly    bool               `json:"read_only"`
	Question    *QuestionProgress  `json:"question,omitempty"`
}

type ReportView struct {
	Text      string `json:"text"`
	Empty     bool   `json:"empty"`
	Completed int    `json:"completed"`
}

// BuildDashboard summarizes rec against the catalog in catalog order.
func BuildDashboard(cat *catalog.Catalog, rec progress.UserRecord) DashboardView {
	d := DashboardView{DisplayName: rec.DisplayName, Total: cat.TopicCount()}
	for _, m := range cat.Modules() {
		ms := ModuleStatus{
			ID:          m.ID,
			Title:       m.Title,
			Description: m.Description,
			Icon:        m.Icon,
			Color:       m.Color,
			Kind:        m.Kind,
		}
		for _, t := range m.Topics {
			key := catalog.TopicKey{Module: m.ID, Topic: t.ID}
			p, ok := rec.Progress[key]
			ts := TopicStatus{
				Key:       key.String(),
				ID:        t.ID,
				Title:     t.Title,
				Started:   ok && len(p.Messages) > 0,
				Completed: ok && p.IsCompleted,
			}
			if ts.Completed {
				ms.Completed++
				d.Completed++
			}
			ms.Topics = append(ms.Topics, ts)
		}
		d.Modules = append(d.Modules, ms)
	}
	if d.Total > 0 {
		d.Percent = int(math.Round(float64(d.Completed) / float64(d.Total) * 100))
	}
	d.ReportAvailable = d.Completed > 0
	return d
}

func buildChat(conv conversation.Conversation) ChatView {
	v := ChatView{
		Key:         conv.Key.String(),
		ModuleTitle: conv.ModuleTitle,
		TopicTitle:  conv.Topic.Title,
		MainPrompt:  conv.Topic.MainPrompt,
		Kind:        conv.Topic.Kind,
		State:       conv.State,
		Messages:    make([]MessageView, 0, len(conv.Messages)),
		UserSummary: conv.UserSummary,
		AISummary:   conv.AISummary,
		CanComplete: conv.CanComplete(),
		ReadOnly:    conv.ReadOnly(),
	}
	for _, m := range conv.Messages {
		v.Messages = append(v.Messages, MessageView{
			ID:        m.ID,
			Role:      m.Role,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Scripted:  m.IsScripted(),
		})
	}
	if cur, total := conv.QuestionProgress(); total > 0 {
		v.Question = &QuestionProgress{Current: cur, Total: total}
	}
	return v
}
