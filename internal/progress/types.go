// Package progress maps conversation state to and from the per-user document
// persisted by the storage layer.
package progress

import (
	"strings"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry of a topic conversation. Messages are append-only and
// their slice order is their chronological order.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// IsScripted reports whether the message was injected from the catalog
// rather than written by the user or generated by the coach.
func (m Message) IsScripted() bool {
	return strings.HasPrefix(m.ID, "init-") || strings.HasPrefix(m.ID, "q-")
}

// TopicProgress is the persisted state of one topic for one user.
type TopicProgress struct {
	IsCompleted bool      `json:"isCompleted"`
	Messages    []Message `json:"messages"`
	UserSummary string    `json:"userSummary"`
	AISummary   string    `json:"aiSummary"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no backing array with p.
func (p TopicProgress) Clone() TopicProgress {
	out := p
	out.Messages = append([]Message(nil), p.Messages...)
	return out
}

// UserRecord is a user's identity plus every topic they have touched.
type UserRecord struct {
	ID          string
	DisplayName string
	Email       string
	CreatedAt   time.Time
	Progress    map[catalog.TopicKey]TopicProgress
}

// Clone deep-copies the record so a caller may hold it without racing the
// session cache.
func (r UserRecord) Clone() UserRecord {
	out := r
	out.Progress = make(map[catalog.TopicKey]TopicProgress, len(r.Progress))
	for k, v := range r.Progress {
		out.Progress[k] = v.Clone()
	}
	return out
}

// Completed reports whether the topic at key has been finished.
func (r UserRecord) Completed(key catalog.TopicKey) bool {
	p, ok := r.Progress[key]
	return ok && p.IsCompleted
}
