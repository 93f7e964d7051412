// Package conversation implements the per-topic state machine: seeding a
// topic, advancing scripted questionnaires, calling the coach for free-form
// turns, and completing a topic with both summaries.
package conversation

import (
	"errors"
	"fmt"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
)

type State int

const (
	StateUninitialized State = iota
	StateChatting
	StateSummarizing
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateChatting:
		return "chatting"
	case StateSummarizing:
		return "summarizing"
	case StateCompleted:
		return "completed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateCompleted; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown conversation state %q", text)
}

var (
	// ErrEmptyInput is returned for input that is empty after trimming. The
	// conversation is left untouched and nothing is persisted.
	ErrEmptyInput = errors.New("input is empty")
	// ErrInvalidState is returned when an operation is not allowed in the
	// conversation's current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
)

// User-facing fallback texts shown when the coach could not answer.
const (
	FallbackTurnText    = "AI 教练正在思考中，请稍后..."
	FallbackSummaryText = "生成总结失败。"
)

// TurnError reports that the user's turn was kept but the coach produced no
// reply. Fallback may be displayed and the turn retried.
type TurnError struct {
	Err      error
	Fallback string
}

func (e *TurnError) Error() string { return "coach turn failed: " + e.Err.Error() }
func (e *TurnError) Unwrap() error { return e.Err }

// SummaryError reports that the topic summary could not be generated. The
// conversation stays in StateSummarizing and nothing was persisted.
type SummaryError struct {
	Err      error
	Fallback string
}

func (e *SummaryError) Error() string { return "topic summary failed: " + e.Err.Error() }
func (e *SummaryError) Unwrap() error { return e.Err }

// PersistError reports that a progress save failed.
type PersistError struct {
	Err error
}

func (e *PersistError) Error() string { return "saving progress: " + e.Err.Error() }
func (e *PersistError) Unwrap() error { return e.Err }

// LoadError reports that the stored progress could not be read before a
// mutation. Nothing was changed or persisted.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return "loading progress: " + e.Err.Error() }
func (e *LoadError) Unwrap() error { return e.Err }

// Conversation is a value snapshot of one user's work on one topic. Engine
// operations return a new snapshot and never mutate the one passed in.
type Conversation struct {
	UserID      string
	DisplayName string
	Key         catalog.TopicKey
	ModuleTitle string
	Topic       catalog.Topic
	State       State
	Messages    []progress.Message
	UserSummary string
	AISummary   string
}

// Progress converts the conversation to the record persisted for its key.
func (c Conversation) Progress() progress.TopicProgress {
	return progress.TopicProgress{
		IsCompleted: c.State == StateCompleted,
		Messages:    append([]progress.Message(nil), c.Messages...),
		UserSummary: c.UserSummary,
		AISummary:   c.AISummary,
	}
}

// AnsweredCount is the number of user messages so far.
func (c Conversation) AnsweredCount() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == progress.RoleUser {
			n++
		}
	}
	return n
}

// QuestionProgress returns the 1-based number of the question being worked on
// and the number of scripted questions. Both are zero for topics without a
// scripted phase.
func (c Conversation) QuestionProgress() (current, total int) {
	if !c.Topic.IsQuestionnaire() || len(c.Topic.Questions) == 0 {
		return 0, 0
	}
	total = len(c.Topic.Questions)
	return min(c.AnsweredCount()+1, total), total
}

// CanComplete reports whether the user should be offered completion: the
// conversation must be live and hold more than the seeded messages.
func (c Conversation) CanComplete() bool {
	return c.State == StateChatting && len(c.Messages) > 2
}

// ReadOnly reports whether the conversation can no longer change.
func (c Conversation) ReadOnly() bool {
	return c.State == StateCompleted
}

func (c Conversation) withMessages(msgs ...progress.Message) Conversation {
	out := c
	out.Messages = make([]progress.Message, 0, len(c.Messages)+len(msgs))
	out.Messages = append(out.Messages, c.Messages...)
	out.Messages = append(out.Messages, msgs...)
	return out
}
