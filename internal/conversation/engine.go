package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/metrics"
	"github.com/kalambet/innercompass/internal/progress"
)

// Coach generates turn replies and topic summaries. Implemented by
// coach.Client.
type Coach interface {
	TurnResponse(ctx context.Context, topic catalog.Topic, history []progress.Message, displayName string) (string, error)
	TopicSummary(ctx context.Context, topic catalog.Topic, history []progress.Message, userSummary string) (string, error)
}

// Saver reads and persists the full progress of one topic of the
// conversation's user. Load must return what is stored, not a cached copy.
// Implemented by progress.Cache.
type Saver interface {
	Load(ctx context.Context, key catalog.TopicKey) (progress.TopicProgress, bool, error)
	Save(ctx context.Context, key catalog.TopicKey, p progress.TopicProgress) error
}

// Engine drives conversations. It holds no per-conversation state besides
// the locks that serialize turns on the same (user, topic).
type Engine struct {
	coach   Coach
	metrics *metrics.Collector
	logger  *slog.Logger

	now   func() time.Time
	newID func() string

	locks keyedMutex
}

func NewEngine(coach Coach, m *metrics.Collector) *Engine {
	return &Engine{
		coach:   coach,
		metrics: m,
		logger:  slog.Default(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// OpenTopic builds the conversation for topic from its stored progress.
// Completed progress is returned read-only, incomplete progress resumes in
// StateChatting, and absent or empty progress is seeded from the catalog.
// OpenTopic never calls the coach and never persists.
func (e *Engine) OpenTopic(userID, displayName string, module catalog.Module, topic catalog.Topic, existing *progress.TopicProgress) Conversation {
	conv := Conversation{
		UserID:      userID,
		DisplayName: displayName,
		Key:         catalog.TopicKey{Module: module.ID, Topic: topic.ID},
		ModuleTitle: module.Title,
		Topic:       topic,
	}

	switch {
	case existing != nil && existing.IsCompleted:
		conv.State = StateCompleted
		conv.Messages = append([]progress.Message(nil), existing.Messages...)
		conv.UserSummary = existing.UserSummary
		conv.AISummary = existing.AISummary
	case existing != nil && len(existing.Messages) > 0:
		conv.State = StateChatting
		conv.Messages = append([]progress.Message(nil), existing.Messages...)
	default:
		conv.State = StateChatting
		conv.Messages = seedMessages(module, topic)
	}
	return conv
}

// SubmitUserTurn appends the user's text and produces the next assistant
// message. While a questionnaire still has unanswered questions the next
// question is appended without calling the coach; otherwise the coach is
// asked for a reply.
//
// If the coach fails, the user message is kept and persisted, no assistant
// message is added, and a *TurnError is returned alongside the updated
// conversation.
func (e *Engine) SubmitUserTurn(ctx context.Context, saver Saver, conv Conversation, text string) (Conversation, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return conv, ErrEmptyInput
	}

	unlock := e.locks.Lock(lockKey(conv))
	defer unlock()

	if conv.State != StateChatting {
		return conv, fmt.Errorf("submit turn in state %s: %w", conv.State, ErrInvalidState)
	}
	conv, err := e.sync(ctx, saver, conv)
	if err != nil {
		return conv, err
	}

	withUser := conv.withMessages(progress.Message{
		ID:        e.newID(),
		Role:      progress.RoleUser,
		Content:   text,
		CreatedAt: e.now(),
	})

	answered := withUser.AnsweredCount()
	if conv.Topic.IsQuestionnaire() && answered < len(conv.Topic.Questions) {
		next := withUser.withMessages(progress.Message{
			ID:        fmt.Sprintf("q-%d", answered),
			Role:      progress.RoleAssistant,
			Content:   conv.Topic.Questions[answered],
			CreatedAt: e.now(),
		})
		if err := e.save(ctx, saver, next); err != nil {
			return conv, err
		}
		return next, nil
	}

	if err := e.save(ctx, saver, withUser); err != nil {
		return conv, err
	}

	reply, err := e.coach.TurnResponse(ctx, conv.Topic, withUser.Messages, conv.DisplayName)
	if err != nil {
		e.logger.Warn("coach turn failed", "user", conv.UserID, "topic", conv.Key.String(), "error", err)
		return withUser, &TurnError{Err: err, Fallback: FallbackTurnText}
	}

	next := withUser.withMessages(progress.Message{
		ID:        e.newID(),
		Role:      progress.RoleAssistant,
		Content:   reply,
		CreatedAt: e.now(),
	})
	if err := e.save(ctx, saver, next); err != nil {
		return withUser, err
	}
	return next, nil
}

// RequestCompletion moves a live conversation into summary collection.
func (e *Engine) RequestCompletion(conv Conversation) (Conversation, error) {
	if conv.State != StateChatting {
		return conv, fmt.Errorf("request completion in state %s: %w", conv.State, ErrInvalidState)
	}
	conv.State = StateSummarizing
	return conv, nil
}

// ResumeChat leaves summary collection without completing the topic.
func (e *Engine) ResumeChat(conv Conversation) (Conversation, error) {
	if conv.State != StateSummarizing {
		return conv, fmt.Errorf("resume chat in state %s: %w", conv.State, ErrInvalidState)
	}
	conv.State = StateChatting
	return conv, nil
}

// SubmitSummary asks the coach for the topic summary and, on success,
// persists the topic as completed with both summaries and every message up
// to now. On failure the conversation stays in StateSummarizing and nothing
// is persisted.
func (e *Engine) SubmitSummary(ctx context.Context, saver Saver, conv Conversation, userSummary string) (Conversation, error) {
	userSummary = strings.TrimSpace(userSummary)
	if userSummary == "" {
		return conv, ErrEmptyInput
	}

	unlock := e.locks.Lock(lockKey(conv))
	defer unlock()

	if conv.State != StateSummarizing {
		return conv, fmt.Errorf("submit summary in state %s: %w", conv.State, ErrInvalidState)
	}
	conv, err := e.sync(ctx, saver, conv)
	if err != nil {
		return conv, err
	}

	aiSummary, err := e.coach.TopicSummary(ctx, conv.Topic, conv.Messages, userSummary)
	if err != nil {
		e.logger.Warn("topic summary failed", "user", conv.UserID, "topic", conv.Key.String(), "error", err)
		return conv, &SummaryError{Err: err, Fallback: FallbackSummaryText}
	}

	done := conv.withMessages()
	done.State = StateCompleted
	done.UserSummary = userSummary
	done.AISummary = aiSummary
	if err := e.save(ctx, saver, done); err != nil {
		return conv, err
	}

	e.metrics.TopicCompleted()
	e.logger.Info("topic completed", "user", conv.UserID, "topic", conv.Key.String(), "messages", len(done.Messages))
	return done, nil
}

// sync reconciles conv with the stored progress. It must be called with the
// (user, topic) lock held. A topic completed elsewhere is returned read-only
// with ErrInvalidState; messages persisted by other turns since conv was
// opened become the base the next message is appended to.
func (e *Engine) sync(ctx context.Context, saver Saver, conv Conversation) (Conversation, error) {
	stored, ok, err := saver.Load(ctx, conv.Key)
	if err != nil {
		return conv, &LoadError{Err: err}
	}
	if !ok {
		return conv, nil
	}
	if stored.IsCompleted {
		done := conv
		done.Messages = append([]progress.Message(nil), stored.Messages...)
		done.State = StateCompleted
		done.UserSummary = stored.UserSummary
		done.AISummary = stored.AISummary
		return done, fmt.Errorf("topic %s already completed: %w", conv.Key, ErrInvalidState)
	}
	if len(stored.Messages) > len(conv.Messages) {
		conv.Messages = append([]progress.Message(nil), stored.Messages...)
	}
	return conv, nil
}

func (e *Engine) save(ctx context.Context, saver Saver, conv Conversation) error {
	p := conv.Progress()
	p.UpdatedAt = e.now()
	if err := saver.Save(ctx, conv.Key, p); err != nil {
		return &PersistError{Err: err}
	}
	return nil
}

func lockKey(conv Conversation) string {
	return conv.UserID + "/" + conv.Key.String()
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
