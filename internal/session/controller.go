// Package session owns authenticated sessions: the cached user record, the
// current view, and the active topic conversation. It wires the identity
// provider, progress store, conversation engine, and report aggregator
// together.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/conversation"
	"github.com/kalambet/innercompass/internal/export"
	"github.com/kalambet/innercompass/internal/identity"
	"github.com/kalambet/innercompass/internal/progress"
	"github.com/kalambet/innercompass/internal/report"
)

var (
	ErrUnknownTopic = errors.New("unknown topic")
)

// StoreError reports a document store failure. A load failure during login
// means no session was created; any other failure means the triggering
// action failed and the cached record was left unchanged.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// Authenticator is implemented by identity.Provider.
type Authenticator interface {
	Register(ctx context.Context, email, password, displayName string) (identity.Identity, error)
	Login(ctx context.Context, email, password string) (identity.Identity, error)
	Logout(ctx context.Context, token string) error
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// Session is one logged-in client. All fields behind mu change only through
// Controller methods.
type Session struct {
	Token       string
	UserID      string
	Email       string
	DisplayName string
	ExpiresAt   time.Time

	mu        sync.Mutex
	view      View
	activeKey catalog.TopicKey
	conv      *conversation.Conversation
	cache     *progress.Cache
}

func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// ActiveKey returns the topic open in the chat view, if any.
func (s *Session) ActiveKey() (catalog.TopicKey, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeKey, s.conv != nil
}

// Record returns a copy of the session's cached user record.
func (s *Session) Record() progress.UserRecord {
	return s.cache.Record()
}

type Controller struct {
	catalog *catalog.Catalog
	auth    Authenticator
	store   *progress.Store
	engine  *conversation.Engine
	reports *report.Aggregator
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewController(cat *catalog.Catalog, auth Authenticator, store *progress.Store, engine *conversation.Engine, reports *report.Aggregator) *Controller {
	return &Controller{
		catalog:  cat,
		auth:     auth,
		store:    store,
		engine:   engine,
		reports:  reports,
		logger:   slog.Default(),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Register creates an account and opens a session for it.
func (c *Controller) Register(ctx context.Context, email, password, displayName string) (*Session, error) {
	id, err := c.auth.Register(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	return c.bootstrap(ctx, id)
}

func (c *Controller) Login(ctx context.Context, email, password string) (*Session, error) {
	id, err := c.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.bootstrap(ctx, id)
}

// Resume returns the session for token, re-creating it from the store when
// the token is valid but the session is not held in memory (for example
// after a restart).
func (c *Controller) Resume(ctx context.Context, token string) (*Session, error) {
	id, err := c.auth.Verify(ctx, token)
	if err != nil {
		c.drop(token)
		return nil, err
	}
	if s, ok := c.Get(token); ok {
		return s, nil
	}
	return c.bootstrap(ctx, id)
}

// Get returns an in-memory session without verifying its token.
func (c *Controller) Get(token string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[token]
	return s, ok
}

// Logout revokes the token and forgets the session.
func (c *Controller) Logout(ctx context.Context, token string) error {
	defer c.drop(token)
	return c.auth.Logout(ctx, token)
}

func (c *Controller) drop(token string) {
	c.mu.Lock()
	delete(c.sessions, token)
	c.mu.Unlock()
}

// bootstrap reads the user record into a fresh session cache. A read failure
// creates no session, which leaves the client at the login view.
func (c *Controller) bootstrap(ctx context.Context, id identity.Identity) (*Session, error) {
	cache, err := c.store.Open(ctx, id.UserID)
	if err != nil {
		c.logger.Warn("session bootstrap failed", "user", id.UserID, "error", err)
		return nil, &StoreError{Op: "load", Err: err}
	}
	rec := cache.Record()

	s := &Session{
		Token:       id.Token,
		UserID:      id.UserID,
		Email:       rec.Email,
		DisplayName: rec.DisplayName,
		ExpiresAt:   id.ExpiresAt,
		view:        ViewDashboard,
		cache:       cache,
	}

	c.mu.Lock()
	c.sessions[id.Token] = s
	c.mu.Unlock()

	c.logger.Info("session started", "user", id.UserID)
	return s, nil
}

// Sweep forgets sessions whose tokens have expired.
func (c *Controller) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for tok, s := range c.sessions {
		if !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt) {
			delete(c.sessions, tok)
			n++
		}
	}
	return n
}

// Dashboard switches to the dashboard view and summarizes progress.
func (c *Controller) Dashboard(s *Session) DashboardView {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view = ViewDashboard
	return BuildDashboard(c.catalog, s.cache.Record())
}

// Back leaves the chat or report view. The active conversation is dropped;
// its persisted progress is what the next SelectTopic resumes from.
func (c *Controller) Back(s *Session) DashboardView {
	s.mu.Lock()
	s.conv = nil
	s.activeKey = catalog.TopicKey{}
	s.mu.Unlock()
	return c.Dashboard(s)
}

// SelectTopic opens key in the chat view. Selecting the topic that is
// already active returns its current conversation unchanged.
func (c *Controller) SelectTopic(ctx context.Context, s *Session, key catalog.TopicKey) (ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := c.activeLocked(ctx, s, key)
	if err != nil {
		return ChatView{}, err
	}
	return buildChat(conv), nil
}

// activeLocked returns the conversation for key, opening it from freshly
// read progress unless it is already the active one. Other sessions of the
// same user may have advanced the topic since this session's cache was
// loaded. s.mu must be held.
func (c *Controller) activeLocked(ctx context.Context, s *Session, key catalog.TopicKey) (conversation.Conversation, error) {
	if s.conv != nil && s.activeKey == key {
		s.view = ViewChat
		return *s.conv, nil
	}

	module, topic, ok := c.catalog.Lookup(key)
	if !ok {
		return conversation.Conversation{}, fmt.Errorf("%w: %s", ErrUnknownTopic, key)
	}
	if err := s.cache.Refresh(ctx); err != nil {
		return conversation.Conversation{}, &StoreError{Op: "load", Err: err}
	}

	var existing *progress.TopicProgress
	if p, ok := s.cache.Get(key); ok {
		existing = &p
	}
	conv := c.engine.OpenTopic(s.UserID, s.DisplayName, module, topic, existing)

	s.conv = &conv
	s.activeKey = key
	s.view = ViewChat
	return conv, nil
}

// SendMessage submits one user turn on key. A *conversation.TurnError is
// returned together with the updated view when the coach did not answer.
func (c *Controller) SendMessage(ctx context.Context, s *Session, key catalog.TopicKey, text string) (ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := c.activeLocked(ctx, s, key)
	if err != nil {
		return ChatView{}, err
	}
	next, err := c.engine.SubmitUserTurn(ctx, s.cache, conv, text)
	s.conv = &next
	return buildChat(next), translate(err)
}

func (c *Controller) RequestCompletion(ctx context.Context, s *Session, key catalog.TopicKey) (ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := c.activeLocked(ctx, s, key)
	if err != nil {
		return ChatView{}, err
	}
	next, err := c.engine.RequestCompletion(conv)
	s.conv = &next
	return buildChat(next), err
}

func (c *Controller) ResumeChat(ctx context.Context, s *Session, key catalog.TopicKey) (ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := c.activeLocked(ctx, s, key)
	if err != nil {
		return ChatView{}, err
	}
	next, err := c.engine.ResumeChat(conv)
	s.conv = &next
	return buildChat(next), err
}

// SubmitSummary completes key with the user's summary and the coach's.
func (c *Controller) SubmitSummary(ctx context.Context, s *Session, key catalog.TopicKey, summary string) (ChatView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := c.activeLocked(ctx, s, key)
	if err != nil {
		return ChatView{}, err
	}
	next, err := c.engine.SubmitSummary(ctx, s.cache, conv, summary)
	s.conv = &next
	return buildChat(next), translate(err)
}

// Report switches to the report view and generates the holistic report from
// the cached record. On generation failure the view carries
// report.FallbackText and the coach error is returned.
func (c *Controller) Report(ctx context.Context, s *Session) (ReportView, error) {
	s.mu.Lock()
	s.view = ViewReport
	rec := s.cache.Record()
	s.mu.Unlock()

	completed := len(report.Collect(c.catalog, rec))
	text, err := c.reports.Build(ctx, rec)
	if err != nil {
		return ReportView{Text: report.FallbackText, Completed: completed}, err
	}
	return ReportView{Text: text, Empty: completed == 0, Completed: completed}, nil
}

// Export renders the cached record as a text document.
func (c *Controller) Export(s *Session) (filename, body string) {
	return export.Render(c.catalog, s.cache.Record(), c.now())
}

// translate maps engine persistence failures onto StoreError and passes
// everything else through.
func translate(err error) error {
	var (
		pe *conversation.PersistError
		le *conversation.LoadError
	)
	switch {
	case errors.As(err, &pe):
		return &StoreError{Op: "save", Err: pe.Err}
	case errors.As(err, &le):
		return &StoreError{Op: "load", Err: le.Err}
	}
	return err
}
