package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/storage"
)

// DocumentStore defines the storage operations the Store needs.
// Implemented by storage.Store.
type DocumentStore interface {
	GetUser(ctx context.Context, id string) (storage.User, error)
	UpdateProgress(ctx context.Context, userID, key, valueJSON string) error
}

// Store reads and writes TopicProgress entries of user documents. Two saves
// for different keys never interfere. Saves for the same key are not
// coordinated here; the conversation engine serializes them per topic and
// reloads the stored entry before each mutation.
type Store struct {
	docs   DocumentStore
	logger *slog.Logger
}

func NewStore(docs DocumentStore) *Store {
	return &Store{docs: docs, logger: slog.Default()}
}

// LoadRecord reads the whole user document. Entries whose key or value cannot
// be decoded are skipped with a warning.
func (s *Store) LoadRecord(ctx context.Context, userID string) (UserRecord, error) {
	u, err := s.docs.GetUser(ctx, userID)
	if err != nil {
		return UserRecord{}, fmt.Errorf("loading user %s: %w", userID, err)
	}

	rec := UserRecord{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Email:       u.Email,
		CreatedAt:   u.CreatedAt,
		Progress:    make(map[catalog.TopicKey]TopicProgress),
	}

	raw := map[string]json.RawMessage{}
	if u.ProgressJSON != "" {
		if err := json.Unmarshal([]byte(u.ProgressJSON), &raw); err != nil {
			return UserRecord{}, fmt.Errorf("decoding progress of user %s: %w", userID, err)
		}
	}
	for k, v := range raw {
		key, err := catalog.ParseTopicKey(k)
		if err != nil {
			s.logger.Warn("skipping progress entry", "user", userID, "key", k, "error", err)
			continue
		}
		var p TopicProgress
		if err := json.Unmarshal(v, &p); err != nil {
			s.logger.Warn("skipping progress entry", "user", userID, "key", k, "error", err)
			continue
		}
		rec.Progress[key] = p
	}
	return rec, nil
}

// Load returns the stored progress for one topic. The bool is false when the
// user has never opened it.
func (s *Store) Load(ctx context.Context, userID string, key catalog.TopicKey) (TopicProgress, bool, error) {
	rec, err := s.LoadRecord(ctx, userID)
	if err != nil {
		return TopicProgress{}, false, err
	}
	p, ok := rec.Progress[key]
	return p, ok, nil
}

// Save replaces the stored progress for one topic with p. Only that key of
// the user document is written.
func (s *Store) Save(ctx context.Context, userID string, key catalog.TopicKey, p TopicProgress) error {
	if !key.Valid() {
		return fmt.Errorf("saving progress: invalid key %q", key)
	}
	if p.Messages == nil {
		p.Messages = []Message{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress %s: %w", key, err)
	}
	if err := s.docs.UpdateProgress(ctx, userID, key.String(), string(data)); err != nil {
		return fmt.Errorf("saving progress %s for user %s: %w", key, userID, err)
	}
	return nil
}

// Open loads the user's record into a session-local Cache.
func (s *Store) Open(ctx context.Context, userID string) (*Cache, error) {
	rec, err := s.LoadRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Cache{store: s, record: rec}, nil
}

// Cache is a session-local write-through copy of one user's record. Writes go
// to the store first; the cached entry changes only after the store accepts
// the write, so the two never diverge.
type Cache struct {
	store *Store

	mu     sync.RWMutex
	record UserRecord
}

// Record returns a deep copy of the cached record.
func (c *Cache) Record() UserRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.Clone()
}

func (c *Cache) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.record.ID
}

// Get returns a copy of the cached progress for key.
func (c *Cache) Get(key catalog.TopicKey) (TopicProgress, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.record.Progress[key]
	if !ok {
		return TopicProgress{}, false
	}
	return p.Clone(), true
}

// Load reads the stored progress for key, bypassing the cache, and updates
// the cached entry with what it found. Other sessions of the same user may
// have written since this cache was opened.
func (c *Cache) Load(ctx context.Context, key catalog.TopicKey) (TopicProgress, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok, err := c.store.Load(ctx, c.record.ID, key)
	if err != nil {
		return TopicProgress{}, false, err
	}
	if ok {
		if c.record.Progress == nil {
			c.record.Progress = make(map[catalog.TopicKey]TopicProgress)
		}
		c.record.Progress[key] = p.Clone()
	}
	return p, ok, nil
}

// Save writes p through to the store and, on success, into the cache.
func (c *Cache) Save(ctx context.Context, key catalog.TopicKey, p TopicProgress) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Save(ctx, c.record.ID, key, p); err != nil {
		return err
	}
	if c.record.Progress == nil {
		c.record.Progress = make(map[catalog.TopicKey]TopicProgress)
	}
	c.record.Progress[key] = p.Clone()
	return nil
}

// Refresh reloads the record from the store. On failure the cache keeps its
// previous contents.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.RLock()
	id := c.record.ID
	c.mu.RUnlock()

	rec, err := c.store.LoadRecord(ctx, id)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.record = rec
	c.mu.Unlock()
	return nil
}
