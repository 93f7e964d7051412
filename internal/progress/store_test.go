package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/storage"
)

var (
	coreValues = catalog.TopicKey{Module: catalog.ModuleValues, Topic: "core-values"}
	flowState  = catalog.TopicKey{Module: catalog.ModuleTalents, Topic: "flow_state"}
)

func newSQLiteStore(t *testing.T) (*Store, *storage.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Now().UTC()
	err = db.CreateUser(context.Background(),
		storage.User{ID: "u1", Email: "a@example.com", DisplayName: "小明", CreatedAt: now},
		storage.Credential{Email: "a@example.com", UserID: "u1", PasswordHash: "x", CreatedAt: now},
	)
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return NewStore(db), db
}

func sampleProgress(n int) TopicProgress {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := TopicProgress{UpdatedAt: base}
	for i := range n {
		role := RoleUser
		if i%2 == 0 {
			role = RoleAssistant
		}
		p.Messages = append(p.Messages, Message{
			ID:        fmt.Sprintf("m-%d", i),
			Role:      role,
			Content:   fmt.Sprintf("内容 %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return p
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	if _, ok, err := s.Load(ctx, "u1", coreValues); err != nil || ok {
		t.Fatalf("Load before save = ok %v, err %v; want absent", ok, err)
	}

	want := sampleProgress(3)
	want.IsCompleted = true
	want.UserSummary = "自由"
	want.AISummary = "洞察"
	if err := s.Save(ctx, "u1", coreValues, want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, ok, err := s.Load(ctx, "u1", coreValues)
	if err != nil || !ok {
		t.Fatalf("Load = ok %v, err %v", ok, err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRecordIdentity(t *testing.T) {
	s, _ := newSQLiteStore(t)
	rec, err := s.LoadRecord(context.Background(), "u1")
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if rec.DisplayName != "小明" || rec.Email != "a@example.com" {
		t.Errorf("LoadRecord = %+v", rec)
	}
	if rec.Progress == nil || len(rec.Progress) != 0 {
		t.Errorf("Progress = %v, want empty non-nil map", rec.Progress)
	}
}

func TestLoadRecordMissingUser(t *testing.T) {
	s, _ := newSQLiteStore(t)
	_, err := s.LoadRecord(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("LoadRecord err = %v, want storage.ErrNotFound", err)
	}
}

func TestConcurrentSavesDifferentKeys(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()

	keys := []catalog.TopicKey{coreValues, flowState,
		{Module: catalog.ModulePassions, Topic: "dream_life"},
		{Module: catalog.ModulePassions, Topic: "energy_sources"},
	}
	var wg sync.WaitGroup
	for i, k := range keys {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Save(ctx, "u1", k, sampleProgress(i+1)); err != nil {
				t.Errorf("Save(%s): %v", k, err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.LoadRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	for i, k := range keys {
		if got := len(rec.Progress[k].Messages); got != i+1 {
			t.Errorf("%s has %d messages, want %d", k, got, i+1)
		}
	}
}

func TestLoadRecordSkipsUndecodableEntries(t *testing.T) {
	s, db := newSQLiteStore(t)
	ctx := context.Background()

	u, err := db.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	u.ProgressJSON = `{"values-core-values":{"isCompleted":true,"messages":[]},"nohyphen":{},"talents-flow_state":"oops"}`
	if err := db.PutUser(ctx, u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}

	rec, err := s.LoadRecord(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadRecord: %v", err)
	}
	if len(rec.Progress) != 1 || !rec.Completed(coreValues) {
		t.Errorf("Progress = %+v, want only values-core-values completed", rec.Progress)
	}
}

// failingDocs wraps a DocumentStore and fails UpdateProgress on demand.
type failingDocs struct {
	DocumentStore
	fail bool
}

func (f *failingDocs) UpdateProgress(ctx context.Context, userID, key, valueJSON string) error {
	if f.fail {
		return errors.New("disk full")
	}
	return f.DocumentStore.UpdateProgress(ctx, userID, key, valueJSON)
}

func TestCacheWriteThrough(t *testing.T) {
	_, db := newSQLiteStore(t)
	docs := &failingDocs{DocumentStore: db}
	s := NewStore(docs)
	ctx := context.Background()

	cache, err := s.Open(ctx, "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	first := sampleProgress(1)
	if err := cache.Save(ctx, coreValues, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got, ok := cache.Get(coreValues); !ok || len(got.Messages) != 1 {
		t.Fatalf("cache after save = %+v, %v", got, ok)
	}

	docs.fail = true
	if err := cache.Save(ctx, coreValues, sampleProgress(5)); err == nil {
		t.Fatal("Save succeeded with failing store")
	}
	got, _ := cache.Get(coreValues)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("cache changed after failed write (-want +got):\n%s", diff)
	}

	stored, _, err := s.Load(ctx, "u1", coreValues)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(first, stored); diff != "" {
		t.Errorf("store diverged from cache (-want +got):\n%s", diff)
	}
}

func TestCacheReturnsCopies(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	cache, err := s.Open(ctx, "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := cache.Save(ctx, coreValues, sampleProgress(2)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	p, _ := cache.Get(coreValues)
	p.Messages[0].Content = "mutated"
	rec := cache.Record()
	rec.Progress[coreValues] = TopicProgress{}

	again, _ := cache.Get(coreValues)
	if again.Messages[0].Content == "mutated" || len(again.Messages) != 2 {
		t.Errorf("cache was mutated through a returned value: %+v", again)
	}
}

func TestCacheSeesOtherSessionsWrites(t *testing.T) {
	s, _ := newSQLiteStore(t)
	ctx := context.Background()
	a, err := s.Open(ctx, "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b, err := s.Open(ctx, "u1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	written := sampleProgress(3)
	if err := a.Save(ctx, coreValues, written); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, ok := b.Get(coreValues); ok {
		t.Fatal("b cached a write it never read")
	}

	got, ok, err := b.Load(ctx, coreValues)
	if err != nil || !ok {
		t.Fatalf("Load = %v, %v", ok, err)
	}
	if diff := cmp.Diff(written, got); diff != "" {
		t.Errorf("Load (-want +got):\n%s", diff)
	}
	if cached, _ := b.Get(coreValues); len(cached.Messages) != 3 {
		t.Errorf("Load did not update the cache: %+v", cached)
	}

	if err := a.Save(ctx, flowState, sampleProgress(1)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := b.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, ok := b.Get(flowState); !ok {
		t.Error("Refresh missed a topic written by another cache")
	}
}

func TestMessageIsScripted(t *testing.T) {
	tests := map[string]bool{
		"init-intro": true,
		"init-1":     true,
		"q-1":        true,
		"0b7c1f0e":   false,
		"":           false,
	}
	for id, want := range tests {
		if got := (Message{ID: id}).IsScripted(); got != want {
			t.Errorf("IsScripted(%q) = %v, want %v", id, got, want)
		}
	}
}
