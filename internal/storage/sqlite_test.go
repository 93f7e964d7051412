package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *Store, id, email string) User {
	t.Helper()
	now := time.Now().UTC()
	u := User{ID: id, Email: email, DisplayName: "Alice", CreatedAt: now}
	c := Credential{Email: email, UserID: id, PasswordHash: "hash", CreatedAt: now}
	if err := s.CreateUser(context.Background(), u, c); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return u
}

// TestMigrationsIdempotent runs Open twice on the same directory and verifies
// no migration is re-applied.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) != 2 {
		t.Fatalf("applied %d migrations, want 2", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations out of order: %v", versions)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("002_revoked_tokens.sql")
	if err != nil || v != 2 {
		t.Errorf("parseMigrationVersion = %d, %v; want 2, nil", v, err)
	}
	if _, err := parseMigrationVersion("init.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestCreateAndGetUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "u1", "alice@example.com")

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Email != "alice@example.com" || u.DisplayName != "Alice" {
		t.Errorf("GetUser = %+v", u)
	}
	if u.ProgressJSON != "{}" {
		t.Errorf("ProgressJSON = %q, want {}", u.ProgressJSON)
	}

	c, err := s.GetCredential(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("GetCredential: %v", err)
	}
	if c.UserID != "u1" || c.PasswordHash != "hash" {
		t.Errorf("GetCredential = %+v", c)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := openTestStore(t)
	createTestUser(t, s, "u1", "alice@example.com")

	now := time.Now()
	err := s.CreateUser(context.Background(),
		User{ID: "u2", Email: "alice@example.com", DisplayName: "Other", CreatedAt: now},
		Credential{Email: "alice@example.com", UserID: "u2", PasswordHash: "h", CreatedAt: now},
	)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateUser duplicate = %v, want ErrConflict", err)
	}
	if _, err := s.GetUser(context.Background(), "u2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second user must not be stored, GetUser err = %v", err)
	}
}

func TestGetUserNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetUser(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetCredential(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetCredential err = %v, want ErrNotFound", err)
	}
}

func TestUpdateProgressTouchesOnlyOneKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "u1", "alice@example.com")

	if err := s.UpdateProgress(ctx, "u1", "values-core_values", `{"isCompleted":false,"messages":[]}`); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.UpdateProgress(ctx, "u1", "talents-flow_state", `{"isCompleted":true,"messages":[]}`); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	// Overwrite the first key; the second must survive.
	if err := s.UpdateProgress(ctx, "u1", "values-core_values", `{"isCompleted":true,"messages":[{"id":"m1"}]}`); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}

	u, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	var progress map[string]struct {
		IsCompleted bool              `json:"isCompleted"`
		Messages    []json.RawMessage `json:"messages"`
	}
	if err := json.Unmarshal([]byte(u.ProgressJSON), &progress); err != nil {
		t.Fatalf("progress is not a JSON object: %v (%s)", err, u.ProgressJSON)
	}
	if len(progress) != 2 {
		t.Fatalf("progress has %d keys, want 2: %s", len(progress), u.ProgressJSON)
	}
	if got := progress["values-core_values"]; !got.IsCompleted || len(got.Messages) != 1 {
		t.Errorf("values-core_values = %+v", got)
	}
	if got := progress["talents-flow_state"]; !got.IsCompleted {
		t.Errorf("talents-flow_state = %+v", got)
	}
}

func TestUpdateProgressHyphenatedTopic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "u1", "alice@example.com")

	if err := s.UpdateProgress(ctx, "u1", "values-core-values", `{"isCompleted":false}`); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	u, _ := s.GetUser(ctx, "u1")
	var progress map[string]json.RawMessage
	if err := json.Unmarshal([]byte(u.ProgressJSON), &progress); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := progress["values-core-values"]; !ok {
		t.Errorf("key missing from %s", u.ProgressJSON)
	}
}

func TestUpdateProgressRejectsBadInput(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	createTestUser(t, s, "u1", "alice@example.com")

	if err := s.UpdateProgress(ctx, "u1", `bad"key`, `{}`); err == nil {
		t.Error("expected error for invalid key")
	}
	if err := s.UpdateProgress(ctx, "u1", "values-x", `{not json`); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if err := s.UpdateProgress(ctx, "missing", "values-x", `{}`); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user err = %v, want ErrNotFound", err)
	}
}

func TestPutUserReplacesDocument(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, s, "u1", "alice@example.com")

	u.DisplayName = "Alice B"
	u.ProgressJSON = `{"values-x":{"isCompleted":true}}`
	if err := s.PutUser(ctx, u); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	got, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.DisplayName != "Alice B" || got.ProgressJSON != u.ProgressJSON {
		t.Errorf("GetUser after PutUser = %+v", got)
	}
	if got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("UpdatedAt %v before CreatedAt %v", got.UpdatedAt, got.CreatedAt)
	}

	if err := s.PutUser(ctx, User{ID: "u1", ProgressJSON: "nope"}); err == nil {
		t.Error("PutUser accepted invalid JSON")
	}
}

func TestRevokedTokens(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	revoked, err := s.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("IsTokenRevoked before revoke = %v, %v", revoked, err)
	}

	if err := s.RevokeToken(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}
	// Revoking twice is harmless.
	if err := s.RevokeToken(ctx, "jti-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken twice: %v", err)
	}
	if err := s.RevokeToken(ctx, "jti-old", now.Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	revoked, err = s.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("IsTokenRevoked after revoke = %v, %v", revoked, err)
	}

	n, err := s.PurgeExpiredTokens(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d tokens, want 1", n)
	}
	if revoked, _ := s.IsTokenRevoked(ctx, "jti-1"); !revoked {
		t.Error("unexpired revocation was purged")
	}
}
