package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// progressKeyPattern mirrors the catalog key charset. Keys are spliced into a
// JSON path, so anything else is refused.
var progressKeyPattern = regexp.MustCompile(`^[a-z0-9_]+-[a-z0-9_-]+$`)

// Store is the user document store backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "innercompass.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// One connection: keeps ":memory:" databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies embedded migrations that are not yet recorded in schema_version.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}
		if err := s.applyMigration(version, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyMigration(version int, content string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(content); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Users ---

// CreateUser inserts a user document and its credential atomically. Returns
// ErrConflict if the email is already registered.
func (s *Store) CreateUser(ctx context.Context, u User, c Credential) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning create-user transaction: %w", err)
	}
	defer tx.Rollback()

	var taken int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM credentials WHERE email = ?", c.Email).Scan(&taken); err != nil {
		return fmt.Errorf("checking email: %w", err)
	}
	if taken > 0 {
		return ErrConflict
	}

	progress := u.ProgressJSON
	if progress == "" {
		progress = "{}"
	}
	created := u.CreatedAt.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at, progress_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.DisplayName, created, created, progress,
	); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credentials (email, user_id, password_hash, created_at)
		VALUES (?, ?, ?, ?)`,
		c.Email, u.ID, c.PasswordHash, c.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("inserting credential: %w", err)
	}

	return tx.Commit()
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, created_at, updated_at, progress_json
		FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.DisplayName, &createdAt, &updatedAt, &u.ProgressJSON)
	if err == sql.ErrNoRows {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	if u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return User{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if u.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return User{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return u, nil
}

// PutUser replaces the whole user document, creating it if needed.
func (s *Store) PutUser(ctx context.Context, u User) error {
	progress := u.ProgressJSON
	if progress == "" {
		progress = "{}"
	}
	if !json.Valid([]byte(progress)) {
		return fmt.Errorf("progress for user %s is not valid JSON", u.ID)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	created := now
	if !u.CreatedAt.IsZero() {
		created = u.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, display_name, created_at, updated_at, progress_json)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			updated_at = excluded.updated_at,
			progress_json = excluded.progress_json`,
		u.ID, u.Email, u.DisplayName, created, now, progress,
	)
	return err
}

// UpdateProgress sets a single entry of the user's progress object, leaving
// every other key untouched. valueJSON must be a JSON document.
func (s *Store) UpdateProgress(ctx context.Context, userID, key, valueJSON string) error {
	if !progressKeyPattern.MatchString(key) {
		return fmt.Errorf("invalid progress key %q", key)
	}
	if !json.Valid([]byte(valueJSON)) {
		return fmt.Errorf("progress value for %q is not valid JSON", key)
	}
	path := `$."` + key + `"`
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET progress_json = json_set(progress_json, ?, json(?)), updated_at = ?
		WHERE id = ?`,
		path, valueJSON, time.Now().UTC().Format(time.RFC3339Nano), userID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Credentials ---

func (s *Store) GetCredential(ctx context.Context, email string) (Credential, error) {
	var c Credential
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT email, user_id, password_hash, created_at
		FROM credentials WHERE email = ?`, email,
	).Scan(&c.Email, &c.UserID, &c.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return Credential{}, ErrNotFound
	}
	if err != nil {
		return Credential{}, err
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return Credential{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// --- Revoked tokens ---

func (s *Store) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES (?, ?)
		ON CONFLICT(jti) DO NOTHING`,
		jti, expiresAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM revoked_tokens WHERE jti = ?", jti).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpiredTokens drops revocation entries whose tokens have expired anyway.
func (s *Store) PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM revoked_tokens WHERE expires_at < ?", now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
