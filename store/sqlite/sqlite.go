/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  One file, three roles:
  - quote.Storage:     device-local key-value store (table kv) for the CLI
  - quote.RemoteStore: hierarchical document store (table documents) that
                       the api package serves over HTTP
  - user accounts and sessions (tables users, sessions) for the auth package

DOCUMENTS:
  A document is addressed by (collection, id). Collections are slash paths
  such as "users/u1/orcamentos". Payloads are JSON text; equality filters
  and ordering use SQLite's json_extract on top-level fields.

  Set is an upsert (INSERT ... ON CONFLICT DO UPDATE). Delete of a missing
  document succeeds. Update of a missing document is ErrNotFound.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout, nine fractional digits) so
  that string comparison in SQL matches time order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety.
  WAL mode lets readers proceed alongside the single writer.

USAGE:
  store, err := sqlite.New("./data/quotebook.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := quote.NewService(quote.Deps{Storage: store, Remote: client, ...})

MIGRATION:
  Schema is auto-migrated on New(). Every statement is idempotent.

SEE ALSO:
  - quote/store.go: Interface definitions
  - quote/store/memory.go: In-memory implementation for testing
  - api/handlers.go: HTTP surface over the document table
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/quotebook/quote"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Local key-value store (device side)
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Remote documents (server side)
	CREATE TABLE IF NOT EXISTS documents (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_documents_collection
		ON documents(collection);

	-- Users
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Sessions (bearer tokens)
	CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_user
		ON sessions(user_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LOCAL KEY-VALUE STORE (quote.Storage interface)
// =============================================================================

// Get returns the value stored under key.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes value under key.
func (s *Store) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, now())
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}

// Keys lists every key.
func (s *Store) Keys() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT key FROM kv ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// =============================================================================
// DOCUMENT STORE (quote.RemoteStore interface)
// =============================================================================

// Documents returns the document-store view of s. It is a separate type
// because quote.Storage and quote.RemoteStore both declare Get.
func (s *Store) Documents() *Documents {
	return &Documents{s: s}
}

// Documents implements quote.RemoteStore on the documents table.
type Documents struct {
	s *Store
}

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Get fetches one document.
func (d *Documents) Get(ctx context.Context, collection, id string) (quote.Document, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	var data string
	err := d.s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return quote.Document{}, &quote.DocumentNotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return quote.Document{}, fmt.Errorf("failed to get document: %w", err)
	}
	return quote.Document{ID: id, Data: json.RawMessage(data)}, nil
}

// Query reads a collection with equality filters, ordering and a limit.
func (d *Documents) Query(ctx context.Context, collection string, q quote.Query) ([]quote.Document, error) {
	var (
		sb   strings.Builder
		args = []any{collection}
	)
	sb.WriteString("SELECT id, data FROM documents WHERE collection = ?")

	for _, f := range q.Where {
		if !fieldName.MatchString(f.Field) {
			return nil, invalidField("where", f.Field)
		}
		sb.WriteString(" AND json_extract(data, ?) = ?")
		args = append(args, "$."+f.Field, sqlValue(f.Value))
	}

	sb.WriteString(" ORDER BY ")
	for _, o := range q.OrderBy {
		if !fieldName.MatchString(o.Field) {
			return nil, invalidField("orderBy", o.Field)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		sb.WriteString("json_extract(data, ?) " + dir + ", ")
		args = append(args, "$."+o.Field)
	}
	sb.WriteString("id ASC")

	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	rows, err := d.s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	docs := []quote.Document{}
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, quote.Document{ID: id, Data: json.RawMessage(data)})
	}
	return docs, rows.Err()
}

// Set creates or replaces a document.
func (d *Documents) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("document %s/%s: invalid JSON", collection, id)
	}

	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	ts := now()
	_, err := d.s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, string(data), ts, ts)
	if err != nil {
		return fmt.Errorf("failed to set document: %w", err)
	}
	return nil
}

// Update merges fields into an existing document.
func (d *Documents) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	tx, err := d.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var data string
	err = tx.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return &quote.DocumentNotFoundError{Collection: collection, ID: id}
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(data), &obj); err != nil {
		return fmt.Errorf("stored document %s/%s is not an object: %w", collection, id, err)
	}
	if obj == nil {
		obj = make(map[string]any)
	}
	for k, v := range fields {
		obj[k] = v
	}
	merged, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET data = ?, updated_at = ? WHERE collection = ? AND id = ?",
		string(merged), now(), collection, id,
	); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	return tx.Commit()
}

// Delete removes a document. Missing documents are not an error.
func (d *Documents) Delete(ctx context.Context, collection, id string) error {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	_, err := d.s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE collection = ? AND id = ?",
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// CountDocuments returns the number of documents in collection.
func (d *Documents) CountDocuments(ctx context.Context, collection string) (int, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	var n int
	err := d.s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE collection = ?", collection,
	).Scan(&n)
	return n, err
}

// =============================================================================
// USERS AND SESSIONS
// =============================================================================

// User is a stored account.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// ErrEmailTaken is returned by SaveUser when the e-mail exists.
var ErrEmailTaken = errors.New("email already registered")

// SaveUser inserts a new user.
func (s *Store) SaveUser(ctx context.Context, u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, password_hash, created_at) VALUES (?, ?, ?, ?)",
		u.ID, strings.ToLower(u.Email), u.PasswordHash, formatTime(u.CreatedAt),
	)
	if isUniqueConstraintError(err) {
		return ErrEmailTaken
	}
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// GetUserByEmail looks a user up by e-mail (case-insensitive).
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		u         User
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = ?",
		strings.ToLower(email),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quote.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &u, nil
}

// SaveSession records a bearer token for userID.
func (s *Store) SaveSession(ctx context.Context, token, userID string) error {
	return s.SaveSessionAt(ctx, token, userID, time.Now())
}

// SaveSessionAt records a bearer token issued at createdAt.
func (s *Store) SaveSessionAt(ctx context.Context, token, userID string, createdAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, created_at) VALUES (?, ?, ?)",
		token, userID, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// SessionUser resolves a token to its user id. Sessions created before
// notBefore are expired and resolve to ErrUnauthorized.
func (s *Store) SessionUser(ctx context.Context, token string, notBefore time.Time) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM sessions WHERE token = ? AND created_at >= ?",
		token, formatTime(notBefore),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", quote.ErrUnauthorized
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve session: %w", err)
	}
	return userID, nil
}

// DeleteSession revokes a token.
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token)
	return err
}

// DeleteSessionsBefore removes sessions created before cutoff and
// returns how many were removed.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE created_at < ?",
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return res.RowsAffected()
}

// Helper functions

// timeLayout is RFC 3339 with a fixed nine-digit fraction. RFC3339Nano
// trims trailing zeros, which breaks lexical ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func now() string {
	return formatTime(time.Now())
}

// sqlValue maps JSON-ish filter values onto what json_extract returns.
func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case quote.Status:
		return string(x)
	}
	return v
}

func invalidField(param, field string) error {
	return &quote.ValidationError{Fields: []quote.FieldError{{
		Field:   param,
		Message: fmt.Sprintf("invalid field name %q", field),
	}}}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
