package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists each document as a single JSON blob row keyed by
// (collection, id). Query filtering is done in Go over decoded documents
// rather than SQLite's JSON1 functions; the collections here are small
// enough that a row scan per query is not a meaningful cost.
//
// Single-writer sql.DB (SetMaxOpenConns(1)), WAL journal mode, and a busy
// timeout so concurrent readers never collide with the one writer.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens (creating if absent) a sqlite database under
// dataDir/conduit.db.
func NewSQLiteStore(dataDir string) (*SQLiteStore, error) {
	path := filepath.Join(dataDir, "conduit.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	PRIMARY KEY (collection, id)
)`)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Insert(ctx context.Context, collection, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: marshal %s/%s: %w", collection, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES (?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body`,
		collection, id, string(body))
	if err != nil {
		return fmt.Errorf("store: insert %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) Find(ctx context.Context, collection, id string, out any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: find %s/%s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
	}
	return true, nil
}

func (s *SQLiteStore) Mutate(ctx context.Context, collection, id string, m Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM documents WHERE collection = ? AND id = ?`, collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("store: mutate %s/%s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: mutate %s/%s: %w", collection, id, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return fmt.Errorf("store: decode %s/%s: %w", collection, id, err)
	}

	applyMutation(doc, m)

	newBody, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: re-marshal %s/%s: %w", collection, id, err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET body = ? WHERE collection = ? AND id = ?`,
		string(newBody), collection, id); err != nil {
		return fmt.Errorf("store: update %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND id = ?`, collection, id); err != nil {
		return fmt.Errorf("store: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, collection string, filter Filter) (Cursor, error) {
	s.mu.Lock()
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM documents WHERE collection = ?`, collection)
	s.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("store: query %s: %w", collection, err)
	}
	defer rows.Close()

	var matched []map[string]any
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan %s: %w", collection, err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("store: decode %s: %w", collection, err)
		}
		if matchesFilter(doc, filter) {
			matched = append(matched, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate %s: %w", collection, err)
	}
	return &sliceCursor{docs: matched, pos: -1}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ErrNotFound is returned by Mutate when the target document does not exist.
var ErrNotFound = errors.New("store: document not found")

func applyMutation(doc map[string]any, m Mutation) {
	for k, v := range m.Set {
		doc[k] = v
	}
	for k, v := range m.Push {
		arr, _ := doc[k].([]any)
		doc[k] = append(arr, v)
	}
	for k, v := range m.Pull {
		arr, ok := doc[k].([]any)
		if !ok {
			continue
		}
		out := arr[:0]
		for _, item := range arr {
			if !jsonEqual(item, v) {
				out = append(out, item)
			}
		}
		doc[k] = out
	}
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

func matchesFilter(doc map[string]any, f Filter) bool {
	if len(f.Eq) == 0 && len(f.Or) == 0 {
		return true
	}
	if len(f.Eq) > 0 {
		for k, want := range f.Eq {
			if !jsonEqual(doc[k], want) {
				return false
			}
		}
		if len(f.Or) == 0 {
			return true
		}
	}
	if len(f.Or) > 0 {
		if f.Combinator == CombinatorAnd {
			for _, sub := range f.Or {
				if !matchesFilter(doc, sub) {
					return false
				}
			}
			return true
		}
		for _, sub := range f.Or {
			if matchesFilter(doc, sub) {
				return true
			}
		}
		return false
	}
	return true
}

type sliceCursor struct {
	docs []map[string]any
	pos  int
}

func (c *sliceCursor) Next(ctx context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *sliceCursor) Decode(out any) error {
	if c.pos < 0 || c.pos >= len(c.docs) {
		return fmt.Errorf("store: Decode called out of range")
	}
	body, err := json.Marshal(c.docs[c.pos])
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (c *sliceCursor) Close() error { return nil }
func (c *sliceCursor) Err() error   { return nil }

// Backup writes a consistent snapshot of the whole database into destDir
// via VACUUM INTO, returning the snapshot's path. The filename carries a
// timestamp so repeated backups never clobber each other.
func (s *SQLiteStore) Backup(ctx context.Context, destDir string) (string, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("store: creating backup dir: %w", err)
	}
	dest := filepath.Join(destDir, fmt.Sprintf("conduit-%s.db", time.Now().UTC().Format("20060102-150405")))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return "", fmt.Errorf("store: backup: %w", err)
	}
	return dest, nil
}
