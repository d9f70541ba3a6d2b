package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type widget struct {
	Name string `json:"name"`
	Tags []any  `json:"tags"`
}

func TestInsertFindRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Insert(ctx, "widgets", "w1", widget{Name: "gear"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	var got widget
	ok, err := s.Find(ctx, "widgets", "w1", &got)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if !ok {
		t.Fatal("expected document to be found")
	}
	if got.Name != "gear" {
		t.Fatalf("got %+v", got)
	}
}

func TestFindMissingReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	var got widget
	ok, err := s.Find(context.Background(), "widgets", "absent", &got)
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for a missing document")
	}
}

func TestInsertReplacesExistingDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", widget{Name: "v1"})
	s.Insert(ctx, "widgets", "w1", widget{Name: "v2"})

	var got widget
	s.Find(ctx, "widgets", "w1", &got)
	if got.Name != "v2" {
		t.Fatalf("got %q, want v2", got.Name)
	}
}

func TestMutateSetOverwritesField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"name": "gear", "count": 1})

	if err := s.Mutate(ctx, "widgets", "w1", Mutation{Set: map[string]any{"count": 5.0}}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	var got map[string]any
	s.Find(ctx, "widgets", "w1", &got)
	if got["count"] != 5.0 {
		t.Fatalf("got %v, want count=5", got["count"])
	}
}

func TestMutatePushAppendsToArray(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"tags": []any{"a"}})

	s.Mutate(ctx, "widgets", "w1", Mutation{Push: map[string]any{"tags": "b"}})

	var got map[string]any
	s.Find(ctx, "widgets", "w1", &got)
	tags := got["tags"].([]any)
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "b" {
		t.Fatalf("got tags=%v", tags)
	}
}

func TestMutatePullRemovesMatchingElement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"tags": []any{"a", "b", "c"}})

	s.Mutate(ctx, "widgets", "w1", Mutation{Pull: map[string]any{"tags": "b"}})

	var got map[string]any
	s.Find(ctx, "widgets", "w1", &got)
	tags := got["tags"].([]any)
	if len(tags) != 2 || tags[0] != "a" || tags[1] != "c" {
		t.Fatalf("got tags=%v", tags)
	}
}

func TestMutateOnMissingDocumentReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.Mutate(context.Background(), "widgets", "nope", Mutation{Set: map[string]any{"a": 1}})
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestDeleteRemovesDocument(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", widget{Name: "gear"})
	if err := s.Delete(ctx, "widgets", "w1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	var got widget
	ok, _ := s.Find(ctx, "widgets", "w1", &got)
	if ok {
		t.Fatal("expected document to be gone")
	}
}

func TestDeleteMissingIsNotAnError(t *testing.T) {
	s := newTestStore(t)
	if err := s.Delete(context.Background(), "widgets", "nope"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestQueryEqFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"kind": "gear"})
	s.Insert(ctx, "widgets", "w2", map[string]any{"kind": "bolt"})

	cur, err := s.Query(ctx, "widgets", Filter{Eq: map[string]any{"kind": "gear"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer cur.Close()

	count := 0
	for cur.Next(ctx) {
		var doc map[string]any
		if err := cur.Decode(&doc); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if doc["kind"] != "gear" {
			t.Fatalf("unexpected doc %v", doc)
		}
		count++
	}
	if count != 1 {
		t.Fatalf("got %d matches, want 1", count)
	}
}

func TestQueryOrFilterMatchesEither(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"kind": "gear"})
	s.Insert(ctx, "widgets", "w2", map[string]any{"kind": "bolt"})
	s.Insert(ctx, "widgets", "w3", map[string]any{"kind": "nut"})

	cur, err := s.Query(ctx, "widgets", Filter{Or: []Filter{
		{Eq: map[string]any{"kind": "gear"}},
		{Eq: map[string]any{"kind": "bolt"}},
	}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer cur.Close()

	count := 0
	for cur.Next(ctx) {
		count++
	}
	if count != 2 {
		t.Fatalf("got %d matches, want 2", count)
	}
}

func TestQueryEmptyFilterMatchesEverything(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"kind": "gear"})
	s.Insert(ctx, "widgets", "w2", map[string]any{"kind": "bolt"})

	cur, err := s.Query(ctx, "widgets", Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer cur.Close()

	count := 0
	for cur.Next(ctx) {
		count++
	}
	if count != 2 {
		t.Fatalf("got %d matches, want 2", count)
	}
}

func TestQueryScopedToCollection(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.Insert(ctx, "widgets", "w1", map[string]any{"kind": "gear"})
	s.Insert(ctx, "gadgets", "g1", map[string]any{"kind": "gear"})

	cur, _ := s.Query(ctx, "widgets", Filter{})
	defer cur.Close()
	count := 0
	for cur.Next(ctx) {
		count++
	}
	if count != 1 {
		t.Fatalf("got %d matches scoped to widgets, want 1", count)
	}
}

func TestBackupProducesOpenableSnapshot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Insert(ctx, "widgets", "w1", map[string]any{"kind": "gear"}); err != nil {
		t.Fatal(err)
	}

	dest := t.TempDir()
	path, err := s.Backup(ctx, dest)
	if err != nil {
		t.Fatalf("Backup: %v", err)
	}
	if filepath.Dir(path) != dest {
		t.Fatalf("backup landed at %q, want inside %q", path, dest)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("backup file missing or empty: %v", err)
	}
}
