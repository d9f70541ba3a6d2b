package stackfiles

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dockfleet/conduit/internal/secrets"
)

// scriptedGit records every git invocation and fails on demand.
type scriptedGit struct {
	calls [][]string
	dirs  []string
	fail  bool
}

func (g *scriptedGit) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	g.calls = append(g.calls, argv)
	g.dirs = append(g.dirs, dir)
	if g.fail {
		return "", "fatal: repository not found", os.ErrNotExist
	}
	return "ok", "", nil
}

func TestMaterializeFilesOnHost(t *testing.T) {
	dir := t.TempDir()
	m := NewMaterializer(&scriptedGit{}, secrets.NewReplacer("s3cretvalue"))

	logs := m.Materialize(context.Background(), dir, Source{
		FilesOnHost: true,
		Files: []File{
			{Path: "compose.yaml", Contents: "services:\n  web:\n    image: nginx:1\n"},
			{Path: "conf/app.env", Contents: "TOKEN=s3cretvalue\n"},
		},
		DeclaredFiles: []string{"compose.yaml", "conf/app.env"},
	})

	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}
	for _, l := range logs {
		if !l.Success {
			t.Fatalf("stage %q failed: %s", l.Stage, l.Stderr)
		}
	}

	body, err := os.ReadFile(filepath.Join(dir, "conf", "app.env"))
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "TOKEN=s3cretvalue\n" {
		t.Fatalf("file on disk = %q, want the real secret value", body)
	}
	if strings.Contains(logs[0].Stdout, "s3cretvalue") {
		t.Fatalf("write log leaked secret: %q", logs[0].Stdout)
	}
}

func TestMaterializeRejectsEscapingPath(t *testing.T) {
	dir := t.TempDir()
	m := NewMaterializer(&scriptedGit{}, nil)

	logs := m.Materialize(context.Background(), dir, Source{
		FilesOnHost: true,
		Files:       []File{{Path: "../outside.txt", Contents: "x"}},
	})
	if len(logs) != 1 || logs[0].Success {
		t.Fatalf("expected a single failed Write Files log, got %+v", logs)
	}
}

func TestMaterializeVerifyMissingFile(t *testing.T) {
	dir := t.TempDir()
	m := NewMaterializer(&scriptedGit{}, nil)

	logs := m.Materialize(context.Background(), dir, Source{
		FilesOnHost:   true,
		Files:         []File{{Path: "compose.yaml", Contents: "services: {}\n"}},
		DeclaredFiles: []string{"compose.yaml", "compose.override.yaml"},
	})
	last := logs[len(logs)-1]
	if last.Stage != "Verify Files" || last.Success {
		t.Fatalf("expected failed Verify Files, got %+v", last)
	}
	if !strings.Contains(last.Stderr, "compose.override.yaml") {
		t.Fatalf("Verify Files stderr = %q, want missing file named", last.Stderr)
	}
}

func TestMaterializeClonesWhenNoCheckout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stack")
	git := &scriptedGit{}
	m := NewMaterializer(git, nil)

	logs := m.Materialize(context.Background(), dir, Source{
		GitURL: "https://example.com/org/repo.git",
		Branch: "main",
	})
	if len(logs) != 1 || logs[0].Stage != "Clone Repo" || !logs[0].Success {
		t.Fatalf("got %+v", logs)
	}
	want := []string{"clone", "--branch", "main", "https://example.com/org/repo.git", dir}
	if len(git.calls) != 1 || strings.Join(git.calls[0], " ") != strings.Join(want, " ") {
		t.Fatalf("git calls = %v, want %v", git.calls, want)
	}
}

func TestMaterializePullsExistingCheckout(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	git := &scriptedGit{}
	m := NewMaterializer(git, nil)

	logs := m.Materialize(context.Background(), dir, Source{
		GitURL: "https://example.com/org/repo.git",
		Branch: "main",
		Commit: "abc123",
	})
	if len(logs) != 1 || logs[0].Stage != "Pull Repo" || !logs[0].Success {
		t.Fatalf("got %+v", logs)
	}
	if len(git.calls) != 2 {
		t.Fatalf("git calls = %v, want pull then checkout", git.calls)
	}
	if strings.Join(git.calls[0], " ") != "pull origin main" {
		t.Fatalf("first call = %v", git.calls[0])
	}
	if strings.Join(git.calls[1], " ") != "checkout abc123" {
		t.Fatalf("second call = %v", git.calls[1])
	}
}

func TestMaterializeGitFailureShortCircuits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "stack")
	m := NewMaterializer(&scriptedGit{fail: true}, nil)

	logs := m.Materialize(context.Background(), dir, Source{
		GitURL:        "https://example.com/org/repo.git",
		DeclaredFiles: []string{"compose.yaml"},
	})
	if len(logs) != 1 || logs[0].Success {
		t.Fatalf("expected single failed clone log, got %+v", logs)
	}
}

func TestClearRepoCacheRemovesOnlyDirectories(t *testing.T) {
	dir := t.TempDir()
	for _, d := range []string{"repo-a", "repo-b"} {
		if err := os.MkdirAll(filepath.Join(dir, d, "nested"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "stray.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	removed, err := ClearRepoCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed = %v, want the two directories", removed)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "stray.txt" {
		t.Fatalf("remaining entries = %v, want only stray.txt", entries)
	}
}
