package peripheryapp

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/dockfleet/conduit/internal/compose"
	"github.com/dockfleet/conduit/internal/ops"
	"github.com/dockfleet/conduit/internal/secrets"
	"github.com/dockfleet/conduit/internal/stackfiles"
)

// okRunner answers every docker invocation successfully, recording argv.
type okRunner struct {
	calls [][]string
}

func (r *okRunner) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	r.calls = append(r.calls, argv)
	return "", "", nil
}

func newTestApp(t *testing.T, runner compose.Runner) *App {
	t.Helper()
	a := New(filepath.Join(t.TempDir(), "periphery.key"), slog.New(slog.NewTextHandler(os.Stderr, nil)))
	a.Compose = compose.NewDriver(runner)
	a.Files = stackfiles.NewMaterializer(nil, secrets.NewReplacer())
	return a
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestComposePullMaterializesThenPulls(t *testing.T) {
	runner := &okRunner{}
	a := newTestApp(t, runner)
	dir := t.TempDir()

	req := ops.ComposePullRequest{
		Dir:    dir,
		Target: compose.Target{ProjectName: "web", Files: []string{"compose.yaml"}},
		Source: &stackfiles.Source{
			FilesOnHost:   true,
			Files:         []stackfiles.File{{Path: "compose.yaml", Contents: "services: {}\n"}},
			DeclaredFiles: []string{"compose.yaml"},
		},
		Registries: []compose.RegistryCredential{{Registry: "ghcr.io", Username: "bot", Password: "p4ss"}},
	}

	raw, err := a.handleComposePull(context.Background(), mustJSON(t, req))
	if err != nil {
		t.Fatalf("handleComposePull: %v", err)
	}
	resp := raw.(ops.ComposePullResponse)

	stages := make([]string, len(resp.Logs))
	for i, l := range resp.Logs {
		if !l.Success {
			t.Fatalf("stage %q failed: %s", l.Stage, l.Stderr)
		}
		stages[i] = l.Stage
	}
	want := []string{"Write Files", "Verify Files", "Registry Login", "Pull"}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v, want %v", stages, want)
		}
	}

	if _, err := os.Stat(filepath.Join(dir, "compose.yaml")); err != nil {
		t.Fatalf("compose.yaml not written: %v", err)
	}
}

func TestComposePullStopsAtFailedMaterialization(t *testing.T) {
	runner := &okRunner{}
	a := newTestApp(t, runner)

	req := ops.ComposePullRequest{
		Dir:    t.TempDir(),
		Target: compose.Target{ProjectName: "web", Files: []string{"compose.yaml"}},
		Source: &stackfiles.Source{
			FilesOnHost:   true,
			DeclaredFiles: []string{"compose.yaml"},
		},
	}

	raw, err := a.handleComposePull(context.Background(), mustJSON(t, req))
	if err != nil {
		t.Fatalf("handleComposePull: %v", err)
	}
	resp := raw.(ops.ComposePullResponse)

	last := resp.Logs[len(resp.Logs)-1]
	if last.Stage != "Verify Files" || last.Success {
		t.Fatalf("expected pipeline to end on failed Verify Files, got %+v", resp.Logs)
	}
	if len(runner.calls) != 0 {
		t.Fatalf("docker should not run after failed materialization, got %v", runner.calls)
	}
}

func TestComposeUpPrependsPrepLogs(t *testing.T) {
	runner := &okRunner{}
	a := newTestApp(t, runner)
	dir := t.TempDir()

	req := ops.ComposeUpRequest{
		Dir:    dir,
		Target: compose.Target{ProjectName: "web", Files: []string{"compose.yaml"}},
		Source: &stackfiles.Source{
			FilesOnHost: true,
			Files:       []stackfiles.File{{Path: "compose.yaml", Contents: "services: {}\n"}},
		},
	}

	raw, err := a.handleComposeUp(context.Background(), mustJSON(t, req))
	if err != nil {
		t.Fatalf("handleComposeUp: %v", err)
	}
	resp := raw.(ops.ComposeUpResponse)

	if len(resp.Logs) == 0 || resp.Logs[0].Stage != "Write Files" {
		t.Fatalf("expected Write Files first, got %+v", resp.Logs)
	}
	if !resp.Deployed {
		t.Fatalf("expected Deployed, got %+v", resp)
	}
}
