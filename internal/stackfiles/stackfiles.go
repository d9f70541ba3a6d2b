// Package stackfiles materializes a stack's run directory on the host
// before the compose driver touches it: a Git checkout pulled or cloned
// fresh, or operator-declared file contents written in place, followed by
// a presence check of every file the stack declares. It also owns the
// repo-cache cleanup used by Core's maintenance operation.
package stackfiles

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/dockfleet/conduit/internal/compose"
	"github.com/dockfleet/conduit/internal/secrets"
)

// File is one operator-declared file of a files-on-host stack, relative to
// the stack's run directory.
type File struct {
	Path     string `json:"path"`
	Contents string `json:"contents"`
}

// Source describes where a stack's run directory comes from. Exactly one
// mode applies: FilesOnHost writes Files into the directory; otherwise
// GitURL names a repository to pull or clone.
type Source struct {
	GitURL      string `json:"gitUrl,omitempty"`
	Branch      string `json:"branch,omitempty"`
	Commit      string `json:"commit,omitempty"`
	FilesOnHost bool   `json:"filesOnHost,omitempty"`
	Files       []File `json:"files,omitempty"`
	// DeclaredFiles are the paths (relative to the run directory) the
	// stack's compose target references; each must exist after
	// materialization.
	DeclaredFiles []string `json:"declaredFiles,omitempty"`
}

// GitRunner executes a git subcommand in dir. A seam for tests; production
// code uses ExecGitRunner.
type GitRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout, stderr string, err error)
}

// ExecGitRunner runs git via os/exec, each argv element its own process
// argument.
type ExecGitRunner struct{}

func (ExecGitRunner) Run(ctx context.Context, dir string, argv []string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", argv...)
	if dir != "" {
		cmd.Dir = dir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// DefaultTimeout bounds one git invocation.
const DefaultTimeout = 5 * time.Minute

// Materializer prepares run directories. Logs it produces pass through the
// secret replacer before they leave this package; file contents written to
// disk do not (the files need the real values, the audit trail does not).
type Materializer struct {
	git     GitRunner
	secrets *secrets.Replacer
	timeout time.Duration
}

// NewMaterializer builds a Materializer; a nil git runner selects
// ExecGitRunner, a nil replacer redacts nothing.
func NewMaterializer(git GitRunner, repl *secrets.Replacer) *Materializer {
	if git == nil {
		git = ExecGitRunner{}
	}
	return &Materializer{git: git, secrets: repl, timeout: DefaultTimeout}
}

// Materialize brings dir to the state src describes and verifies every
// declared file exists. It returns one Log per stage; the first failed
// stage ends the pipeline.
func (m *Materializer) Materialize(ctx context.Context, dir string, src Source) []compose.Log {
	var logs []compose.Log

	if src.FilesOnHost {
		l := m.writeFiles(dir, src.Files)
		logs = append(logs, l)
		if !l.Success {
			return logs
		}
	} else if src.GitURL != "" {
		l := m.pullOrClone(ctx, dir, src)
		logs = append(logs, l)
		if !l.Success {
			return logs
		}
	}

	if len(src.DeclaredFiles) > 0 {
		logs = append(logs, verifyFiles(dir, src.DeclaredFiles))
	}
	return logs
}

func (m *Materializer) writeFiles(dir string, files []File) compose.Log {
	start := time.Now()
	var written []string
	for _, f := range files {
		path := filepath.Join(dir, f.Path)
		if !strings.HasPrefix(filepath.Clean(path), filepath.Clean(dir)+string(os.PathSeparator)) {
			return failLog("Write Files", start, fmt.Sprintf("refusing to write outside run directory: %s", f.Path))
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return failLog("Write Files", start, err.Error())
		}
		if err := os.WriteFile(path, []byte(f.Contents), 0o600); err != nil {
			return failLog("Write Files", start, err.Error())
		}
		written = append(written, fmt.Sprintf("%s (%d bytes)", f.Path, len(f.Contents)))
	}
	return compose.Log{
		Stage:     "Write Files",
		Stdout:    m.secrets.Replace(strings.Join(written, "\n")),
		Success:   true,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

// pullOrClone fetches src into dir: a pull if dir already holds a clone, a
// fresh clone otherwise, then an optional hard checkout of a pinned commit.
func (m *Materializer) pullOrClone(ctx context.Context, dir string, src Source) compose.Log {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	var stdout, stderr strings.Builder
	run := func(runDir string, argv ...string) error {
		out, errOut, err := m.git.Run(ctx, runDir, argv)
		stdout.WriteString(out)
		stderr.WriteString(errOut)
		return err
	}

	stage := "Clone Repo"
	var err error
	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		stage = "Pull Repo"
		argv := []string{"pull"}
		if src.Branch != "" {
			argv = []string{"pull", "origin", src.Branch}
		}
		err = run(dir, argv...)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(dir), 0o755); mkErr != nil {
			return failLog(stage, start, mkErr.Error())
		}
		argv := []string{"clone", src.GitURL, dir}
		if src.Branch != "" {
			argv = []string{"clone", "--branch", src.Branch, src.GitURL, dir}
		}
		err = run("", argv...)
	}
	if err == nil && src.Commit != "" {
		err = run(dir, "checkout", src.Commit)
	}

	return compose.Log{
		Stage:     stage,
		Stdout:    m.secrets.Replace(stdout.String()),
		Stderr:    m.secrets.Replace(stderr.String()),
		Success:   err == nil,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

func verifyFiles(dir string, declared []string) compose.Log {
	start := time.Now()
	var missing []string
	for _, f := range declared {
		if _, err := os.Stat(filepath.Join(dir, f)); err != nil {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return failLog("Verify Files", start, "missing: "+strings.Join(missing, ", "))
	}
	return compose.Log{
		Stage:     "Verify Files",
		Stdout:    strings.Join(declared, "\n"),
		Success:   true,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

func failLog(stage string, start time.Time, msg string) compose.Log {
	return compose.Log{
		Stage:     stage,
		Stderr:    msg,
		Success:   false,
		StartedAt: start,
		EndedAt:   time.Now(),
	}
}

// ClearRepoCache removes every directory at the top level of dir, leaving
// plain files alone. Returns the names of the directories removed.
func ClearRepoCache(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("stackfiles: reading repo cache: %w", err)
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, fmt.Errorf("stackfiles: removing %s: %w", e.Name(), err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
