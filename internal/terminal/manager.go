package terminal

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RecreationPolicy controls what GetOrCreate does when a terminal with the
// requested name already exists.
type RecreationPolicy int

const (
	// RecreationNever reuses the existing terminal unconditionally, even if
	// its command differs from what was requested.
	RecreationNever RecreationPolicy = iota
	// RecreationDifferentCommand kills and respawns only if the requested
	// command differs from the running terminal's command.
	RecreationDifferentCommand
	// RecreationAlways kills and respawns the terminal every time, even for
	// an identical command.
	RecreationAlways
)

// sweepInterval is how often the manager reaps terminals whose process has
// already exited and have no remaining subscribers.
const sweepInterval = 30 * time.Second

// Manager owns every live Terminal on a Periphery host, keyed by name.
type Manager struct {
	mu        sync.Mutex
	terminals map[string]*Terminal
	logger    *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{terminals: make(map[string]*Terminal), logger: logger}
}

// Run starts the manager's periodic sweep; it blocks until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, t := range m.terminals {
		if !t.Alive() {
			delete(m.terminals, name)
			m.logger.Info("reaped exited terminal", "name", name)
		}
	}
}

// Get returns the terminal currently registered under name, if any.
func (m *Manager) Get(name string) (*Terminal, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.terminals[name]
	return t, ok
}

// GetOrCreate returns the terminal for name, applying policy against any
// existing, still-alive terminal of that name before spawning one with
// command/dir if needed.
func (m *Manager) GetOrCreate(ctx context.Context, name string, command []string, dir string, policy RecreationPolicy) (*Terminal, error) {
	m.mu.Lock()
	existing, ok := m.terminals[name]
	if ok && existing.Alive() {
		switch policy {
		case RecreationNever:
			m.mu.Unlock()
			return existing, nil
		case RecreationDifferentCommand:
			if sameCommand(existing.Command, command) {
				m.mu.Unlock()
				return existing, nil
			}
		case RecreationAlways:
			// fall through to recreate
		}
		delete(m.terminals, name)
		m.mu.Unlock()
		existing.Kill()
	} else {
		if ok {
			delete(m.terminals, name)
		}
		m.mu.Unlock()
	}

	t, err := Spawn(ctx, name, command, dir, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.terminals[name] = t
	m.mu.Unlock()
	return t, nil
}

// Remove kills and unregisters the named terminal, if present.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	t, ok := m.terminals[name]
	if ok {
		delete(m.terminals, name)
	}
	m.mu.Unlock()
	if ok {
		t.Kill()
	}
}

// Names returns the names of every currently registered terminal.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.terminals))
	for name := range m.terminals {
		out = append(out, name)
	}
	return out
}

func sameCommand(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// joinCommand is used only for log messages, never for shell execution.
func joinCommand(cmd []string) string {
	return strings.Join(cmd, " ")
}
