// Package execengine implements the Core-side execution orchestration: the
// per-request Update lifecycle, per-resource action-state guards, global
// single-flight locks, and the watchdog that guarantees every Update
// terminates even if its handler panics.
package execengine

import (
	"fmt"
	"sync"
	"time"
)

// Status is an Update's lifecycle state. Transitions are monotonic:
// queued -> in-progress -> complete, never backward.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in-progress"
	StatusComplete   Status = "complete"
)

// LogEntry is one stage of an Update's execution log.
type LogEntry struct {
	Stage     string    `json:"stage"`
	Stdout    string    `json:"stdout,omitempty"`
	Stderr    string    `json:"stderr,omitempty"`
	Success   bool      `json:"success"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
}

// Update is the persistent audit document for one execution. Once Status is
// StatusComplete no further log entries may be appended.
type Update struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Initiator string     `json:"initiator"`
	Target    string     `json:"target"`
	Status    Status     `json:"status"`
	Success   bool       `json:"success"`
	Logs      []LogEntry `json:"logs"`
	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	mu *sync.Mutex
}

// NewUpdate constructs an Update in StatusQueued, ready for MarkInProgress.
func NewUpdate(id, kind, initiator, target string) *Update {
	return &Update{
		ID:        id,
		Kind:      kind,
		Initiator: initiator,
		Target:    target,
		Status:    StatusQueued,
		StartedAt: time.Now(),
		mu:        &sync.Mutex{},
	}
}

// AppendLog adds a log entry to the Update. It is a no-op error once the
// Update has reached StatusComplete.
func (u *Update) AppendLog(entry LogEntry) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Status == StatusComplete {
		return fmt.Errorf("execengine: cannot append log to completed update %s", u.ID)
	}
	u.Logs = append(u.Logs, entry)
	return nil
}

// MarkInProgress transitions the Update to StatusInProgress. Safe to call
// more than once; it never moves status backward.
func (u *Update) MarkInProgress() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Status == StatusQueued {
		u.Status = StatusInProgress
	}
}

// Finalize transitions the Update to StatusComplete exactly once, computing
// Success as the AND of every log entry's Success flag (an Update with no
// log entries at all succeeds vacuously). Calling Finalize more than once is
// a no-op.
func (u *Update) Finalize() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.Status == StatusComplete {
		return
	}
	success := true
	for _, l := range u.Logs {
		if !l.Success {
			success = false
			break
		}
	}
	u.Success = success
	u.Status = StatusComplete
	now := time.Now()
	u.EndedAt = &now
}

// Snapshot returns a value copy of the Update safe to persist or serialize
// without racing AppendLog/Finalize.
func (u *Update) Snapshot() Update {
	u.mu.Lock()
	defer u.mu.Unlock()
	cp := *u
	cp.Logs = append([]LogEntry(nil), u.Logs...)
	return cp
}
