package execengine

import (
	"fmt"
	"sync"
)

// ErrBusy is returned when an action-state flag or global single-flight
// lock is already held.
var ErrBusy = fmt.Errorf("execengine: already busy")

// resourceState is the small set of in-flight-operation-class flags held
// per resource, e.g. "starting_containers", "deploying", "pulling".
// Flags are arbitrary strings rather than a fixed struct so
// new operation classes don't require a schema change here.
type resourceState struct {
	mu    sync.Mutex
	flags map[string]bool
}

// ActionGuards is the process-wide per-(resource, operation-class)
// single-flight guard. Acquiring an already-set flag fails with ErrBusy;
// the returned release function clears the flag, mirroring a guard that
// "clears on drop".
type ActionGuards struct {
	mu    sync.Mutex
	byRes map[string]*resourceState
}

func NewActionGuards() *ActionGuards {
	return &ActionGuards{byRes: make(map[string]*resourceState)}
}

// Acquire sets flag for resource, returning ErrBusy if it is already set.
func (g *ActionGuards) Acquire(resource, flag string) (release func(), err error) {
	g.mu.Lock()
	state, ok := g.byRes[resource]
	if !ok {
		state = &resourceState{flags: make(map[string]bool)}
		g.byRes[resource] = state
	}
	g.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()
	if state.flags[flag] {
		return nil, fmt.Errorf("%w: resource %q is already %q", ErrBusy, resource, flag)
	}
	state.flags[flag] = true

	return func() {
		state.mu.Lock()
		defer state.mu.Unlock()
		delete(state.flags, flag)
	}, nil
}

// SingleFlight is a named set of process-wide try-locks used for
// operations like clear-repo-cache, backup-database, global auto-update,
// and global key-rotation, where contention should
// fail the caller immediately rather than queue.
type SingleFlight struct {
	mu     sync.Mutex
	locked map[string]bool
}

func NewSingleFlight() *SingleFlight {
	return &SingleFlight{locked: make(map[string]bool)}
}

// TryAcquire attempts to take the named lock, returning ErrBusy on
// contention. The returned release function must be called exactly once
// to free the lock.
func (s *SingleFlight) TryAcquire(name string) (release func(), err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked[name] {
		return nil, fmt.Errorf("%w: %q is already in progress", ErrBusy, name)
	}
	s.locked[name] = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.locked, name)
	}, nil
}
