package execengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// UpdateStore is the narrow persistence surface the engine needs. It is
// satisfied by internal/store's sqlite-backed implementation; persistence
// is idempotent full-replacement by id.
type UpdateStore interface {
	SaveUpdate(ctx context.Context, u *Update) error
}

// Handler runs the body of one execution against an in-flight Update. It
// returns an error to record a failed execution; a panic is treated the
// same way by the watchdog.
type Handler func(ctx context.Context, update *Update) error

// Engine drives Update lifecycle and per-resource/global single-flight
// guards for every Core-side action.
type Engine struct {
	store  UpdateStore
	logger *slog.Logger
}

func NewEngine(store UpdateStore, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Execute creates an Update, runs handler under a watchdog that guarantees
// the Update reaches StatusComplete even if handler panics or the context
// is canceled, persists the Update after creation and again once finalized,
// and returns the final Update. It does not itself acquire any guard —
// callers take whichever ActionGuards/SingleFlight locks their operation
// requires before calling Execute, so a failed guard never creates an
// Update at all.
func (e *Engine) Execute(ctx context.Context, kind, initiator, target string, handler Handler) (*Update, error) {
	update := NewUpdate(uuid.New().String(), kind, initiator, target)
	update.MarkInProgress()
	if err := e.persist(ctx, update); err != nil {
		e.logger.Warn("failed to persist update on creation", "update", update.ID, "error", err)
	}

	e.runWithWatchdog(ctx, update, handler)

	if err := e.persist(ctx, update); err != nil {
		e.logger.Warn("failed to persist update after finalize", "update", update.ID, "error", err)
	}
	return update, nil
}

// runWithWatchdog runs handler to completion, recovering from any panic and
// guaranteeing Finalize is called exactly once regardless of outcome. This
// is the Go equivalent of a spawned task plus a sibling watchdog awaiting
// it: a single goroutine with a deferred recover gives the same
// terminates-exactly-once guarantee without a second goroutine racing to
// observe the first one's panic (which Go's recover semantics do not allow
// across goroutines anyway).
func (e *Engine) runWithWatchdog(ctx context.Context, update *Update, handler Handler) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				_ = update.AppendLog(LogEntry{
					Stage:     "Task Error",
					Stderr:    fmt.Sprintf("panic: %v", r),
					Success:   false,
					StartedAt: time.Now(),
					EndedAt:   time.Now(),
				})
				update.Finalize()
				e.logger.Error("execution handler panicked", "update", update.ID, "panic", r)
			}
		}()

		start := time.Now()
		err := handler(ctx, update)
		if err != nil {
			_ = update.AppendLog(LogEntry{
				Stage:     "Handler Error",
				Stderr:    err.Error(),
				Success:   false,
				StartedAt: start,
				EndedAt:   time.Now(),
			})
		}
		update.Finalize()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Cancellation lets the watchdog finalise with an error log; any
		// partial Periphery side-effects are not rolled back.
		<-done
		_ = update.AppendLog(LogEntry{
			Stage:     "Spawn Error",
			Stderr:    "execution canceled: " + ctx.Err().Error(),
			Success:   false,
			StartedAt: time.Now(),
			EndedAt:   time.Now(),
		})
		update.Finalize()
	}
}

func (e *Engine) persist(ctx context.Context, update *Update) error {
	if e.store == nil {
		return nil
	}
	return e.store.SaveUpdate(ctx, update)
}

// BatchResult is one item's outcome within a BatchExecute fan-out.
type BatchResult struct {
	Target string
	Update *Update
	Err    error
}

// BatchExecute expands targets into individual executions of handler,
// fanning out concurrently and collecting one BatchResult per target in
// input order. Each target still gets its own Update.
func (e *Engine) BatchExecute(ctx context.Context, kind, initiator string, targets []string, handler func(target string) Handler) []BatchResult {
	results := make([]BatchResult, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			update, err := e.Execute(ctx, kind, initiator, target, handler(target))
			results[i] = BatchResult{Target: target, Update: update, Err: err}
		}(i, target)
	}
	wg.Wait()
	return results
}

// ErrAlreadyBusy reports whether err (or any error it wraps) is ErrBusy.
func ErrAlreadyBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}
