package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/creack/pty"
)

// ErrClosed is returned by operations attempted on a Terminal after it has
// exited or been killed.
var ErrClosed = errors.New("terminal: closed")

// StdinMsg is one decoded item off a terminal's stdin channel: either raw
// bytes to write to the PTY, or a resize request. Exactly one of Data or
// Resize is set.
type StdinMsg struct {
	Data   []byte
	Resize *ResizeRequest
}

type ResizeRequest struct {
	Rows uint16
	Cols uint16
}

// Terminal is one live PTY-backed process: a shell, a one-shot command
// wrapper, or a container exec/attach session. Its stdout is continuously
// mirrored into a bounded HistoryRing and fanned out to any number of
// subscribers via broadcaster.
type Terminal struct {
	Name    string
	Command []string

	master *os.File
	cmd    *exec.Cmd

	history     *HistoryRing
	broadcaster *broadcaster
	stdinCh     chan StdinMsg

	ctx    context.Context
	cancel context.CancelFunc

	exited    atomic.Bool
	exitCode  atomic.Int32
	closeOnce sync.Once
	doneCh    chan struct{}

	logger *slog.Logger
}

// Spawn starts command under dir with a fresh PTY and begins pumping its
// output into history/broadcaster immediately. The returned Terminal is
// ready for Subscribe/Write/Resize; call Run to drive it to completion (Run
// blocks until the process exits, so callers invoke it in its own
// goroutine).
func Spawn(ctx context.Context, name string, command []string, dir string, logger *slog.Logger) (*Terminal, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("terminal: command must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command(command[0], command[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	cmd.Env = os.Environ()

	master, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("terminal: opening pty: %w", err)
	}

	termCtx, cancel := context.WithCancel(ctx)

	t := &Terminal{
		Name:        name,
		Command:     command,
		master:      master,
		cmd:         cmd,
		history:     NewHistoryRing(HistoryLimit),
		broadcaster: newBroadcaster(),
		stdinCh:     make(chan StdinMsg, 256),
		ctx:         termCtx,
		cancel:      cancel,
		doneCh:      make(chan struct{}),
		logger:      logger,
	}

	go t.readLoop()
	go t.writeLoop()
	go t.waitLoop()

	return t, nil
}

func (t *Terminal) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := t.master.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			t.history.Write(data)
			t.broadcaster.send(data)
		}
		if err != nil {
			return
		}
	}
}

func (t *Terminal) writeLoop() {
	for {
		select {
		case <-t.ctx.Done():
			return
		case msg, ok := <-t.stdinCh:
			if !ok {
				return
			}
			if msg.Resize != nil {
				if err := pty.Setsize(t.master, &pty.Winsize{Rows: msg.Resize.Rows, Cols: msg.Resize.Cols}); err != nil {
					t.logger.Warn("terminal resize failed", "name", t.Name, "error", err)
				}
				continue
			}
			if len(msg.Data) == 0 {
				continue
			}
			if _, err := t.master.Write(msg.Data); err != nil {
				t.logger.Warn("terminal write failed", "name", t.Name, "error", err)
				return
			}
		}
	}
}

func (t *Terminal) waitLoop() {
	err := t.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}
	t.exitCode.Store(int32(code))
	t.exited.Store(true)
	t.master.Close()
	t.cancel()
	close(t.doneCh)
	t.logger.Info("terminal process exited", "name", t.Name, "code", code)
}

// Write queues data to be written to the PTY's stdin. It never blocks the
// caller on the PTY itself; it returns ErrClosed once the terminal has
// exited.
func (t *Terminal) Write(data []byte) error {
	return t.enqueue(StdinMsg{Data: data})
}

// Resize requests a PTY window size change.
func (t *Terminal) Resize(rows, cols uint16) error {
	return t.enqueue(StdinMsg{Resize: &ResizeRequest{Rows: rows, Cols: cols}})
}

func (t *Terminal) enqueue(msg StdinMsg) error {
	if t.exited.Load() {
		return ErrClosed
	}
	select {
	case t.stdinCh <- msg:
		return nil
	case <-t.doneCh:
		return ErrClosed
	}
}

// Subscribe registers a new listener for this terminal's stdout. It returns
// the listener id (for Unsubscribe) and the channel of byte chunks.
func (t *Terminal) Subscribe(bufSize int) (uint64, <-chan []byte) {
	return t.broadcaster.subscribe(bufSize)
}

// Unsubscribe removes a listener previously returned by Subscribe.
func (t *Terminal) Unsubscribe(id uint64) {
	t.broadcaster.unsubscribe(id)
}

// History returns the current replay-ready history chunks, non-empty
// slices only.
func (t *Terminal) History() [][]byte {
	return t.history.Snapshot()
}

// Alive reports whether the underlying process is still running.
func (t *Terminal) Alive() bool {
	return !t.exited.Load()
}

// ExitCode returns the process's exit code once it has exited; the second
// return value is false while the process is still running.
func (t *Terminal) ExitCode() (int, bool) {
	if !t.exited.Load() {
		return 0, false
	}
	return int(t.exitCode.Load()), true
}

// Done returns a channel closed once the terminal's process has exited.
func (t *Terminal) Done() <-chan struct{} {
	return t.doneCh
}

// Kill terminates the underlying process and releases the PTY. Safe to call
// more than once.
func (t *Terminal) Kill() {
	t.closeOnce.Do(func() {
		if t.cmd.Process != nil {
			_ = t.cmd.Process.Kill()
		}
		t.cancel()
	})
}
