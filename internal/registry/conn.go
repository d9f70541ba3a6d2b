// Package registry implements the process-wide connection registry: one
// logical Conn (connection record) per Server id, surviving reconnects with
// its outbox, pending-response map, and terminal-channel map intact.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/wire"
)

// Transport is the narrow surface Conn needs from a live link. transport.Conn
// satisfies it; tests substitute fakes to exercise reconnect without a real
// WebSocket.
type Transport interface {
	ReadFrame() (wire.Frame, bool, error)
	WriteFrame(wire.Frame) error
	Close() error
}

// ErrDisconnected is delivered to every pending response slot and terminal
// sink when the underlying socket drops before a response arrives.
var ErrDisconnected = errors.New("registry: connection closed")

// TerminalSink receives inbound Terminal-frame bytes for one channel id.
// Implementations live in internal/terminal; registry only needs the
// narrow interface to avoid an import cycle.
type TerminalSink interface {
	Deliver(data []byte)
	Close()
}

// pendingSlot is what SendRequest awaits: the decoded response or the
// reason none will ever arrive.
type pendingSlot struct {
	resp wire.ResponseEnvelope
	err  error
}

// Args identifies the effective configuration a Conn was built from, so
// Registry.InsertOrReplace can detect an idempotent re-registration and
// skip the replacement when an existing record already matches.
type Args struct {
	// Target is the dial target (Core→Periphery direction) or empty when
	// the Periphery dials in.
	Target string
}

// Conn is one Server's connection record: outbox, pending-response map, and
// terminal-channel map persist across the transport.Conn and cancellation
// token being swapped out on reconnect.
type Conn struct {
	ServerID string
	Args     Args

	mu        sync.Mutex
	transport Transport
	cancel    context.CancelFunc
	connected atomic.Bool
	lastErr   atomic.Value // error

	outboxMu sync.Mutex
	outbox   *outbox

	pendingMu sync.Mutex
	pending   map[uuid.UUID]chan pendingSlot

	terminalsMu sync.Mutex
	terminals   map[uuid.UUID]TerminalSink

	logger *slog.Logger
}

// newConn creates a fresh record with empty outbox/pending/terminal maps.
func newConn(serverID string, args Args, logger *slog.Logger) *Conn {
	return &Conn{
		ServerID: serverID,
		Args:     args,
		outbox:   newOutbox(256),
		pending:  make(map[uuid.UUID]chan pendingSlot),
		terminals: make(map[uuid.UUID]TerminalSink),
		logger:   logger,
	}
}

// attach swaps in a new transport and cancellation scope, replacing only
// the socket-facing fields; outbox, pending, and terminals carry forward.
func (c *Conn) attach(ctx context.Context, tc Transport, cancel context.CancelFunc) {
	c.mu.Lock()
	oldCancel := c.cancel
	c.transport = tc
	c.cancel = cancel
	c.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	c.connected.Store(true)
	go c.pump(ctx)
}

// Connected reports whether the current socket is believed live.
func (c *Conn) Connected() bool {
	return c.connected.Load()
}

// LastError returns the most recent transport-level failure, if any.
func (c *Conn) LastError() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Transport returns the live transport.Conn, or nil if never attached.
func (c *Conn) Transport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Enqueue pushes a frame onto the outbox for delivery, at-least-once,
// across reconnects.
func (c *Conn) Enqueue(f wire.Frame) error {
	c.outboxMu.Lock()
	defer c.outboxMu.Unlock()
	return c.outbox.push(f)
}

// pump drains the outbox over the current transport until the socket fails
// or ctx is cancelled. A frame is popped only after a successful write.
func (c *Conn) pump(ctx context.Context) {
	tc := c.Transport()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.outboxMu.Lock()
		frame, ok := c.outbox.front()
		notify := c.outbox.notify
		c.outboxMu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-notify:
				continue
			}
		}

		if err := tc.WriteFrame(frame); err != nil {
			c.fail(err)
			return
		}

		c.outboxMu.Lock()
		c.outbox.popFront()
		c.outboxMu.Unlock()
	}
}

// fail marks the connection dead, cancels its scope, and fails every
// pending response slot and terminal sink it owns. The outbox is left
// untouched so a future attach can resume draining it.
func (c *Conn) fail(err error) {
	c.connected.Store(false)
	c.lastErr.Store(err)

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.pendingMu.Lock()
	for id, ch := range c.pending {
		select {
		case ch <- pendingSlot{err: err}:
		default:
		}
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	c.terminalsMu.Lock()
	for id, sink := range c.terminals {
		sink.Close()
		delete(c.terminals, id)
	}
	c.terminalsMu.Unlock()

	if c.logger != nil {
		c.logger.Warn("connection failed", "server", c.ServerID, "error", err)
	}
}

// RegisterPending installs a single-shot slot for correlation id, returning
// a function to await it.
func (c *Conn) RegisterPending(id uuid.UUID) func(ctx context.Context, timeout time.Duration) (wire.ResponseEnvelope, error) {
	ch := make(chan pendingSlot, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()

	return func(ctx context.Context, timeout time.Duration) (wire.ResponseEnvelope, error) {
		defer func() {
			c.pendingMu.Lock()
			delete(c.pending, id)
			c.pendingMu.Unlock()
		}()

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case slot := <-ch:
			if slot.err != nil {
				return wire.ResponseEnvelope{}, slot.err
			}
			return slot.resp, nil
		case <-timer.C:
			return wire.ResponseEnvelope{}, errors.New("registry: request timed out")
		case <-ctx.Done():
			return wire.ResponseEnvelope{}, ctx.Err()
		}
	}
}

// DeliverResponse routes a decoded Response frame to its awaiter, if any is
// still registered; otherwise it is logged and dropped.
func (c *Conn) DeliverResponse(resp wire.ResponseEnvelope) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		if c.logger != nil {
			c.logger.Warn("response for unknown correlation id dropped", "server", c.ServerID, "id", resp.ID)
		}
		return
	}
	select {
	case ch <- pendingSlot{resp: resp}:
	default:
	}
}

// RegisterTerminal binds a terminal channel id to its byte sink.
func (c *Conn) RegisterTerminal(id uuid.UUID, sink TerminalSink) {
	c.terminalsMu.Lock()
	defer c.terminalsMu.Unlock()
	c.terminals[id] = sink
}

// RemoveTerminal unbinds a terminal channel id, e.g. on DisconnectTerminal.
func (c *Conn) RemoveTerminal(id uuid.UUID) {
	c.terminalsMu.Lock()
	defer c.terminalsMu.Unlock()
	delete(c.terminals, id)
}

// DeliverTerminal routes inbound Terminal-frame bytes to the bound sink, if
// any; otherwise logged and dropped.
func (c *Conn) DeliverTerminal(id uuid.UUID, data []byte) {
	c.terminalsMu.Lock()
	sink, ok := c.terminals[id]
	c.terminalsMu.Unlock()

	if !ok {
		if c.logger != nil {
			c.logger.Warn("terminal frame for unknown channel dropped", "server", c.ServerID, "channel", id)
		}
		return
	}
	sink.Deliver(data)
}
