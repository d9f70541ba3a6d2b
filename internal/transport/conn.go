// Package transport implements the single long-lived WebSocket link between
// Core and a Periphery: framing, the Noise XX login exchange, and a
// fixed-backoff reconnect loop for the dialing side.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nhooyr.io/websocket"

	"github.com/dockfleet/conduit/internal/wire"
)

// Conn is one WebSocket carrying the TransportMessage framing described in
// wire.Frame. Every WS binary message holds exactly one Frame.
type Conn struct {
	ws  *websocket.Conn
	ctx context.Context
	mu  sync.Mutex
}

// NewConn wraps an already-established WebSocket connection.
func NewConn(ctx context.Context, ws *websocket.Conn) *Conn {
	return &Conn{ws: ws, ctx: ctx}
}

// ReadFrame reads and decodes the next frame. A clean WebSocket closure is
// reported as (Frame{}, io.EOF)-equivalent via a nil error and zero Frame
// so callers can distinguish it from a transport error.
func (c *Conn) ReadFrame() (wire.Frame, bool, error) {
	return c.ReadFrameContext(c.ctx)
}

// ReadFrameContext is ReadFrame bounded by ctx instead of the connection's
// lifetime context, used to put a deadline on the login exchange.
func (c *Conn) ReadFrameContext(ctx context.Context) (wire.Frame, bool, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return wire.Frame{}, false, nil
		}
		return wire.Frame{}, false, err
	}
	f, err := wire.Decode(data)
	if err != nil {
		return wire.Frame{}, false, fmt.Errorf("transport: decoding frame: %w", err)
	}
	return f, true, nil
}

// WriteFrame encodes and writes a frame. Safe for concurrent use.
func (c *Conn) WriteFrame(f wire.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.Write(c.ctx, websocket.MessageBinary, f.Encode()); err != nil {
		return fmt.Errorf("transport: writing frame: %w", err)
	}
	return nil
}

// Close sends a normal closure and closes the underlying WebSocket.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}
