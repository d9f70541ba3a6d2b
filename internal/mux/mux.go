// Package mux implements request/response multiplexing over one
// registry.Conn: correlated requests, streaming terminal sub-channels, and
// the server-side dispatch table.
package mux

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/wire"
)

// DefaultTimeout is the per-call timeout applied when the caller doesn't
// specify one.
const DefaultTimeout = 10 * time.Second

// Handler answers one Request kind. The returned value is marshaled into
// the Response body; a non-nil error is reported as StatusErr with the
// error's message as the body.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// Handlers is the dispatch table a responder (Core or Periphery) supplies
// to ServeConn, keyed by RequestEnvelope.Kind.
type Handlers map[string]Handler

// SendRequest mints a correlation id, registers a response slot, enqueues
// the encoded Request frame, and awaits the reply with the given timeout
//. On timeout or connection drop the
// request fails with a retriable error; callers are expected to retry
// idempotent kinds.
func SendRequest[T any](ctx context.Context, c *registry.Conn, kind string, body any, timeout time.Duration) (T, error) {
	var zero T

	payload, err := json.Marshal(body)
	if err != nil {
		return zero, fmt.Errorf("mux: marshaling request body: %w", err)
	}

	id := uuid.New()
	await := c.RegisterPending(id)

	frame := wire.Frame{
		Tag: wire.TagRequest,
		Payload: wire.EncodeRequest(wire.RequestEnvelope{
			ID:   id,
			Kind: kind,
			Body: payload,
		}),
	}
	if err := c.Enqueue(frame); err != nil {
		return zero, fmt.Errorf("mux: enqueueing request: %w", err)
	}

	resp, err := await(ctx, timeout)
	if err != nil {
		return zero, fmt.Errorf("mux: request %s: %w", kind, err)
	}
	if resp.Status == wire.StatusErr {
		return zero, fmt.Errorf("mux: request %s failed: %s", kind, resp.Body)
	}
	var out T
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &out); err != nil {
			return zero, fmt.Errorf("mux: decoding response body for %s: %w", kind, err)
		}
	}
	return out, nil
}

// WaitConnected polls c.Connected three times at 500ms spacing and returns
// the last stored error if still disconnected after the third poll, for
// callers that want to bail rather than queue into the outbox.
func WaitConnected(ctx context.Context, c *registry.Conn) error {
	for i := 0; i < 3; i++ {
		if c.Connected() {
			return nil
		}
		if i == 2 {
			break
		}
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := c.LastError(); err != nil {
		return fmt.Errorf("mux: not connected: %w", err)
	}
	return errors.New("mux: not connected")
}

// ServeConn reads frames from c's live transport until it closes or ctx is
// cancelled, dispatching Response and Terminal frames to c's registered
// slots and Request frames to handlers. Unknown request kinds and
// transport errors are warn-logged and do not crash the loop; nothing is
// dropped silently.
func ServeConn(ctx context.Context, c *registry.Conn, handlers Handlers, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	tc := c.Transport()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		f, ok, err := tc.ReadFrame()
		if err != nil {
			return fmt.Errorf("mux: reading frame: %w", err)
		}
		if !ok {
			return nil
		}

		switch f.Tag {
		case wire.TagResponse:
			resp, err := wire.DecodeResponse(f.Payload)
			if err != nil {
				logger.Warn("dropping malformed response frame", "error", err)
				continue
			}
			c.DeliverResponse(resp)

		case wire.TagTerminal:
			term, err := wire.DecodeTerminal(f.Payload)
			if err != nil {
				logger.Warn("dropping malformed terminal frame", "error", err)
				continue
			}
			c.DeliverTerminal(term.ChannelID, term.Data)

		case wire.TagRequest:
			req, err := wire.DecodeRequest(f.Payload)
			if err != nil {
				logger.Warn("dropping malformed request frame", "error", err)
				continue
			}
			go dispatch(ctx, c, handlers, req, logger)

		default:
			logger.Warn("dropping unknown frame tag", "tag", f.Tag)
		}
	}
}

func dispatch(ctx context.Context, c *registry.Conn, handlers Handlers, req wire.RequestEnvelope, logger *slog.Logger) {
	h, ok := handlers[req.Kind]
	if !ok {
		enqueueError(c, req.ID, fmt.Sprintf("unknown request kind %q", req.Kind), logger)
		return
	}

	result, err := h(ctx, req.Body)
	if err != nil {
		enqueueError(c, req.ID, err.Error(), logger)
		return
	}

	body, err := json.Marshal(result)
	if err != nil {
		enqueueError(c, req.ID, fmt.Sprintf("marshaling response: %v", err), logger)
		return
	}

	frame := wire.Frame{
		Tag: wire.TagResponse,
		Payload: wire.EncodeResponse(wire.ResponseEnvelope{
			ID:     req.ID,
			Status: wire.StatusOk,
			Body:   body,
		}),
	}
	if err := c.Enqueue(frame); err != nil && logger != nil {
		logger.Warn("failed to enqueue response", "error", err)
	}
}

func enqueueError(c *registry.Conn, id uuid.UUID, msg string, logger *slog.Logger) {
	frame := wire.Frame{
		Tag: wire.TagResponse,
		Payload: wire.EncodeResponse(wire.ResponseEnvelope{
			ID:     id,
			Status: wire.StatusErr,
			Body:   []byte(msg),
		}),
	}
	if err := c.Enqueue(frame); err != nil && logger != nil {
		logger.Warn("failed to enqueue error response", "error", err)
	}
}
