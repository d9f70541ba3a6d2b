package registry

import (
	"fmt"

	"github.com/dockfleet/conduit/internal/wire"
)

// outbox is the bounded, ordered queue of not-yet-acknowledged frames for one
// Conn. A frame is removed only once the pump has confirmed the underlying
// socket write returned Ok; on socket failure the frame stays at the front
// and is retried against the next replacement socket. This gives
// at-least-once delivery of pending requests across reconnects.
type outbox struct {
	capacity int
	queue    []wire.Frame
	notify   chan struct{}
}

func newOutbox(capacity int) *outbox {
	return &outbox{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends frame to the queue. It does not hold any lock of its own —
// callers (Conn) must serialise access; see Conn.mu.
func (o *outbox) push(frame wire.Frame) error {
	if len(o.queue) >= o.capacity {
		return fmt.Errorf("registry: outbox full (capacity %d)", o.capacity)
	}
	o.queue = append(o.queue, frame)
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

func (o *outbox) front() (wire.Frame, bool) {
	if len(o.queue) == 0 {
		return wire.Frame{}, false
	}
	return o.queue[0], true
}

func (o *outbox) popFront() {
	if len(o.queue) == 0 {
		return
	}
	o.queue[0] = wire.Frame{}
	o.queue = o.queue[1:]
}

func (o *outbox) len() int {
	return len(o.queue)
}
