package terminal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/wire"
)

// PeripherySink is the Periphery-side end of one forwarded terminal
// channel: it drives a real Terminal from frames the Core sends, and
// forwards the Terminal's stdout back to the Core as TagTerminal frames.
// Implements TerminalSink (registered into the registry under the channel
// id by the caller). Ordering: start trigger, then non-empty history
// chunks, then the live stream; stdin framing 0x00=raw, 0xFF=resize,
// anything else=raw including the leading byte.
type PeripherySink struct {
	channelID uuid.UUID
	conn      *registry.Conn
	term      *Terminal
	subID     uint64
	subCh     <-chan []byte
	done      chan struct{}
	logger    *slog.Logger

	startOnce sync.Once
	started   atomic.Bool
}

// AttachPeriphery registers a sink for channelID on conn, wired to term, but
// does not replay history or forward any output yet. Forwarding must not
// begin until the zero-length start-trigger frame arrives from Core, so
// the initial history replay cannot race the live stream; the trigger
// arrives through Deliver and is handled by beginStreaming, which runs at
// most once.
func AttachPeriphery(conn *registry.Conn, channelID uuid.UUID, term *Terminal, logger *slog.Logger) *PeripherySink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PeripherySink{
		channelID: channelID,
		conn:      conn,
		term:      term,
		done:      make(chan struct{}),
		logger:    logger,
	}
	conn.RegisterTerminal(channelID, s)
	return s
}

// beginStreaming replays history then starts the live forwarding pump. It
// runs exactly once, triggered by the first empty Deliver call (the start
// trigger sent by Core), regardless of how many such frames arrive.
func (s *PeripherySink) beginStreaming() {
	s.startOnce.Do(func() {
		for _, chunk := range s.term.History() {
			s.sendFrame(chunk)
		}
		s.subID, s.subCh = s.term.Subscribe(256)
		s.started.Store(true)
		go s.pump()
	})
}

func (s *PeripherySink) pump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.term.Done():
			return
		case data, ok := <-s.subCh:
			if !ok {
				return
			}
			s.sendFrame(data)
		}
	}
}

func (s *PeripherySink) sendFrame(data []byte) {
	frame := wire.Frame{
		Tag:     wire.TagTerminal,
		Payload: wire.EncodeTerminal(wire.TerminalEnvelope{ChannelID: s.channelID, Data: data}),
	}
	if err := s.conn.Enqueue(frame); err != nil {
		s.logger.Warn("dropping terminal output frame, outbox full", "channel", s.channelID, "error", err)
	}
}

// Deliver decodes one inbound stdin/resize frame from the Core and applies
// it to the underlying Terminal. An empty frame is the start trigger: the
// first one received flips this sink into streaming mode (history replay,
// then live output); later ones are no-ops.
func (s *PeripherySink) Deliver(data []byte) {
	if len(data) == 0 {
		s.beginStreaming()
		return
	}
	switch data[0] {
	case wire.TerminalStdinRaw:
		if err := s.term.Write(data[1:]); err != nil {
			s.logger.Warn("terminal write failed", "channel", s.channelID, "error", err)
		}
	case wire.TerminalStdinResize:
		var resize wire.ResizeMessage
		if err := json.Unmarshal(data[1:], &resize); err != nil {
			s.logger.Warn("malformed resize message", "channel", s.channelID, "error", err)
			return
		}
		if err := s.term.Resize(resize.Rows, resize.Cols); err != nil {
			s.logger.Warn("terminal resize failed", "channel", s.channelID, "error", err)
		}
	default:
		if err := s.term.Write(data); err != nil {
			s.logger.Warn("terminal write failed", "channel", s.channelID, "error", err)
		}
	}
}

// Close stops forwarding and unregisters this sink.
func (s *PeripherySink) Close() {
	select {
	case <-s.done:
		return
	default:
		close(s.done)
	}
	if s.started.Load() {
		s.term.Unsubscribe(s.subID)
	}
	s.conn.RemoveTerminal(s.channelID)
}

// RemoteWriter is the Core/fleetctl-side handle for one open terminal
// channel. It encodes local keystrokes/resizes into the inner stdin framing
// and enqueues them as request-direction TagTerminal frames toward the
// Periphery driving the real PTY.
type RemoteWriter struct {
	channelID uuid.UUID
	conn      *registry.Conn
}

func NewRemoteWriter(conn *registry.Conn, channelID uuid.UUID) *RemoteWriter {
	return &RemoteWriter{channelID: channelID, conn: conn}
}

func (w *RemoteWriter) WriteRaw(data []byte) error {
	payload := make([]byte, 0, len(data)+1)
	payload = append(payload, wire.TerminalStdinRaw)
	payload = append(payload, data...)
	return w.send(payload)
}

// SendStart sends the zero-length start trigger that tells Periphery to
// begin history replay and live forwarding.
func (w *RemoteWriter) SendStart() error {
	return w.send(nil)
}

// SendInner enqueues payload verbatim as this channel's next inner frame.
// Used by a relaying Core endpoint that already received a fully-tagged
// inner frame from the user side and has no need to interpret it before
// forwarding it on to Periphery.
func (w *RemoteWriter) SendInner(payload []byte) error {
	return w.send(payload)
}

func (w *RemoteWriter) Resize(rows, cols uint16) error {
	body, err := json.Marshal(wire.ResizeMessage{Rows: rows, Cols: cols})
	if err != nil {
		return fmt.Errorf("terminal: marshaling resize message: %w", err)
	}
	payload := make([]byte, 0, len(body)+1)
	payload = append(payload, wire.TerminalStdinResize)
	payload = append(payload, body...)
	return w.send(payload)
}

func (w *RemoteWriter) send(payload []byte) error {
	frame := wire.Frame{
		Tag:     wire.TagTerminal,
		Payload: wire.EncodeTerminal(wire.TerminalEnvelope{ChannelID: w.channelID, Data: payload}),
	}
	return w.conn.Enqueue(frame)
}

// StreamSink is the Core/fleetctl-side TerminalSink that receives a remote
// Terminal's output: the start trigger (empty Deliver call) invokes
// OnStart exactly once, and every subsequent non-empty Deliver call invokes
// OnData with the raw bytes to render locally.
type StreamSink struct {
	OnStart func()
	OnData  func([]byte)
	OnClose func()

	startSeen bool
}

func (s *StreamSink) Deliver(data []byte) {
	if !s.startSeen {
		s.startSeen = true
		if s.OnStart != nil {
			s.OnStart()
		}
		if len(data) == 0 {
			return
		}
	}
	if len(data) > 0 && s.OnData != nil {
		s.OnData(data)
	}
}

func (s *StreamSink) Close() {
	if s.OnClose != nil {
		s.OnClose()
	}
}
