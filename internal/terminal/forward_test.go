package terminal

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/dockfleet/conduit/internal/registry"
	"github.com/dockfleet/conduit/internal/wire"
)

// recordingTransport is a minimal registry.Transport that records every
// frame written to it, used to observe what AttachPeriphery/RemoteWriter
// enqueue without a real socket.
type recordingTransport struct {
	mu      sync.Mutex
	written []wire.Frame
	onWrite chan wire.Frame
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{onWrite: make(chan wire.Frame, 64)}
}

func (t *recordingTransport) WriteFrame(f wire.Frame) error {
	t.mu.Lock()
	t.written = append(t.written, f)
	t.mu.Unlock()
	t.onWrite <- f
	return nil
}

func (t *recordingTransport) ReadFrame() (wire.Frame, bool, error) { return wire.Frame{}, false, nil }
func (t *recordingTransport) Close() error                         { return nil }

func nextTerminalFrame(t *testing.T, tc *recordingTransport) wire.TerminalEnvelope {
	t.Helper()
	select {
	case f := <-tc.onWrite:
		if f.Tag != wire.TagTerminal {
			t.Fatalf("expected a TagTerminal frame, got tag %d", f.Tag)
		}
		env, err := wire.DecodeTerminal(f.Payload)
		if err != nil {
			t.Fatalf("DecodeTerminal: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a terminal frame")
	}
	return wire.TerminalEnvelope{}
}

func TestAttachPeripheryWaitsForStartTriggerThenReplaysHistory(t *testing.T) {
	reg := registry.New(nil)
	tc := newRecordingTransport()
	c, _ := reg.InsertOrReplace(context.Background(), "srv1", registry.Args{}, tc)

	term, err := Spawn(context.Background(), "shell", []string{"/bin/sh", "-c", "printf hi; sleep 5"}, "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer term.Kill()

	// Give the shell a moment to emit its output before we attach, so it
	// lands in history rather than the live stream.
	time.Sleep(200 * time.Millisecond)

	channelID := uuid.New()
	sink := AttachPeriphery(c, channelID, term, nil)
	defer sink.Close()

	select {
	case f := <-tc.onWrite:
		t.Fatalf("expected no output before the start trigger, got frame %+v", f)
	case <-time.After(100 * time.Millisecond):
	}

	// Core's zero-length start trigger arrives on the channel; only now may
	// Periphery begin replaying history.
	sink.Deliver(nil)

	history := nextTerminalFrame(t, tc)
	if history.ChannelID != channelID {
		t.Fatalf("history frame channel id = %v, want %v", history.ChannelID, channelID)
	}
	if string(history.Data) != "hi" {
		t.Fatalf("history frame = %q, want %q", history.Data, "hi")
	}

	// A second start trigger must not re-replay history.
	sink.Deliver(nil)
	select {
	case f := <-tc.onWrite:
		t.Fatalf("expected no re-replay on a second start trigger, got frame %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeripherySinkDeliverRoutesRawAndResize(t *testing.T) {
	reg := registry.New(nil)
	tc := newRecordingTransport()
	c, _ := reg.InsertOrReplace(context.Background(), "srv1", registry.Args{}, tc)

	term, err := Spawn(context.Background(), "cat", []string{"/bin/cat"}, "", nil)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer term.Kill()

	channelID := uuid.New()
	sink := AttachPeriphery(c, channelID, term, nil)
	defer sink.Close()

	sink.Deliver(nil) // start trigger from Core

	raw := append([]byte{wire.TerminalStdinRaw}, []byte("echo\n")...)
	sink.Deliver(raw)

	echoed := nextTerminalFrame(t, tc)
	if string(echoed.Data) != "echo\n" {
		t.Fatalf("echoed data = %q, want %q", echoed.Data, "echo\n")
	}

	resizeBody, _ := json.Marshal(wire.ResizeMessage{Rows: 40, Cols: 100})
	resizeMsg := append([]byte{wire.TerminalStdinResize}, resizeBody...)
	sink.Deliver(resizeMsg) // should not panic or write to the pty
}

func TestRemoteWriterEncodesStdinFraming(t *testing.T) {
	reg := registry.New(nil)
	tc := newRecordingTransport()
	c, _ := reg.InsertOrReplace(context.Background(), "srv1", registry.Args{}, tc)

	channelID := uuid.New()
	w := NewRemoteWriter(c, channelID)

	if err := w.WriteRaw([]byte("ls\n")); err != nil {
		t.Fatalf("WriteRaw: %v", err)
	}
	env := nextTerminalFrame(t, tc)
	if env.Data[0] != wire.TerminalStdinRaw {
		t.Fatalf("expected raw tag byte, got %d", env.Data[0])
	}
	if string(env.Data[1:]) != "ls\n" {
		t.Fatalf("payload = %q, want %q", env.Data[1:], "ls\n")
	}

	if err := w.Resize(24, 80); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	env = nextTerminalFrame(t, tc)
	if env.Data[0] != wire.TerminalStdinResize {
		t.Fatalf("expected resize tag byte, got %d", env.Data[0])
	}
	var resize wire.ResizeMessage
	if err := json.Unmarshal(env.Data[1:], &resize); err != nil {
		t.Fatalf("Unmarshal resize body: %v", err)
	}
	if resize.Rows != 24 || resize.Cols != 80 {
		t.Fatalf("resize = %+v, want rows=24 cols=80", resize)
	}
}

func TestStreamSinkInvokesStartOnceThenData(t *testing.T) {
	var starts int
	var chunks [][]byte
	s := &StreamSink{
		OnStart: func() { starts++ },
		OnData:  func(b []byte) { chunks = append(chunks, append([]byte(nil), b...)) },
	}

	s.Deliver(nil) // start trigger
	s.Deliver([]byte("hello"))
	s.Deliver([]byte("world"))

	if starts != 1 {
		t.Fatalf("OnStart called %d times, want 1", starts)
	}
	if len(chunks) != 2 || string(chunks[0]) != "hello" || string(chunks[1]) != "world" {
		t.Fatalf("chunks = %q", chunks)
	}
}

func TestStreamSinkClose(t *testing.T) {
	closed := false
	s := &StreamSink{OnClose: func() { closed = true }}
	s.Close()
	if !closed {
		t.Fatal("expected OnClose to be invoked")
	}
}
