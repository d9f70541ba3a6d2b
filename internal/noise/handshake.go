package noise

import (
	"fmt"

	noiselib "github.com/flynn/noise"
)

var cipherSuite = noiselib.NewCipherSuite(noiselib.DH25519, noiselib.CipherChaChaPoly, noiselib.HashSHA256)

// Handshake wraps a Noise XX handshake state bound to a transport-derived
// prologue. The initiator is always the dialer (Periphery connecting to
// Core, or an operator CLI connecting to either).
type Handshake struct {
	hs *noiselib.HandshakeState
}

// New starts a Noise XX handshake for one side of a link.
func New(static StaticKey, prologue []byte, initiator bool) (*Handshake, error) {
	hs, err := noiselib.NewHandshakeState(noiselib.Config{
		CipherSuite: cipherSuite,
		Pattern:     noiselib.HandshakeXX,
		Initiator:   initiator,
		StaticKeypair: noiselib.DHKey{
			Private: static.Private,
			Public:  static.Public,
		},
		Prologue: prologue,
	})
	if err != nil {
		return nil, fmt.Errorf("noise: new handshake state: %w", err)
	}
	return &Handshake{hs: hs}, nil
}

// Sender exchanges one raw handshake message with the peer, carried as a
// Login::Handshake frame by the caller.
type Sender func(msg []byte) error
type Receiver func() ([]byte, error)

// Result is the outcome of a completed handshake: the peer's static public
// key (to be checked against a PinPolicy) and the two directional cipher
// states for the transport's post-handshake traffic.
type Result struct {
	PeerStatic []byte
	Send       *noiselib.CipherState
	Recv       *noiselib.CipherState
}

// RunInitiator drives the three-message XX exchange as the dialer:
// -> e, <- e, ee, s, es, -> s, se.
func RunInitiator(hs *Handshake, send Sender, recv Receiver) (Result, error) {
	msg1, _, _, err := hs.hs.WriteMessage(nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("noise: write msg1: %w", err)
	}
	if err := send(msg1); err != nil {
		return Result{}, fmt.Errorf("noise: send msg1: %w", err)
	}

	msg2, err := recv()
	if err != nil {
		return Result{}, fmt.Errorf("noise: recv msg2: %w", err)
	}
	if _, _, _, err := hs.hs.ReadMessage(nil, msg2); err != nil {
		return Result{}, fmt.Errorf("noise: read msg2: %w", err)
	}

	msg3, cs1, cs2, err := hs.hs.WriteMessage(nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("noise: write msg3: %w", err)
	}
	if err := send(msg3); err != nil {
		return Result{}, fmt.Errorf("noise: send msg3: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return Result{}, fmt.Errorf("noise: handshake not complete after msg3")
	}

	return Result{PeerStatic: hs.hs.PeerStatic(), Send: cs1, Recv: cs2}, nil
}

// RunResponder drives the three-message XX exchange as the listener.
func RunResponder(hs *Handshake, send Sender, recv Receiver) (Result, error) {
	msg1, err := recv()
	if err != nil {
		return Result{}, fmt.Errorf("noise: recv msg1: %w", err)
	}
	if _, _, _, err := hs.hs.ReadMessage(nil, msg1); err != nil {
		return Result{}, fmt.Errorf("noise: read msg1: %w", err)
	}

	msg2, _, _, err := hs.hs.WriteMessage(nil, nil)
	if err != nil {
		return Result{}, fmt.Errorf("noise: write msg2: %w", err)
	}
	if err := send(msg2); err != nil {
		return Result{}, fmt.Errorf("noise: send msg2: %w", err)
	}

	msg3, err := recv()
	if err != nil {
		return Result{}, fmt.Errorf("noise: recv msg3: %w", err)
	}
	_, cs1, cs2, err := hs.hs.ReadMessage(nil, msg3)
	if err != nil {
		return Result{}, fmt.Errorf("noise: read msg3: %w", err)
	}
	if cs1 == nil || cs2 == nil {
		return Result{}, fmt.Errorf("noise: handshake not complete after msg3")
	}

	return Result{PeerStatic: hs.hs.PeerStatic(), Send: cs2, Recv: cs1}, nil
}
