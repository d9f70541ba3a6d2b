package transport

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/dockfleet/conduit/internal/noise"
	"github.com/dockfleet/conduit/internal/wire"
)

// LoginConfig carries everything one side of a link needs to authenticate
// the other: the Noise static identity, the pin policy to apply to the
// peer's revealed public key, and the legacy Core->Periphery passkey
// fallback (off by default).
type LoginConfig struct {
	Static              noise.StaticKey
	Pin                 *noise.PinPolicy
	EnableLegacyPasskey bool
	Passkey             []byte // used by the initiator when EnableLegacyPasskey
	AcceptedPasskeys    [][]byte // used by the responder when EnableLegacyPasskey
}

// HandshakeTimeout bounds the whole login exchange on either side.
const HandshakeTimeout = 2 * time.Second

func readFrame(ctx context.Context, conn *Conn, want wire.Tag) (wire.Frame, error) {
	f, ok, err := conn.ReadFrameContext(ctx)
	if err != nil {
		return wire.Frame{}, err
	}
	if !ok {
		return wire.Frame{}, fmt.Errorf("transport: connection closed during login")
	}
	if f.Tag != want {
		return wire.Frame{}, fmt.Errorf("transport: expected %s, got %s", want, f.Tag)
	}
	return f, nil
}

// PerformInitiatorLogin runs the dialer side of the login exchange: receive
// the responder's nonce, run Noise XX (or the legacy passkey preamble),
// validate the peer's static key, and exchange Login::Success/Error
// verdicts.
func PerformInitiatorLogin(ctx context.Context, conn *Conn, host, query, accept string, cfg LoginConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	nonceFrame, err := readFrame(ctx, conn, wire.TagLoginNonce)
	if err != nil {
		return nil, fmt.Errorf("transport: reading login nonce: %w", err)
	}
	if len(nonceFrame.Payload) != 32 {
		return nil, fmt.Errorf("transport: login nonce has wrong length %d", len(nonceFrame.Payload))
	}

	if cfg.EnableLegacyPasskey {
		if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginV1PasskeyF, Payload: wire.EncodeBool(true)}); err != nil {
			return nil, err
		}
		if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginV1Passkey, Payload: cfg.Passkey}); err != nil {
			return nil, err
		}
		if _, err := readFrame(ctx, conn, wire.TagLoginSuccess); err != nil {
			return nil, fmt.Errorf("transport: legacy passkey login rejected: %w", err)
		}
		return nil, nil
	}

	if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginV1PasskeyF, Payload: wire.EncodeBool(false)}); err != nil {
		return nil, err
	}

	var nonce [32]byte
	copy(nonce[:], nonceFrame.Payload)
	prologue := noise.ComputePrologue(host, query, accept, nonce)

	hs, err := noise.New(cfg.Static, prologue, true)
	if err != nil {
		return nil, err
	}

	result, err := noise.RunInitiator(hs,
		func(msg []byte) error {
			return conn.WriteFrame(wire.Frame{Tag: wire.TagLoginHandshake, Payload: msg})
		},
		func() ([]byte, error) {
			f, err := readFrame(ctx, conn, wire.TagLoginHandshake)
			return f.Payload, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("transport: noise handshake: %w", err)
	}

	return finishLogin(ctx, conn, cfg.Pin, result.PeerStatic)
}

// PerformResponderLogin runs the listener side of the login exchange. The
// caller supplies the server-generated nonce bound into the prologue, and
// the Sec-Websocket-Accept value this connection's upgrade produced.
func PerformResponderLogin(ctx context.Context, conn *Conn, host, query, accept string, nonce [32]byte, cfg LoginConfig) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginNonce, Payload: nonce[:]}); err != nil {
		return nil, err
	}

	legacyFrame, err := readFrame(ctx, conn, wire.TagLoginV1PasskeyF)
	if err != nil {
		return nil, err
	}

	if wire.DecodeBool(legacyFrame.Payload) {
		if !cfg.EnableLegacyPasskey {
			_ = conn.WriteFrame(wire.Frame{Tag: wire.TagLoginError, Payload: []byte("legacy passkey flow disabled")})
			return nil, fmt.Errorf("transport: peer requested disabled legacy passkey flow")
		}
		passkeyFrame, err := readFrame(ctx, conn, wire.TagLoginV1Passkey)
		if err != nil {
			return nil, err
		}
		if !passkeyAccepted(passkeyFrame.Payload, cfg.AcceptedPasskeys) {
			_ = conn.WriteFrame(wire.Frame{Tag: wire.TagLoginError, Payload: []byte("invalid passkey")})
			return nil, fmt.Errorf("transport: invalid legacy passkey")
		}
		if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginSuccess}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	prologue := noise.ComputePrologue(host, query, accept, nonce)
	hs, err := noise.New(cfg.Static, prologue, false)
	if err != nil {
		return nil, err
	}

	result, err := noise.RunResponder(hs,
		func(msg []byte) error {
			return conn.WriteFrame(wire.Frame{Tag: wire.TagLoginHandshake, Payload: msg})
		},
		func() ([]byte, error) {
			f, err := readFrame(ctx, conn, wire.TagLoginHandshake)
			return f.Payload, err
		},
	)
	if err != nil {
		return nil, fmt.Errorf("transport: noise handshake: %w", err)
	}

	return finishLogin(ctx, conn, cfg.Pin, result.PeerStatic)
}

// finishLogin applies the pin policy to a peer's revealed static key and
// exchanges Login::Success/Error verdicts with the peer; each side
// validates independently.
func finishLogin(ctx context.Context, conn *Conn, pin *noise.PinPolicy, peerStatic []byte) ([]byte, error) {
	ok, err := pin.Validate(peerStatic)
	if err != nil {
		return nil, fmt.Errorf("transport: pin validation: %w", err)
	}
	if !ok {
		_ = conn.WriteFrame(wire.Frame{Tag: wire.TagLoginError, Payload: []byte("public key not pinned")})
		// The offending key is still returned alongside the error so the
		// caller can record it.
		return peerStatic, fmt.Errorf("transport: peer static key rejected by pin policy")
	}
	if err := conn.WriteFrame(wire.Frame{Tag: wire.TagLoginSuccess}); err != nil {
		return nil, err
	}

	f, ok2, err := conn.ReadFrameContext(ctx)
	if err != nil {
		return nil, err
	}
	if !ok2 {
		return nil, fmt.Errorf("transport: connection closed awaiting peer verdict")
	}
	switch f.Tag {
	case wire.TagLoginSuccess:
		return peerStatic, nil
	case wire.TagLoginError:
		return nil, fmt.Errorf("transport: peer rejected login: %s", f.Payload)
	default:
		return nil, fmt.Errorf("transport: expected login verdict, got %s", f.Tag)
	}
}

func passkeyAccepted(got []byte, accepted [][]byte) bool {
	for _, k := range accepted {
		if len(k) == len(got) && subtle.ConstantTimeCompare(k, got) == 1 {
			return true
		}
	}
	return false
}
