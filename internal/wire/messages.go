package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ResponseStatus is the single status byte carried by a Response frame.
type ResponseStatus byte

const (
	StatusOk  ResponseStatus = 0
	StatusErr ResponseStatus = 1
)

// RequestEnvelope is the decoded payload of a TagRequest frame:
// UUID16 || Kind(varint-length-prefixed string) || body.
type RequestEnvelope struct {
	ID   uuid.UUID
	Kind string
	Body json.RawMessage
}

// ResponseEnvelope is the decoded payload of a TagResponse frame:
// UUID16 || status(1) || body.
type ResponseEnvelope struct {
	ID     uuid.UUID
	Status ResponseStatus
	Body   json.RawMessage
}

// TerminalEnvelope is the decoded payload of a TagTerminal frame:
// UUID16 || bytes.
type TerminalEnvelope struct {
	ChannelID uuid.UUID
	Data      []byte
}

func EncodeRequest(r RequestEnvelope) []byte {
	kindLen := make([]byte, binary.MaxVarintLen64)
	n := binary.PutUvarint(kindLen, uint64(len(r.Kind)))
	out := make([]byte, 0, 16+n+len(r.Kind)+len(r.Body))
	out = append(out, r.ID[:]...)
	out = append(out, kindLen[:n]...)
	out = append(out, r.Kind...)
	out = append(out, r.Body...)
	return out
}

func DecodeRequest(payload []byte) (RequestEnvelope, error) {
	if len(payload) < 16 {
		return RequestEnvelope{}, fmt.Errorf("wire: request payload too short")
	}
	var id uuid.UUID
	copy(id[:], payload[:16])
	rest := payload[16:]

	kindLen, n := binary.Uvarint(rest)
	if n <= 0 {
		return RequestEnvelope{}, fmt.Errorf("wire: invalid request kind length")
	}
	rest = rest[n:]
	if uint64(len(rest)) < kindLen {
		return RequestEnvelope{}, fmt.Errorf("wire: truncated request kind")
	}
	kind := string(rest[:kindLen])
	body := rest[kindLen:]

	return RequestEnvelope{ID: id, Kind: kind, Body: json.RawMessage(body)}, nil
}

func EncodeResponse(r ResponseEnvelope) []byte {
	out := make([]byte, 0, 17+len(r.Body))
	out = append(out, r.ID[:]...)
	out = append(out, byte(r.Status))
	out = append(out, r.Body...)
	return out
}

func DecodeResponse(payload []byte) (ResponseEnvelope, error) {
	if len(payload) < 17 {
		return ResponseEnvelope{}, fmt.Errorf("wire: response payload too short")
	}
	var id uuid.UUID
	copy(id[:], payload[:16])
	status := ResponseStatus(payload[16])
	body := payload[17:]
	return ResponseEnvelope{ID: id, Status: status, Body: json.RawMessage(body)}, nil
}

func EncodeTerminal(t TerminalEnvelope) []byte {
	out := make([]byte, 0, 16+len(t.Data))
	out = append(out, t.ChannelID[:]...)
	out = append(out, t.Data...)
	return out
}

func DecodeTerminal(payload []byte) (TerminalEnvelope, error) {
	if len(payload) < 16 {
		return TerminalEnvelope{}, fmt.Errorf("wire: terminal payload too short")
	}
	var id uuid.UUID
	copy(id[:], payload[:16])
	return TerminalEnvelope{ChannelID: id, Data: payload[16:]}, nil
}

// Terminal stdin inner-framing tags (first byte of a TerminalEnvelope.Data
// sent from Core to Periphery for a live terminal channel).
const (
	TerminalStdinRaw    byte = 0x00
	TerminalStdinResize byte = 0xFF
)

// ResizeMessage is the JSON body following a TerminalStdinResize tag byte.
type ResizeMessage struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// Login payload helpers. Login::Handshake/V1Passkey/PublicKey/Error carry
// raw bytes or utf-8 text directly as the frame payload; Login::Nonce is
// exactly 32 bytes; Login::V1PasskeyFlow is one bool byte; Login::Success
// is empty. These need no envelope beyond the Frame itself.

func EncodeBool(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func DecodeBool(payload []byte) bool {
	return len(payload) > 0 && payload[0] != 0
}
