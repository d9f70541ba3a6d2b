package noise

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// NewHandshakeNonce draws the 32 random bytes the responder includes fresh
// in every handshake to prevent prologue replay across connections.
func NewHandshakeNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, fmt.Errorf("noise: generating handshake nonce: %w", err)
	}
	return nonce, nil
}

// ComputePrologue binds the Noise session to the HTTP/WS framing that
// carried it: H = SHA-256("noise-wss-v1|" || host || "|" || query || "|" ||
// accept || "|" || nonce). Altering any of these between the two sides
// makes the handshake fail before Login::Success.
func ComputePrologue(host, query, accept string, nonce [32]byte) []byte {
	h := sha256.New()
	h.Write([]byte("noise-wss-v1|"))
	h.Write([]byte(host))
	h.Write([]byte("|"))
	h.Write([]byte(query))
	h.Write([]byte("|"))
	h.Write([]byte(accept))
	h.Write([]byte("|"))
	h.Write(nonce[:])
	return h.Sum(nil)
}
