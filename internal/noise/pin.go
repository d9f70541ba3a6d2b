package noise

import (
	"crypto/subtle"
	"fmt"
	"os"
	"path/filepath"
)

// PinPolicy decides whether a peer's static public key, as revealed by a
// completed Noise XX handshake, is acceptable. It is evaluated in order:
//
//  1. an explicit Expected key for this peer must match exactly;
//  2. otherwise, a global Acceptable set must contain the key;
//  3. otherwise, if TOFU is enabled (outbound dialer with no pin yet), the
//     key is accepted and persisted to PinFile, becoming the Expected key
//     for every future handshake with this peer;
//  4. otherwise the key is rejected.
type PinPolicy struct {
	Expected   []byte
	Acceptable [][]byte
	TOFU       bool
	PinFile    string
}

// LoadPinPolicy builds a PinPolicy for a peer, reading any existing pin from
// pinFile as the Expected key.
func LoadPinPolicy(pinFile string, acceptable [][]byte, tofu bool) (*PinPolicy, error) {
	p := &PinPolicy{Acceptable: acceptable, TOFU: tofu, PinFile: pinFile}
	if pinFile == "" {
		return p, nil
	}
	data, err := os.ReadFile(pinFile)
	if err == nil {
		pub, err := DecodePublicPEM(data)
		if err != nil {
			return nil, fmt.Errorf("noise: parsing pin file %s: %w", pinFile, err)
		}
		p.Expected = pub
		return p, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("noise: reading pin file %s: %w", pinFile, err)
	}
	return p, nil
}

// Validate applies the pin policy to a received static public key.
func (p *PinPolicy) Validate(received []byte) (bool, error) {
	if p.Expected != nil {
		return constantTimeEqual(p.Expected, received), nil
	}
	if len(p.Acceptable) > 0 {
		for _, k := range p.Acceptable {
			if constantTimeEqual(k, received) {
				return true, nil
			}
		}
		return false, nil
	}
	if p.TOFU && p.PinFile != "" {
		if err := p.persist(received); err != nil {
			return false, err
		}
		p.Expected = received
		return true, nil
	}
	return false, nil
}

func (p *PinPolicy) persist(pub []byte) error {
	if err := os.MkdirAll(filepath.Dir(p.PinFile), 0o755); err != nil {
		return fmt.Errorf("noise: creating pin dir: %w", err)
	}
	if err := os.WriteFile(p.PinFile, EncodePublicPEM(pub), keyFilePerms); err != nil {
		return fmt.Errorf("noise: writing pin file: %w", err)
	}
	return nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}
