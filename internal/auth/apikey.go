package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
)

const keyLength = 32

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// KeyPair is an API key/secret pair: the key identifies the caller, the
// secret authenticates it. Comparison is always constant-time.
type KeyPair struct {
	Key    string
	Secret string
}

// GenerateKeyPair returns a freshly generated random key and secret.
func GenerateKeyPair() (KeyPair, error) {
	key, err := randomAlphanumeric(keyLength)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: generate key: %w", err)
	}
	secret, err := randomAlphanumeric(keyLength)
	if err != nil {
		return KeyPair{}, fmt.Errorf("auth: generate secret: %w", err)
	}
	return KeyPair{Key: key, Secret: secret}, nil
}

// KeyStore holds the set of valid API key/secret pairs this process will
// accept, keyed by the public key half.
type KeyStore struct {
	mu    sync.RWMutex
	pairs map[string]string // key -> secret
}

// NewKeyStore builds a KeyStore seeded with pairs.
func NewKeyStore(pairs ...KeyPair) *KeyStore {
	s := &KeyStore{pairs: make(map[string]string, len(pairs))}
	for _, p := range pairs {
		s.pairs[p.Key] = p.Secret
	}
	return s
}

// Add registers or replaces the secret for key.
func (s *KeyStore) Add(pair KeyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.Key] = pair.Secret
}

// Remove deletes key from the store.
func (s *KeyStore) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pairs, key)
}

// Verify reports whether key/secret is a registered pair, comparing the
// secret in constant time to avoid leaking timing information about how
// many leading bytes matched.
func (s *KeyStore) Verify(key, secret string) bool {
	s.mu.RLock()
	stored, ok := s.pairs[key]
	s.mu.RUnlock()
	if !ok {
		// Still run a comparison against a fixed buffer so a caller
		// cannot distinguish "unknown key" from "known key, wrong
		// secret" purely by timing.
		subtle.ConstantTimeCompare([]byte(secret), []byte(secret))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(secret)) == 1
}

func randomAlphanumeric(n int) (string, error) {
	max := big.NewInt(int64(len(alphanumeric)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}
