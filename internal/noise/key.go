// Package noise implements the Core<->Periphery link authentication:
// X25519 static key management, public-key pinning, and the Noise XX
// handshake bound to a transport-derived prologue hash.
package noise

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
)

const (
	privateKeyPEMType = "PRIVATE KEY"
	publicKeyPEMType  = "PUBLIC KEY"
	keyFilePerms      = 0o600
)

// StaticKey is an X25519 keypair used as a Noise static identity.
type StaticKey struct {
	Private []byte
	Public  []byte
}

// GenerateKey creates a fresh X25519 keypair: 32 random private bytes with
// the public point derived by scalar multiplication against the curve
// basepoint.
func GenerateKey() (StaticKey, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return StaticKey{}, fmt.Errorf("noise: generating private key: %w", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return StaticKey{}, fmt.Errorf("noise: deriving public key: %w", err)
	}
	return StaticKey{Private: priv, Public: pub}, nil
}

// LoadOrGenerateKey reads an X25519 PKCS#8 PEM private key from path. If the
// file doesn't exist, a new key pair is generated and persisted there.
func LoadOrGenerateKey(path string) (StaticKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return parsePrivateKeyPEM(data)
	}
	if !os.IsNotExist(err) {
		return StaticKey{}, fmt.Errorf("noise: reading key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return StaticKey{}, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StaticKey{}, fmt.Errorf("noise: creating key dir: %w", err)
	}
	block, err := marshalPrivateKeyPEM(key)
	if err != nil {
		return StaticKey{}, err
	}
	if err := os.WriteFile(path, block, keyFilePerms); err != nil {
		return StaticKey{}, fmt.Errorf("noise: writing key file: %w", err)
	}
	return key, nil
}

// RotateKey generates a fresh X25519 keypair and unconditionally overwrites
// the key file at path, regardless of whether one already exists: rotation
// replaces the on-disk key, never reuses it.
func RotateKey(path string) (StaticKey, error) {
	key, err := GenerateKey()
	if err != nil {
		return StaticKey{}, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return StaticKey{}, fmt.Errorf("noise: creating key dir: %w", err)
	}
	block, err := marshalPrivateKeyPEM(key)
	if err != nil {
		return StaticKey{}, err
	}
	if err := os.WriteFile(path, block, keyFilePerms); err != nil {
		return StaticKey{}, fmt.Errorf("noise: writing key file: %w", err)
	}
	return key, nil
}

func marshalPrivateKeyPEM(key StaticKey) ([]byte, error) {
	priv, err := ecdh.X25519().NewPrivateKey(key.Private)
	if err != nil {
		return nil, fmt.Errorf("noise: invalid private key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("noise: marshaling PKCS8: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: privateKeyPEMType, Bytes: der}), nil
}

func parsePrivateKeyPEM(data []byte) (StaticKey, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != privateKeyPEMType {
		return StaticKey{}, fmt.Errorf("noise: not a PEM private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return StaticKey{}, fmt.Errorf("noise: parsing PKCS8: %w", err)
	}
	priv, ok := parsed.(*ecdh.PrivateKey)
	if !ok || priv.Curve() != ecdh.X25519() {
		return StaticKey{}, fmt.Errorf("noise: PEM key is not X25519")
	}
	return StaticKey{Private: priv.Bytes(), Public: priv.PublicKey().Bytes()}, nil
}

// EncodePublicPEM renders a public key as a PEM block for pin files and
// display.
func EncodePublicPEM(pub []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: publicKeyPEMType, Bytes: pub})
}

// DecodePublicPEM parses a PEM-encoded public key.
func DecodePublicPEM(data []byte) ([]byte, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != publicKeyPEMType {
		return nil, fmt.Errorf("noise: not a PEM public key")
	}
	if _, err := ecdh.X25519().NewPublicKey(block.Bytes); err != nil {
		return nil, fmt.Errorf("noise: invalid X25519 public key: %w", err)
	}
	return block.Bytes, nil
}
