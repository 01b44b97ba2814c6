package signature

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	privateKeyFile = "identity.key"
	publicKeyFile  = "identity.pub"
)

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating Ed25519 keypair: %w", err)
	}
	return pub, priv, nil
}

// SaveKeypair writes a hex-encoded keypair into dir. The private key file has
// 0600 permissions; the public key file has 0644.
func SaveKeypair(dir string, pub ed25519.PublicKey, priv ed25519.PrivateKey) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), []byte(hex.EncodeToString(priv.Seed())+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), []byte(hex.EncodeToString(pub)+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

// LoadKeypair reads a keypair written by SaveKeypair. The public key file is
// checked against the key derived from the private seed.
func LoadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	seedHex, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading private key: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(seedHex)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("private key has unexpected format, want %d hex-encoded bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)

	pubHex, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, nil, fmt.Errorf("reading public key: %w", err)
	}
	if strings.TrimSpace(string(pubHex)) != hex.EncodeToString(pub) {
		return nil, nil, fmt.Errorf("public key in %s does not match private key", publicKeyFile)
	}
	return pub, priv, nil
}
