package signature

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadKeypair(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")
	pub, priv, err := GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveKeypair(dir, pub, priv); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, privateKeyFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected 0600 private key, got %o", info.Mode().Perm())
	}

	gotPub, gotPriv, err := LoadKeypair(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !gotPub.Equal(pub) || !gotPriv.Equal(priv) {
		t.Error("loaded keypair differs from saved keypair")
	}
}

func TestLoadKeypairDetectsMismatch(t *testing.T) {
	dir := t.TempDir()
	pub, priv, _ := GenerateKeypair()
	if err := SaveKeypair(dir, pub, priv); err != nil {
		t.Fatal(err)
	}
	otherPub, _, _ := GenerateKeypair()
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), []byte(IdentityFromPublicKey(otherPub)), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := LoadKeypair(dir); err == nil {
		t.Error("expected mismatch error")
	}
}

func TestLoadKeypairMissing(t *testing.T) {
	if _, _, err := LoadKeypair(t.TempDir()); err == nil {
		t.Error("expected error for missing key files")
	}
}
