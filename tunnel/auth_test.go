package tunnel

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

// TestBuildAuthMethods_ExplicitKey verifies that a key file is loaded.
func TestBuildAuthMethods_ExplicitKey(t *testing.T) {
	// Generate a temporary ed25519 key in PEM format.
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "id_test")
	writeTestKey(t, keyPath)

	cfg := &SSHConfig{KeyPath: keyPath}
	methods, err := BuildAuthMethods(cfg)
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) == 0 {
		t.Fatal("expected at least one auth method")
	}
}

// TestBuildAuthMethods_NoMethods verifies a clear error message.
func TestBuildAuthMethods_NoMethods(t *testing.T) {
	// Remove SSH_AUTH_SOCK so agent fails, and supply no key.
	t.Setenv("SSH_AUTH_SOCK", "")

	cfg := &SSHConfig{KeyPath: "/nonexistent/key"}
	_, err := BuildAuthMethods(cfg)
	if err == nil {
		t.Fatal("expected error for missing key")
	}
}

// TestHostKeyCallback_Insecure verifies that InsecureIgnoreHostKey is used
// when StrictHostKey is false.
func TestHostKeyCallback_Insecure(t *testing.T) {
	cfg := &SSHConfig{StrictHostKey: false}
	cb, err := hostKeyCallback(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cb == nil {
		t.Fatal("callback should not be nil")
	}
}

// TestHostKeyCallback_Strict verifies known_hosts loading.
func TestHostKeyCallback_Strict(t *testing.T) {
	dir := t.TempDir()
	missing := &SSHConfig{StrictHostKey: true, KnownHosts: filepath.Join(dir, "none")}
	if _, err := hostKeyCallback(missing); err == nil {
		t.Error("expected error for a missing known_hosts file")
	}

	kh := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(kh, nil, 0600); err != nil {
		t.Fatal(err)
	}
	cb, err := hostKeyCallback(&SSHConfig{StrictHostKey: true, KnownHosts: kh})
	if err != nil || cb == nil {
		t.Fatalf("hostKeyCallback: cb=%v err=%v", cb != nil, err)
	}
}

// TestBuildAuthMethods_Fallback verifies the automatic key search.
func TestBuildAuthMethods_Fallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("SSH_AUTH_SOCK", "")
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0700); err != nil {
		t.Fatal(err)
	}
	writeTestKey(t, filepath.Join(home, ".ssh", "id_ed25519"))

	methods, err := BuildAuthMethods(&SSHConfig{})
	if err != nil {
		t.Fatalf("BuildAuthMethods: %v", err)
	}
	if len(methods) != 1 {
		t.Errorf("methods = %d, want 1", len(methods))
	}
}

// ── helpers ──────────────────────────────────────────────────────────

// writeTestKey writes a freshly generated, unencrypted ed25519 key in
// OpenSSH format.
func writeTestKey(t *testing.T, path string) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "test@gostream")
	if err != nil {
		t.Fatal(err)
	}
	data := pem.EncodeToMemory(block)
	if _, err := ssh.ParsePrivateKey(data); err != nil {
		t.Fatalf("bad test key: %v", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		t.Fatal(err)
	}
}
