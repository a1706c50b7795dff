package encryption

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

func newTestAgeEncryptor(t *testing.T) *AgeEncryptor {
	t.Helper()
	dir := t.TempDir()
	return NewAgeEncryptor(config.EncryptionConfig{
		Type:           "age",
		PublicKeyPath:  filepath.Join(dir, "keys", "qsync.pub"),
		PrivateKeyPath: filepath.Join(dir, "keys", "qsync.key"),
	})
}

func TestAgeEncryptor_Setup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if e.IsConfigured() {
		t.Fatal("IsConfigured() = true before Setup")
	}
	if err := e.Setup(""); !errors.Is(err, qsync.ErrInvalidArgument) {
		t.Errorf("Setup(\"\") error = %v, want ErrInvalidArgument", err)
	}
	if err := e.Setup("test-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !e.IsConfigured() {
		t.Error("IsConfigured() = false after Setup")
	}
	if err := e.Setup("other"); !errors.Is(err, ErrKeysExist) {
		t.Errorf("second Setup() error = %v, want ErrKeysExist", err)
	}
	if e.Extension() != ".age" {
		t.Errorf("Extension() = %q, want .age", e.Extension())
	}
}

func TestAgeEncryptor_EncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	passphrase := "test-passphrase"
	e := newTestAgeEncryptor(t)
	if err := e.Setup(passphrase); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "snapshot", input: []byte(`{"quote":{"rev":1}}`)},
		{name: "empty", input: []byte{}},
		{name: "large", input: bytes.Repeat([]byte(`{"line":1},`), 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := Seal(e, tt.input)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed, tt.input) {
				t.Error("ciphertext contains the plaintext")
			}

			dc, err := e.Unlock(passphrase)
			if err != nil {
				t.Fatalf("Unlock() error = %v", err)
			}
			var out bytes.Buffer
			if err := dc.Decrypt(bytes.NewReader(sealed), &out); err != nil {
				t.Fatalf("Decrypt() error = %v", err)
			}
			if !bytes.Equal(out.Bytes(), tt.input) {
				t.Errorf("round-trip got %d bytes, want %d", out.Len(), len(tt.input))
			}
		})
	}
}

func TestAgeEncryptor_EncryptWithFreshInstance(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("pw"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	// A second encryptor over the same key files reads the public key from disk.
	other := &AgeEncryptor{publicKeyPath: e.publicKeyPath, privateKeyPath: e.privateKeyPath}
	sealed, err := Seal(other, []byte("payload"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	dc, err := e.Unlock("pw")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	var out bytes.Buffer
	if err := dc.Decrypt(bytes.NewReader(sealed), &out); err != nil || out.String() != "payload" {
		t.Errorf("Decrypt() = %q, %v", out.String(), err)
	}
}

func TestAgeEncryptor_UnlockWrongPassphrase(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)
	if err := e.Setup("correct-passphrase"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if _, err := e.Unlock("wrong-passphrase"); err == nil {
		t.Error("Unlock() with wrong passphrase should return error")
	}
}

func TestAgeEncryptor_BeforeSetup(t *testing.T) {
	t.Parallel()
	e := newTestAgeEncryptor(t)

	if _, err := Seal(e, []byte("data")); err == nil {
		t.Error("Encrypt() before Setup should return error")
	}
	if _, err := e.Unlock("passphrase"); err == nil {
		t.Error("Unlock() before Setup should return error")
	}
}
