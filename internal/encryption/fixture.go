package encryption

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"quotesync/internal/qsync"
)

// fixtureMagic opens every snapshot sealed by FixtureEncryptor. The line
// after it is the hex SHA-256 of the plaintext.
const fixtureMagic = "QSNAP-FIXTURE"

// FixtureEncryptor seals quote snapshots without cryptography so tests can
// read the uploaded bytes. Sealed output is "<magic>\n<sha256>\n<json>" and
// snapshot keys end in ".json.test". Decrypt verifies the digest and that the
// plaintext is a JSON document, which catches truncated or mixed-up uploads.
type FixtureEncryptor struct {
	passphrase string
}

var _ qsync.Encryptor = (*FixtureEncryptor)(nil)

func NewFixtureEncryptor() *FixtureEncryptor {
	return &FixtureEncryptor{}
}

// Setup records the passphrase that Unlock will require.
func (e *FixtureEncryptor) Setup(passphrase string) error {
	e.passphrase = passphrase
	return nil
}

func (e *FixtureEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	sum := sha256.Sum256(body)
	if _, err := fmt.Fprintf(w, "%s\n%s\n", fixtureMagic, hex.EncodeToString(sum[:])); err != nil {
		return fmt.Errorf("writing fixture header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// Extension returns ".test".
func (e *FixtureEncryptor) Extension() string { return ".test" }

func (e *FixtureEncryptor) Unlock(passphrase string) (qsync.DecryptionContext, error) {
	if e.passphrase != "" && passphrase != e.passphrase {
		return nil, fmt.Errorf("unlocking fixture key: wrong passphrase")
	}
	return &FixtureDecryptionContext{}, nil
}

func (e *FixtureEncryptor) IsConfigured() bool {
	return true
}

// FixtureDecryptionContext opens snapshots sealed by FixtureEncryptor.
type FixtureDecryptionContext struct{}

var _ qsync.DecryptionContext = (*FixtureDecryptionContext)(nil)

func (c *FixtureDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	br := bufio.NewReader(r)
	magic, err := br.ReadString('\n')
	if err != nil || magic != fixtureMagic+"\n" {
		return fmt.Errorf("invalid fixture header")
	}
	digest, err := br.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading fixture digest: %w", err)
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return fmt.Errorf("reading snapshot: %w", err)
	}
	sum := sha256.Sum256(body)
	if strings.TrimSuffix(digest, "\n") != hex.EncodeToString(sum[:]) {
		return fmt.Errorf("snapshot digest mismatch")
	}
	if !json.Valid(body) {
		return fmt.Errorf("snapshot is not a JSON document")
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}
