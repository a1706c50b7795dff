package encryption

import (
	"fmt"
	"io"

	"quotesync/internal/qsync"
)

// NoneEncryptor passes payloads through unchanged. Snapshots keep the plain
// .json extension.
type NoneEncryptor struct{}

var _ qsync.Encryptor = NoneEncryptor{}

func (NoneEncryptor) Setup(string) error { return nil }

func (NoneEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (NoneEncryptor) Extension() string { return "" }

func (NoneEncryptor) Unlock(string) (qsync.DecryptionContext, error) {
	return passthrough{}, nil
}

func (NoneEncryptor) IsConfigured() bool { return true }

type passthrough struct{}

func (passthrough) Decrypt(r io.Reader, w io.Writer) error {
	return NoneEncryptor{}.Encrypt(r, w)
}
