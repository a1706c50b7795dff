package testutil

import (
	"quotesync/internal/encryption"
	"quotesync/internal/qsync"
)

// NewTestEncryptor returns a fixture encryptor whose snapshot keys end in
// ".json.test".
func NewTestEncryptor() qsync.Encryptor {
	return encryption.NewFixtureEncryptor()
}
