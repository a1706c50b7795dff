package qsync

import "io"

// Encryptor protects snapshot payloads before they leave the host.
// Encryption uses the public key only. Decryption, for operator inspection,
// requires a passphrase to unlock the private key.
type Encryptor interface {
	// Setup generates a key pair and protects the private key with passphrase.
	Setup(passphrase string) error

	// Encrypt reads plaintext from r and writes ciphertext to w.
	Encrypt(r io.Reader, w io.Writer) error

	// Extension is appended to object keys of encrypted payloads, e.g. ".age".
	// Empty for pass-through encryptors.
	Extension() string

	// Unlock decrypts the private key and returns a DecryptionContext.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether the key material is present.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key for one session.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}
