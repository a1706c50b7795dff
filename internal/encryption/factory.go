package encryption

import (
	"bytes"
	"fmt"

	"quotesync/internal/config"
	"quotesync/internal/qsync"
)

// NewEncryptorFromConfig creates an Encryptor based on the configuration type.
func NewEncryptorFromConfig(cfg config.EncryptionConfig) (qsync.Encryptor, error) {
	switch cfg.Type {
	case "none", "":
		return NoneEncryptor{}, nil
	case "age":
		if cfg.PublicKeyPath == "" || cfg.PrivateKeyPath == "" {
			return nil, fmt.Errorf("age encryption requires public_key_path and private_key_path")
		}
		return NewAgeEncryptor(cfg), nil
	case "test":
		return NewFixtureEncryptor(), nil
	default:
		return nil, fmt.Errorf("unknown encryption type: %q", cfg.Type)
	}
}

// Seal encrypts data in memory.
func Seal(enc qsync.Encryptor, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := enc.Encrypt(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
