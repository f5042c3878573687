package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"platformd/backend/internal/apperrors"
)

const keyInfo = "platformd secret codec v1"

// Codec encrypts sensitive record fields with AES-256-GCM. The key is derived once from the
// configured passphrase and never changes for the lifetime of the process.
type Codec struct {
	aead cipher.AEAD
}

func NewCodec(passphrase string) (*Codec, error) {
	if passphrase == "" {
		return nil, errors.New("secret codec passphrase is empty")
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(passphrase), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive codec key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *Codec) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Codec) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: invalid base64", apperrors.ErrSecretUnreadable)
	}
	size := c.aead.NonceSize()
	if len(raw) < size {
		return "", fmt.Errorf("%w: ciphertext too short", apperrors.ErrSecretUnreadable)
	}
	plain, err := c.aead.Open(nil, raw[:size], raw[size:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrSecretUnreadable, err)
	}
	return string(plain), nil
}

// EncryptOptional leaves empty values empty so that blank form fields do not turn into ciphertext.
func (c *Codec) EncryptOptional(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	return c.Encrypt(plain)
}

func (c *Codec) DecryptOptional(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	return c.Decrypt(encoded)
}
