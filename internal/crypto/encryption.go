package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrMissingKey is returned when no encryption secret is configured.
	ErrMissingKey = errors.New("encryption key is not configured")
	// ErrFormat is returned when a stored password cannot be decoded or authenticated.
	ErrFormat = errors.New("invalid encrypted password format")
)

const (
	ivSize  = 16
	tagSize = 16
	keySize = 32

	hkdfInfo = "mailsync mailbox credentials"
)

// Encryptor decrypts mailbox passwords stored as "iv:authTag:ciphertext",
// each part hex encoded, using AES-256-GCM with a 16-byte IV.
type Encryptor struct {
	key []byte
}

// NewEncryptor builds an Encryptor from the configured secret.
// A secret of at least 64 hex characters is used directly (its first 32 bytes);
// anything else is stretched with HKDF-SHA256.
func NewEncryptor(secret string) (*Encryptor, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	return &Encryptor{key: key}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if len(secret) >= keySize*2 {
		if raw, err := hex.DecodeString(secret[:keySize*2]); err == nil {
			return raw, nil
		}
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}
	return key, nil
}

func (e *Encryptor) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(e.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals the plaintext with a fresh random IV.
func (e *Encryptor) Encrypt(plaintext string) (string, error) {
	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	ciphertext, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a value produced by Encrypt. Every failure wraps ErrFormat,
// including authentication failures caused by a wrong key.
func (e *Encryptor) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: expected 3 parts, got %d", ErrFormat, len(parts))
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivSize {
		return "", fmt.Errorf("%w: bad IV", ErrFormat)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", fmt.Errorf("%w: bad auth tag", ErrFormat)
	}
	ciphertext, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: bad ciphertext", ErrFormat)
	}

	gcm, err := e.gcm()
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, append(ciphertext, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFormat, err)
	}

	return string(plaintext), nil
}
