package testutil

import (
	"testing"

	"github.com/vdavid/mailsync/internal/crypto"
)

// TestEncryptionKey is the hex secret used by every test package.
const TestEncryptionKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// GetTestEncryptor creates an encryptor keyed with TestEncryptionKey.
func GetTestEncryptor(t *testing.T) *crypto.Encryptor {
	t.Helper()

	encryptor, err := crypto.NewEncryptor(TestEncryptionKey)
	if err != nil {
		t.Fatalf("Failed to create encryptor: %v", err)
	}
	return encryptor
}

// EncryptPassword encrypts a mailbox password the way stored accounts hold it.
func EncryptPassword(t *testing.T, password string) string {
	t.Helper()

	encrypted, err := GetTestEncryptor(t).Encrypt(password)
	if err != nil {
		t.Fatalf("Failed to encrypt password: %v", err)
	}
	return encrypted
}
