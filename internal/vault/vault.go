package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// ErrCorruptCredential means a stored value does not parse into IV and
// ciphertext, or fails authentication. It is surfaced to the caller and
// never retried.
var ErrCorruptCredential = errors.New("vault: corrupt credential")

const (
	keyLen   = 32
	ivLen    = 16
	kdfIters = 4096
	kdfSalt  = "mailsuite-credential-vault"
)

// Vault encrypts and decrypts per-user mailbox credentials. AES-256-GCM
// with a 16-byte nonce, so a tampered ciphertext fails decryption
// deterministically instead of yielding wrong-but-valid plaintext.
// The key is derived once from the configured secret and is read-only
// afterwards.
type Vault struct {
	key []byte
}

func New(secret string) *Vault {
	key := pbkdf2.Key([]byte(secret), []byte(kdfSalt), kdfIters, keyLen, sha256.New)
	return &Vault{key: key}
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key)
	if err != nil {
		return nil, fmt.Errorf("vault: init cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, fmt.Errorf("vault: init gcm: %w", err)
	}
	return aead, nil
}

// Encrypt returns "ivHex:cipherHex" with a fresh random 16-byte IV, so
// decryption is self-describing and stateless.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.aead()
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("vault: generate iv: %w", err)
	}

	sealed := aead.Seal(nil, iv, []byte(plaintext), nil)
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any value that does not split into a hex IV of
// the right width plus hex ciphertext, or whose ciphertext fails
// authentication, fails with ErrCorruptCredential; it never silently
// returns garbage.
func (v *Vault) Decrypt(stored string) (string, error) {
	parts := strings.Split(stored, ":")
	if len(parts) != 2 {
		return "", ErrCorruptCredential
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLen {
		return "", ErrCorruptCredential
	}

	sealed, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrCorruptCredential
	}

	aead, err := v.aead()
	if err != nil {
		return "", err
	}

	plaintext, err := aead.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", ErrCorruptCredential
	}
	return string(plaintext), nil
}
