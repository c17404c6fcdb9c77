// Package vault encrypts mandate account numbers at rest. AES-256-GCM with
// a fresh nonce per value; ciphertexts are stored as hex triplets so a DBA
// reading the column sees structure but never plaintext.
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

var (
	ErrKeyMissing    = errors.New("vault_key_missing")
	ErrDecryptFailed = errors.New("vault_decrypt_failed")
)

const (
	nonceSize = 12
	keySize   = 32

	// derivationSalt pins pbkdf2 derivation so the same passphrase always
	// yields the same key. Changing it orphans every stored ciphertext.
	derivationSalt = "rumbo.mandate.vault.v1"
	derivationIter = 100_000
)

// Vault seals and opens secrets with a process-wide key. A Vault built
// without key material stays sealed: every operation fails with
// ErrKeyMissing rather than silently storing plaintext.
type Vault struct {
	key []byte
}

// New builds a Vault from key material: either 64 hex chars (a raw 256-bit
// key) or an arbitrary passphrase a key is derived from.
func New(material string) *Vault {
	material = strings.TrimSpace(material)
	if material == "" {
		return &Vault{}
	}

	if len(material) == keySize*2 {
		if raw, err := hex.DecodeString(material); err == nil {
			return &Vault{key: raw}
		}
	}

	return &Vault{key: pbkdf2.Key([]byte(material), []byte(derivationSalt), derivationIter, keySize, sha256.New)}
}

// Ready reports whether the vault holds a key.
func (v *Vault) Ready() bool {
	return v != nil && len(v.key) == keySize
}

// Encrypt seals plaintext and returns "nonce:ciphertext:tag", each part
// lowercase hex. Every call draws a fresh nonce, so encrypting the same
// value twice never repeats output.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if !v.Ready() {
		return "", ErrKeyMissing
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ciphertext, tag := sealed[:tagStart], sealed[tagStart:]

	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext) + ":" + hex.EncodeToString(tag), nil
}

// Decrypt opens a "nonce:ciphertext:tag" triplet. Any malformed input,
// wrong key, or authentication failure returns ErrDecryptFailed without
// detail; callers must never learn which part was wrong.
func (v *Vault) Decrypt(blob string) (string, error) {
	if !v.Ready() {
		return "", ErrKeyMissing
	}

	parts := strings.Split(blob, ":")
	if len(parts) != 3 {
		return "", ErrDecryptFailed
	}
	nonce, err := hex.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return "", ErrDecryptFailed
	}
	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", ErrDecryptFailed
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrDecryptFailed
	}

	block, err := aes.NewCipher(v.key)
	if err != nil {
		return "", ErrDecryptFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptFailed
	}
	if len(tag) != gcm.Overhead() {
		return "", ErrDecryptFailed
	}

	plaintext, err := gcm.Open(nil, nonce, append(ciphertext, tag...), nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// Fingerprint returns the sha256 hex digest of an already-normalized value.
// Used for equality lookups (duplicate mandate detection) without touching
// the ciphertext.
func Fingerprint(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
