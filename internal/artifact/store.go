// Package artifact stores immutable batch files. Keys are content-addressed
// by the caller (digest in the key), so a Put with the same key always
// carries the same bytes and overwrites are harmless.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("artifact_not_found")
	ErrInvalidKey = errors.New("artifact_invalid_key")
)

// Store is the storage backend contract. Implementations must tolerate
// repeated Puts of the same key.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Digest returns the SHA-256 hex digest used as the content address of a
// stored file. Identical bytes always land on identical keys.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeKey cleans a storage key: forward slashes only, no leading
// slash, no empty or parent-escaping segments.
func NormalizeKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}
