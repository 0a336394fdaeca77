// Package hasher fingerprints content for deduplication and chunk identity.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256 produces 64-character lowercase hex digests.
type SHA256 struct{}

func New() SHA256 { return SHA256{} }

func (SHA256) Fingerprint(text string) string {
	return Fingerprint(text)
}

// Fingerprint returns the SHA-256 hex digest of the UTF-8 bytes of text.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
