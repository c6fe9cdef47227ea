// Package sha256 fingerprints rendered reports for the archive.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// ShortLen is how many hex characters of a report digest go into archive
// object names. The full digest travels in the ReportReady notice.
const ShortLen = 12

// Hasher implements brief.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 of a report body.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Short trims a digest to ShortLen characters for use in blob names.
// Shorter input is returned unchanged.
func Short(digest string) string {
	if len(digest) > ShortLen {
		return digest[:ShortLen]
	}
	return digest
}
