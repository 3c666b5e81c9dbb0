// Package sha256 derives content hashes for article deduplication.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/JakeFAU/realtime-news-ingestor/internal/ingest"
)

// HashLength is the number of hex characters kept from the digest.
const HashLength = 16

// Hasher implements ingest.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash digests the trimmed, lower-cased title and the URL as given.
func (h *Hasher) Hash(title, url string) ingest.ContentHash {
	input := strings.ToLower(strings.TrimSpace(title)) + "|" + url
	sum := sha256.Sum256([]byte(input))
	return ingest.ContentHash(hex.EncodeToString(sum[:])[:HashLength])
}
