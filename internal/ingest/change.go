package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// HashLookup returns the stored content hash for a URL.
type HashLookup interface {
	ContentHash(ctx context.Context, url string) (hash string, found bool, err error)
}

// ChangeDetector decides whether a page has to be re-indexed. It never writes.
type ChangeDetector struct {
	lookup HashLookup
}

func NewChangeDetector(lookup HashLookup) *ChangeDetector {
	return &ChangeDetector{lookup: lookup}
}

// ShouldUpdate is true when url was never stored or its cleaned text hashes
// differently from the stored copy.
func (d *ChangeDetector) ShouldUpdate(ctx context.Context, url, cleanText string) (bool, error) {
	stored, found, err := d.lookup.ContentHash(ctx, url)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return stored != ContentHash(cleanText), nil
}

// ContentHash is the hex sha256 of the cleaned text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
