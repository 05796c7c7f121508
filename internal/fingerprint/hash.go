// Package fingerprint identifies media content: a fast content hash for
// change detection and a client for the face-embedding service.
package fingerprint

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/kozaktomas/media-annotator/internal/constants"
)

// HashFile returns the xxhash64 digest of the file as 16 hex digits.
func HashFile(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the library scan
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader hashes r in constants.HashChunkSize chunks.
func HashReader(r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, constants.HashChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}
