package fsutil

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// HashFile calculates the truncated SHA-256 hash of a file on disk. It
// yields the same value HashBytes gives for the file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil))[:16], nil // Use first 16 chars for brevity
}

// HashBytes calculates the truncated SHA-256 hash of an in-memory blob.
// The registry service uses it to fill Function.CodeHash for every
// backend, since a code locator is opaque and not always a file path.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])[:16]
}
