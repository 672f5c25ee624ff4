// Package docid derives canonical document identifiers. The canonical form is
// a content hash, stable across file rename and move; the legacy form hashed
// the file path and is migrated away on document open.
package docid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	contentPrefix = "sha256:"
	legacyPrefix  = "file:"
)

// FromContent returns the canonical ID for the given document bytes.
func FromContent(data []byte) string {
	hash := sha256.Sum256(data)
	return contentPrefix + hex.EncodeToString(hash[:])
}

// FromFile returns the canonical ID for the file at path, streaming its
// contents through the hash.
func FromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash document: %w", err)
	}
	return contentPrefix + hex.EncodeToString(h.Sum(nil)), nil
}

// LegacyFromPath returns the path-derived ID older releases used. Same path
// always yields the same ID.
func LegacyFromPath(absolutePath string) string {
	normalized := filepath.Clean(absolutePath)
	hash := sha256.Sum256([]byte(normalized))
	return legacyPrefix + hex.EncodeToString(hash[:])
}

// IsLegacy reports whether id uses the path-derived scheme.
func IsLegacy(id string) bool {
	return strings.HasPrefix(id, legacyPrefix)
}
