// Package fileid derives stable document IDs from file paths. Drop-directory
// ingestion and file-backed uploads use these so that a rewritten file
// replaces its document instead of accumulating duplicates, and a removal can
// find the document without a lookup table.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
)

const prefix = "file:"

// FileDocID returns the document ID for the given absolute path. The path is
// cleaned first, so trailing slashes and "./" segments do not change the ID.
func FileDocID(absolutePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(absolutePath)))
	return prefix + hex.EncodeToString(sum[:])
}
