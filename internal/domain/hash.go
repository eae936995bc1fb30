package domain

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashBytes is the content hash used in FileStatus and Object: hex sha256.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
