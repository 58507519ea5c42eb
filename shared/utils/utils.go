package utils

import (
	"crypto/sha256"
	"encoding/hex"
)

func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// ShortHash returns the first n characters of hash.
func ShortHash(hash string, n int) string {
	if len(hash) <= n {
		return hash
	}
	return hash[:n]
}
