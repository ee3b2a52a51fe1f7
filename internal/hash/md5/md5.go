// Package md5 derives the short hex digests embedded in catalog SKUs.
package md5

import (
	"crypto/md5" //nolint:gosec // identifier derivation, not a security boundary
	"encoding/hex"
	"strings"
)

// Hasher implements catalog.Hasher using MD5 with an upper-case hex digest.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns an upper-case hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}
