package utils

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// NewID returns a collision-resistant identifier for promises, allocations
// and benchmark jobs.
func NewID() string {
	return uuid.NewString()
}

// IsHexHash reports whether s is a well-formed hex digest, with or without a
// 0x prefix. Empty strings are not hashes.
func IsHexHash(s string) bool {
	if s == "" {
		return false
	}
	if !strings.HasPrefix(s, "0x") {
		s = "0x" + s
	}
	_, err := hexutil.Decode(s)
	return err == nil
}
