// Package hasher produces the fixed-length digests used as shingle and
// article-key identifiers. Digests are lowercase hex SHA-256, so any other
// implementation hashing the same bytes produces the same identifiers.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Size is the length in characters of every digest returned by this package.
const Size = sha256.Size * 2

// FIPS 180-2 appendix B.1 vector, checked once at start-up.
const (
	selfTestInput  = "abc"
	selfTestDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
)

func init() {
	if got := Digest([]byte(selfTestInput)); got != selfTestDigest {
		panic(fmt.Sprintf("hasher: sha256 self-test failed: got %s, want %s", got, selfTestDigest))
	}
}

// Digest returns the lowercase hex SHA-256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestString hashes the UTF-8 bytes of s.
func DigestString(s string) string {
	return Digest([]byte(s))
}
