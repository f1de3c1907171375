// Package crypto implements the digests used to turn plain paper fingerprints into identity keys.
package crypto

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Supported digest names.
const (
	DigestMD5     = "md5"     // 128-bit, matches fingerprints produced by earlier mirrors
	DigestBLAKE2b = "blake2b" // 256-bit
)

// Digest hashes a plain fingerprint into its final hex form.
type Digest func(plain string) string

// MD5Hex returns the hex MD5 of s.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// BLAKE2bHex returns the hex BLAKE2b-256 of s.
func BLAKE2bHex(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DigestByName resolves a configured digest name. Empty selects MD5.
func DigestByName(name string) (Digest, error) {
	switch name {
	case "", DigestMD5:
		return MD5Hex, nil
	case DigestBLAKE2b:
		return BLAKE2bHex, nil
	default:
		return nil, fmt.Errorf("unknown fingerprint digest %q", name)
	}
}
