package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DigestSize is the length in bytes of a module content digest.
const DigestSize = sha256.Size

// Digest is a raw SHA-256 content hash. It renders as lowercase hex when
// used as a filename or database key.
type Digest [DigestSize]byte

// DigestOf computes the content digest of data.
func DigestOf(data []byte) Digest {
	return sha256.Sum256(data)
}

// ParseDigest decodes a 64-character lowercase hex string into a Digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(DigestSize) {
		return d, fmt.Errorf("%w: digest must be %d hex chars, got %d", ErrMalformedManifest, hex.EncodedLen(DigestSize), len(s))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: invalid digest hex: %v", ErrMalformedManifest, err)
	}
	copy(d[:], raw)
	return d, nil
}

// Hex returns the lowercase hex rendering of the digest.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// String implements fmt.Stringer.
func (d Digest) String() string {
	return d.Hex()
}
