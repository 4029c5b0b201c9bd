// Package cidhash implements content identifiers: self-describing hashes of
// an instruction's canonical encoding. Equality on CIDs is the sole means of
// identifying "the same computation" across the scheduler and receipt store.
package cidhash

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// CID is a canonical "sha256:<hex>" string, grounded on the same hashing
// convention the teacher used for CAS blob identity.
type CID string

// String returns the canonical string form.
func (c CID) String() string {
	return string(c)
}

// Empty reports whether the CID is the zero value.
func (c CID) Empty() bool {
	return c == ""
}

// Of computes the CID of any JSON-marshalable value by hashing its canonical
// encoding. Go's encoding/json already sorts map keys and uses a fixed field
// order for structs, so marshaling a value twice produces byte-identical
// output - this is what makes the hash a pure function of content.
func Of(v any) (CID, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonicalize for hashing: %w", err)
	}
	return FromBytes(encoded), nil
}

// FromBytes hashes raw bytes directly, used when the canonical encoding was
// already produced by the caller (e.g. a cached marshal).
func FromBytes(b []byte) CID {
	sum := sha256.Sum256(b)
	return CID(fmt.Sprintf("sha256:%x", sum))
}

// Parse validates that s looks like a CID this package produced. Parse
// failures are never fatal to callers in this codebase - per the scheduler's
// contract, an unparsable CID is treated as a cache miss, not an error.
func Parse(s string) (CID, bool) {
	if len(s) <= len("sha256:") || s[:len("sha256:")] != "sha256:" {
		return "", false
	}
	hexPart := s[len("sha256:"):]
	if len(hexPart) != sha256.Size*2 {
		return "", false
	}
	for _, r := range hexPart {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			return "", false
		}
	}
	return CID(s), true
}
