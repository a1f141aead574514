package tree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// VersionToken identifies a specific revision of a server value.
// Tokens are opaque to the transaction engine: it only carries them
// between reads and conditional writes. The in-process server and the
// persistence layer derive them from canonical value bytes.
type VersionToken string

// TokenNone is the version token of an absent value. A conditional
// write with precondition TokenNone asserts "the path has no value".
const TokenNone VersionToken = ""

// Domain prefix for value hashing. Version suffix enables future
// algorithm migration.
const domainValue = "rowan/value/v1"

// HashValue computes the version token for a value:
// SHA256(domain + 0x00 + canonical JSON), hex encoded.
// The null byte separator prevents domain/data boundary ambiguity.
// A Null value hashes to TokenNone so that "absent" has one spelling.
func HashValue(v Value) (VersionToken, error) {
	if IsNull(v) {
		return TokenNone, nil
	}

	canonical, err := MarshalCanonical(v)
	if err != nil {
		return TokenNone, fmt.Errorf("HashValue: failed to marshal: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(domainValue))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return VersionToken(hex.EncodeToString(h.Sum(nil))), nil
}

// MustHashValue is like HashValue but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustHashValue(v Value) VersionToken {
	tok, err := HashValue(v)
	if err != nil {
		panic(err)
	}
	return tok
}
