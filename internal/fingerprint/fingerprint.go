// Package fingerprint folds a normalized request into the stable 64-hex
// SHA-256 digest used as cassette identity. The serialization format is
// part of vcrproxy's external contract: it must not change between
// versions without a format-version bump recorded in cassette metadata
// (see internal/cassette).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"vcrproxy/internal/normalize"
)

// FormatVersion identifies the canonical serialization below. Bump this,
// and record the new value in cassette meta, if the format ever changes.
const FormatVersion = "1"

// Fingerprint computes the 64-hex lowercase SHA-256 digest of c's canonical
// serialization.
//
// Layout (all separators literal):
//
//	METHOD \n
//	PATH \n
//	QUERY: "name=value" pairs joined by & in sorted order \n
//	HEADERS: "name: v1,v2,..." joined by \n in sorted order, blank line
//	BODY_BYTES
func Fingerprint(c normalize.Canonical) string {
	sum := sha256.Sum256(Serialize(c))
	return hex.EncodeToString(sum[:])
}

// Serialize returns the canonical byte stream Fingerprint hashes. Exposed
// for tests and for debugging tooling that wants to inspect what was
// actually hashed.
func Serialize(c normalize.Canonical) []byte {
	var b strings.Builder
	b.WriteString(c.Method)
	b.WriteByte('\n')
	b.WriteString(c.Path)
	b.WriteByte('\n')

	for i, q := range c.Query {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(q.Name)
		b.WriteByte('=')
		b.WriteString(q.Value)
	}
	b.WriteByte('\n')

	for _, h := range c.Headers {
		b.WriteString(h.Name)
		b.WriteString(": ")
		b.WriteString(strings.Join(h.Values, ","))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	out := make([]byte, 0, b.Len()+len(c.Body))
	out = append(out, b.String()...)
	out = append(out, c.Body...)
	return out
}
