// Package traceid generates and formats short opaque identifiers used as
// HTTP trace IDs and as process/session IDs. Both are derived the same
// way: a uuid with its dashes stripped, which is URL-safe and at least
// 8 characters by construction (32 hex characters).
package traceid

import "github.com/google/uuid"

// New returns a fresh opaque identifier.
func New() string {
	return stripDashes(uuid.New())
}

func stripDashes(id uuid.UUID) string {
	buf := make([]byte, 0, 32)
	for _, b := range id[:] {
		buf = appendHexByte(buf, b)
	}
	return string(buf)
}

const hexDigits = "0123456789abcdef"

func appendHexByte(buf []byte, b byte) []byte {
	return append(buf, hexDigits[b>>4], hexDigits[b&0x0f])
}
