// Package idgen provides the identifier strategies used by the recorder:
// session IDs (UUIDv7 with a timestamp fallback) and short request tokens.
//
// Constructors accept a Generator so tests and embedders can pin the
// strategy at startup.
package idgen

import (
	crand "crypto/rand"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Generator produces unique string identifiers.
type Generator func() string

// NanoID returns a Generator that produces base-36 IDs of the given length
// from crypto/rand. If the system random source fails it degrades to the
// math/rand/v2 source instead of panicking: request tokens are correlation
// keys, not secrets.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := crand.Read(buf); err != nil {
			return weakSuffix(length)
		}
		b := make([]byte, length)
		for i := range b {
			b[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(b)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Session returns the session identifier strategy: a UUIDv7 when the
// secure random source works, otherwise "<base36 unix ms>-<8 base36 chars>".
func Session() Generator {
	return SessionFrom(uuid.NewV7)
}

// SessionFrom is Session with an explicit UUID source.
func SessionFrom(newUUID func() (uuid.UUID, error)) Generator {
	return func() string {
		if newUUID != nil {
			if u, err := newUUID(); err == nil {
				return u.String()
			}
		}
		return Fallback()
	}
}

// Fallback builds a timestamp + random suffix identifier without touching
// crypto/rand. Two calls in the same millisecond differ by their suffix.
func Fallback() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 36) + "-" + weakSuffix(8)
}

func weakSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// RequestID is the generator for network request tokens (8 base-36 chars).
var RequestID Generator = NanoID(8)
