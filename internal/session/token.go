package session

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rtype/core/config"
)

// Token is a fixed-width random session credential. It is compared as
// raw bytes; Hex below derives the lower-case hex form for use as a map
// key and in logs, never as the canonical representation.
type Token [config.TokenSize]byte

// Hex returns the lower-case hex encoding of the token, used for
// logging and for indexing by hash.
func (t Token) Hex() string { return hex.EncodeToString(t[:]) }

// IsZero reports whether the token is the all-zero value — generateToken
// never returns this, but it is a convenient sentinel for "no token".
func (t Token) IsZero() bool {
	for _, b := range t {
		if b != 0 {
			return false
		}
	}
	return true
}

// generateToken draws config.TokenSize bytes from a cryptographic RNG.
// It retries on the astronomically unlikely event of an all-zero or
// all-one result, which spec.md calls out explicitly as a quality bar
// for the generator (not because either value is otherwise unsafe).
func generateToken() (Token, error) {
	for {
		var t Token
		if _, err := rand.Read(t[:]); err != nil {
			return Token{}, err
		}
		if isDegenerate(t) {
			continue
		}
		return t, nil
	}
}

func isDegenerate(t Token) bool {
	allZero, allOne := true, true
	for _, b := range t {
		if b != 0x00 {
			allZero = false
		}
		if b != 0xFF {
			allOne = false
		}
	}
	return allZero || allOne
}
