// Package auth implements credential validation and password hashing
// for the stream-channel auth protocol (spec.md §4.6).
package auth

import (
	"regexp"

	"github.com/rtype/core/config"
	"golang.org/x/crypto/bcrypt"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// ValidateUsername enforces spec.md's 6-21 character rule.
func ValidateUsername(username string) bool {
	n := len(username)
	return n >= 6 && n <= 21
}

// ValidateEmail applies a simplified RFC-5322 pattern, per spec.md §4.6.
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePassword enforces spec.md's minimum length.
func ValidatePassword(password string) bool {
	return len(password) >= 6
}

// HashPassword hashes password with bcrypt, unless cfg.TestHash is set,
// in which case a fast deterministic stub is used so integration tests
// don't pay bcrypt's cost factor (RTYPE_TEST_HASH env var).
func HashPassword(password string, cfg *config.ServerConfig) (string, error) {
	if cfg != nil && cfg.TestHash != "" {
		return testHash(password), nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword checks password against a previously-stored hash.
func VerifyPassword(password, hash string, cfg *config.ServerConfig) bool {
	if cfg != nil && cfg.TestHash != "" {
		return testHash(password) == hash
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// testHash is a cheap, non-cryptographic stand-in used only when
// RTYPE_TEST_HASH is set, so the test suite isn't bottlenecked on
// bcrypt's deliberately slow cost factor.
func testHash(password string) string {
	return "test:" + password
}
