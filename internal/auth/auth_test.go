package auth

import (
	"testing"

	"github.com/rtype/core/config"
	"github.com/stretchr/testify/require"
)

func TestValidateUsernameEnforcesLengthBounds(t *testing.T) {
	require.False(t, ValidateUsername("short"))
	require.True(t, ValidateUsername("sixchr"))
	require.True(t, ValidateUsername("exactlytwentyonechar1"))
	require.False(t, ValidateUsername("waytoolongusernamethatoverflowsthelimit"))
}

func TestValidateEmailAcceptsSimpleAddresses(t *testing.T) {
	require.True(t, ValidateEmail("a@example.com"))
	require.False(t, ValidateEmail("not-an-email"))
	require.False(t, ValidateEmail("a@b"))
}

func TestValidatePasswordEnforcesMinimumLength(t *testing.T) {
	require.False(t, ValidatePassword("abc"))
	require.True(t, ValidatePassword("abcdef"))
}

func TestHashAndVerifyRoundTripWithTestHash(t *testing.T) {
	cfg := &config.ServerConfig{TestHash: "1"}

	hash, err := HashPassword("hunter2", cfg)
	require.NoError(t, err)
	require.True(t, VerifyPassword("hunter2", hash, cfg))
	require.False(t, VerifyPassword("wrong", hash, cfg))
}

func TestHashAndVerifyRoundTripWithBcrypt(t *testing.T) {
	cfg := &config.ServerConfig{}

	hash, err := HashPassword("hunter2", cfg)
	require.NoError(t, err)
	require.True(t, VerifyPassword("hunter2", hash, cfg))
	require.False(t, VerifyPassword("wrong", hash, cfg))
}
