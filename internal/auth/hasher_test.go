package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckSecret(t *testing.T) {
	hash, err := HashSecret("correct horse battery staple")
	require.NoError(t, err)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := CheckSecret("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckSecret("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h1, err := HashSecret("secret")
	require.NoError(t, err)
	h2, err := HashSecret("secret")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestCheckSecretMalformed(t *testing.T) {
	_, err := CheckSecret("x", "not-a-hash")
	assert.ErrorIs(t, err, ErrMalformedHash)

	_, err = CheckSecret("x", "$bcrypt$v=19$m=1,t=1,p=1$a$b")
	assert.ErrorIs(t, err, ErrMalformedHash)
}
