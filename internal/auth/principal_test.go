package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, key []byte, c claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := tok.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestResolveExtractsPrincipal(t *testing.T) {
	key := []byte("test-signing-key")
	r := NewResolver(key)

	token := signToken(t, key, claims{
		UserID: 42,
		Tariff: "standard",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	p, err := r.Resolve("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), p.UserID)
	assert.Equal(t, "standard", p.Tariff)
}

func TestResolveRejectsMissingBearer(t *testing.T) {
	r := NewResolver([]byte("k"))
	_, err := r.Resolve("")
	assert.ErrorIs(t, err, ErrMissingBearerToken)

	_, err = r.Resolve("Basic xyz")
	assert.ErrorIs(t, err, ErrMissingBearerToken)
}

func TestResolveRejectsBadSignature(t *testing.T) {
	r := NewResolver([]byte("k"))
	token := signToken(t, []byte("other-key"), claims{UserID: 1})
	_, err := r.Resolve("Bearer " + token)
	assert.Error(t, err)
}
