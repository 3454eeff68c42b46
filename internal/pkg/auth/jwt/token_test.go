package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "unit-test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	tokenString, err := GenerateToken(42, testSecret, AccessTokenExpiration)
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	payload, err := ParseToken(tokenString, testSecret)
	require.NoError(t, err)

	assert.Equal(t, int64(42), payload.UserID)
	assert.Equal(t, TokenIssuer, payload.Issuer)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	tokenString, err := GenerateToken(42, testSecret, AccessTokenExpiration)
	require.NoError(t, err)

	_, err = ParseToken(tokenString, "a-different-secret")
	assert.Error(t, err)
}

func TestParseTokenRejectsExpiredToken(t *testing.T) {
	tokenString, err := GenerateToken(42, testSecret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tokenString, testSecret)
	assert.Error(t, err)
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	_, err := ParseToken("definitely.not.a.token", testSecret)
	assert.Error(t, err)
}
