package jwt

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-that-is-long-enough"

func TestVerify(t *testing.T) {
	v := NewVerifier(testSecret, "voxlink-api")
	userID := uuid.New()

	tokenString, err := v.Sign(userID, "ada", "Ada Lovelace", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, "Ada Lovelace", claims.DisplayName)
}

func TestVerify_WrongSecret(t *testing.T) {
	v := NewVerifier(testSecret, "voxlink-api")
	userID := uuid.New()

	tokenString, err := v.Sign(userID, "ada", "Ada Lovelace", time.Minute)
	require.NoError(t, err)

	other := NewVerifier("another-secret-key-also-long-enough", "voxlink-api")
	_, err = other.Verify(tokenString)
	assert.Error(t, err)
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier(testSecret, "voxlink-api")

	tokenString, err := v.Sign(uuid.New(), "ada", "Ada Lovelace", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(tokenString)
	assert.Error(t, err)
}

func TestVerify_WrongAudience(t *testing.T) {
	minter := NewVerifier(testSecret, "some-other-api")
	tokenString, err := minter.Sign(uuid.New(), "ada", "Ada Lovelace", time.Minute)
	require.NoError(t, err)

	v := NewVerifier(testSecret, "voxlink-api")
	_, err = v.Verify(tokenString)
	assert.Error(t, err)
}

func TestExtractUserID(t *testing.T) {
	v := NewVerifier(testSecret, "voxlink-api")
	userID := uuid.New()

	tokenString, err := v.Sign(userID, "ada", "Ada Lovelace", time.Minute)
	require.NoError(t, err)

	got, err := ExtractUserID(tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID, got)
}
