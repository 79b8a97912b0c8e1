package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxlink-backend/pkg/jwt"
)

type stubRevocation struct {
	revoked bool
	err     error
}

func (s *stubRevocation) IsTokenRevoked(ctx context.Context, tokenString string) (bool, error) {
	return s.revoked, s.err
}

func authTestRouter(t *testing.T, verifier *jwt.Verifier, checker RevocationChecker) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", AuthMiddleware(verifier, checker), func(c *gin.Context) {
		userID, _ := c.Get("user_id")
		c.JSON(http.StatusOK, gin.H{"user_id": userID.(uuid.UUID).String()})
	})
	return r
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	userID := uuid.New()
	token, err := verifier.Sign(userID, "alice", "Alice", time.Minute)
	require.NoError(t, err)

	r := authTestRouter(t, verifier, nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
}

func TestAuthMiddleware_QueryTokenFallback(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	userID := uuid.New()
	token, err := verifier.Sign(userID, "alice", "Alice", time.Minute)
	require.NoError(t, err)

	r := authTestRouter(t, verifier, nil)

	// WebSocket upgrades cannot set headers from the browser
	req := httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	r := authTestRouter(t, verifier, nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	r := authTestRouter(t, verifier, nil)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_RevokedToken(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	token, err := verifier.Sign(uuid.New(), "alice", "Alice", time.Minute)
	require.NoError(t, err)

	r := authTestRouter(t, verifier, &stubRevocation{revoked: true})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddleware_RevocationFailsOpen(t *testing.T) {
	verifier := jwt.NewVerifier("test-secret-key-with-enough-length", "voxlink-api")
	token, err := verifier.Sign(uuid.New(), "alice", "Alice", time.Minute)
	require.NoError(t, err)

	r := authTestRouter(t, verifier, &stubRevocation{err: assert.AnError})

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
