package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voxlink-backend/pkg/jwt"
)

// RevocationChecker defines interface for checking if a token is revoked (blacklisted)
type RevocationChecker interface {
	// IsTokenRevoked checks if an identity token has been revoked/blacklisted
	IsTokenRevoked(ctx context.Context, tokenString string) (bool, error)
}

// AuthMiddleware creates a Gin middleware that validates identity tokens.
// Tokens arrive in the Authorization header, or in the `token` query parameter
// for WebSocket upgrades where browsers cannot set custom headers.
// If valid, it sets user_id, username, and display_name in the Gin context.
// revocationChecker is optional (can be nil); when provided, revocation
// failures are fail-open because the signature already validated.
func AuthMiddleware(verifier *jwt.Verifier, revocationChecker RevocationChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		if revocationChecker != nil {
			revoked, err := revocationChecker.IsTokenRevoked(c.Request.Context(), tokenString)
			if err == nil && revoked {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Token revoked"})
				c.Abort()
				return
			}
			// Fail-open on checker errors: the signature already validated,
			// so a Redis outage must not lock every user out.
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("display_name", claims.DisplayName)
		c.Next()
	}
}

// bearerToken extracts the token from the Authorization header, falling back
// to the `token` query parameter for WebSocket upgrade requests.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return ""
		}
		return parts[1]
	}
	return c.Query("token")
}
