package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims represents JWT claims structure. Tokens are minted by the external
// identity service; this package only needs to verify them and surface the
// stable user identifier plus display attributes.
type Claims struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	jwt.RegisteredClaims
}

// Verifier validates identity tokens
type Verifier struct {
	secretKey string
	audience  string
}

// NewVerifier creates a new token verifier
func NewVerifier(secretKey, audience string) *Verifier {
	return &Verifier{
		secretKey: secretKey,
		audience:  audience,
	}
}

// Verify validates and parses an identity token
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secretKey), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if v.audience != "" {
		if err := v.checkAudience(claims); err != nil {
			return nil, err
		}
	}

	return claims, nil
}

func (v *Verifier) checkAudience(claims *Claims) error {
	for _, aud := range claims.Audience {
		if aud == v.audience {
			return nil
		}
	}
	return fmt.Errorf("invalid token audience")
}

// Sign mints a token. Production tokens come from the identity service; this
// exists for tests and local development.
func (v *Verifier) Sign(userID uuid.UUID, username, displayName string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{v.audience},
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(v.secretKey))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ExtractUserID extracts user ID from token without full validation (for logging)
func ExtractUserID(tokenString string) (uuid.UUID, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return uuid.Nil, fmt.Errorf("invalid claims")
	}

	return claims.UserID, nil
}
