package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"market-chat/errors"
)

// CustomClaims defines the structure of the data stored inside the JWT.
// The subject user id is the only claim the delivery pipeline consumes.
type CustomClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// TokenService verifies bearer credentials issued by the identity
// provider. The backend never issues production tokens itself;
// Generate exists for tests and local tooling.
type TokenService struct {
	secret []byte
	issuer string
}

func NewTokenService(secret, issuer string) *TokenService {
	return &TokenService{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates the signature and expiration of a JWT
// string and returns the authenticated user id.
func (s *TokenService) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrUnauthorized, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", errors.ErrUnauthorized
	}
	return claims.UserID, nil
}

// Generate creates a signed token for a user, valid for the given duration.
func (s *TokenService) Generate(userID string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := &CustomClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
		},
	}

	// HS256, HMAC with SHA256, matching what the identity provider signs with.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}
