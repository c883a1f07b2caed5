// Package auth verifies the bearer tokens that identify import callers.
//
// Tokens are HS256 JWTs issued by the main application. The claims carry
// the actor id (sub), the tenant (school_id) and the actor's role.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken wraps every verification failure.
var ErrInvalidToken = errors.New("invalid token")

// AccessTokenClaims are the claims of an access token.
type AccessTokenClaims struct {
	Sub      string `json:"sub"`
	SchoolID string `json:"school_id"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies access tokens with a shared secret.
type JWTService struct {
	secret []byte
	issuer string
}

// NewJWTService creates a JWTService. When issuer is non-empty, tokens must
// carry a matching iss claim.
func NewJWTService(secret, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), issuer: issuer}
}

// GenerateAccessToken signs a token for the given actor. It is used by tests
// and the token CLI; production tokens come from the main application.
func (j *JWTService) GenerateAccessToken(actorID, schoolID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessTokenClaims{
		Sub:      actorID,
		SchoolID: schoolID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateAccessToken parses and verifies a token and returns its claims.
func (j *JWTService) ValidateAccessToken(tokenString string) (*AccessTokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if j.issuer != "" {
		opts = append(opts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return j.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}
	if claims.Sub == "" || claims.SchoolID == "" || claims.Role == "" {
		return nil, fmt.Errorf("%w: sub, school_id and role are required", ErrInvalidToken)
	}

	return claims, nil
}
