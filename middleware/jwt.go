package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token fails validation
	ErrInvalidToken = errors.New("invalid token")

	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// jwtClaims carries the registered claims plus the identity
// collaborator's custom fields
type jwtClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	OrgID  string `json:"organization_id"`
	Role   string `json:"role"`
}

// JWTValidator validates HS256 tokens issued by the identity
// collaborator. Implements TokenValidator.
type JWTValidator struct {
	secret []byte
	issuer string
}

// NewJWTValidator creates a new JWT validator
func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{
		secret: []byte(secret),
		issuer: issuer,
	}
}

// ValidateToken verifies the token signature, expiry, and issuer, and
// returns the extracted claims
func (v *JWTValidator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	parsed := &jwtClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, parsed, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	if parsed.OrgID == "" {
		return nil, fmt.Errorf("%w: organization_id", ErrMissingClaim)
	}
	if parsed.Role == "" {
		return nil, fmt.Errorf("%w: role", ErrMissingClaim)
	}

	claims := &Claims{
		Sub:    parsed.Subject,
		UserID: parsed.UserID,
		OrgID:  parsed.OrgID,
		Role:   parsed.Role,
		Iss:    parsed.Issuer,
	}
	if parsed.ExpiresAt != nil {
		claims.Exp = parsed.ExpiresAt.Unix()
	}
	if parsed.IssuedAt != nil {
		claims.Iat = parsed.IssuedAt.Unix()
	}

	return claims, nil
}

// IssueToken signs a token for the given identity. Used by tests and
// local development; production tokens come from the identity
// collaborator.
func (v *JWTValidator) IssueToken(userID, orgID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID: userID,
		OrgID:  orgID,
		Role:   role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
