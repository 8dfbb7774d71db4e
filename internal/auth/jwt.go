// Package auth validates the HMAC-signed bearer tokens issued by the
// operational backend and carries the resulting claims through a request.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("invalid or unauthorized token")
)

// Claims are the fields the backend puts in its tokens. Expiry is optional.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
	Role     string `json:"role"`
}

// HasRole reports whether the token was issued for role.
func (c Claims) HasRole(role string) bool {
	return c.Role == role
}

// Validator checks tokens against a shared secret with a single HMAC algorithm.
type Validator struct {
	secret []byte
	method jwt.SigningMethod
}

// NewValidator accepts HS256, HS384 or HS512.
func NewValidator(secret, algorithm string) (*Validator, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
	return &Validator{secret: []byte(secret), method: method}, nil
}

// Validate parses tokenString. Expired tokens yield ErrTokenExpired, every
// other failure ErrTokenInvalid.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Issue signs a token for username and role. A zero ttl produces a token
// without expiry. Used by tooling that calls the service.
func (v *Validator) Issue(username, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  username,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		Username: username,
		Role:     role,
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(v.method, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
