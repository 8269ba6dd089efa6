// Package auth verifies the bearer tokens clients present during the
// connection handshake and signs the HMAC service tokens used on internal
// account-service calls.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier extracts a user id from a bearer token.
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier validates HMAC-signed JWTs.
type JWTVerifier struct {
	secret       []byte
	method       jwt.SigningMethod
	verifyExpiry bool
}

// NewJWTVerifier creates a verifier for the named HMAC algorithm (HS256,
// HS384, or HS512). When verifyExpiry is false the exp claim is ignored;
// some deployments validate expiry at the edge and only need the subject
// extracted here.
func NewJWTVerifier(secret []byte, algorithm string, verifyExpiry bool) (*JWTVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret must not be empty")
	}
	switch algorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}
	return &JWTVerifier{
		secret:       secret,
		method:       jwt.GetSigningMethod(algorithm),
		verifyExpiry: verifyExpiry,
	}, nil
}

// Verify validates the token and extracts the user id from the "sub" claim.
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{v.method.Alg()})}
	if !v.verifyExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate creates a signed token for the given user id. Used by CLI tools
// and tests, not by the server itself.
func (v *JWTVerifier) Generate(userID string, expiresAt int64) (string, error) {
	claims := jwt.MapClaims{"sub": userID}
	if expiresAt > 0 {
		claims["exp"] = expiresAt
	}
	token := jwt.NewWithClaims(v.method, claims)
	return token.SignedString(v.secret)
}
