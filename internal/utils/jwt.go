package utils // package utils provides helpers for signing, parsing and hashing session tokens

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token type discriminators carried in the "type" claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims is the payload of every session token.  Subject holds the identity
// provider user id, ID (jti) is only set on refresh tokens.
type Claims struct {
	Email string `json:"email"`
	Type  string `json:"type"`
	jwt.RegisteredClaims
}

// SignedToken is a serialized JWT together with its claims.
type SignedToken struct {
	Token  string
	Claims Claims
}

// Sign builds and signs an HS256 token.  ttl is measured from now.
func Sign(secret, typ, userID, email, jti string, ttl time.Duration, now time.Time) (SignedToken, error) {
	now = now.UTC()
	claims := Claims{
		Email: email,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: signed, Claims: claims}, nil
}

// ErrInvalidToken wraps every parse, signature or expiry failure.
var ErrInvalidToken = errors.New("invalid token")

// Parse verifies signature and expiry and returns the claims.  Only HS256 is
// accepted.
func Parse(secret, raw string) (Claims, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !tok.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}
