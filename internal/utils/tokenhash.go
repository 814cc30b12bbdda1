package utils

import (
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only reads the first 72 bytes of its input and a signed JWT is far
// longer, so the token is pre-hashed with SHA-256 first.
func digest(token string) []byte {
	sum := sha256.Sum256([]byte(token))
	return []byte(hex.EncodeToString(sum[:]))
}

// HashToken returns the bcrypt hash stored for a refresh token.
func HashToken(token string, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword(digest(token), cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckTokenHash reports whether token matches a hash from HashToken.
func CheckTokenHash(hash, token string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), digest(token)) == nil
}
