package model

import "time"

// RefreshToken models an entry in the `refresh_tokens` table.  Only a
// one-way hash of the signed token is stored; JTI is the lookup key.
type RefreshToken struct {
	ID        uint64
	JTI       string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// OAuthToken is a third-party provider token pair, unique per
// (user, provider).
type OAuthToken struct {
	ID           uint64     `json:"-"`
	UserID       string     `json:"user_id"`
	Provider     string     `json:"provider"`
	AccessToken  string     `json:"access_token"`
	RefreshToken *string    `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpired reports whether the provider access token has expired.  Tokens
// without an expiry never expire.
func (t OAuthToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}
