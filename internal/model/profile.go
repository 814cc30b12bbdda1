package model

import "time"

// Profile mirrors a row of the `profiles` table.  UserID is the identity
// provider's user id and is unique; one profile exists per identity.
type Profile struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	DisplayName *string   `json:"display_name"`
	Bio         *string   `json:"bio"`
	AvatarURL   *string   `json:"avatar_url"`
	PhoneNumber *string   `json:"phone_number"`
	Location    *string   `json:"location"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProfileUpdate lists the editable profile fields.  Nil fields are left
// unchanged.
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	AvatarURL   *string
	PhoneNumber *string
	Location    *string
}

// CurrentUser is the caller identity resolved from a session token.
type CurrentUser struct {
	UserID  string
	Email   string
	Profile Profile
}
