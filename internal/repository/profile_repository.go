package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

const profileColumns = "id, user_id, display_name, bio, avatar_url, phone_number, location, created_at, updated_at"

type ProfileRepo struct{ DB *sql.DB }

func NewProfileRepo(db *sql.DB) *ProfileRepo { return &ProfileRepo{DB: db} }

func scanProfile(row rowScanner) (model.Profile, error) {
	var p model.Profile
	err := row.Scan(&p.ID, &p.UserID, &p.DisplayName, &p.Bio, &p.AvatarURL,
		&p.PhoneNumber, &p.Location, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrProfileNotFound
	}
	return p, err
}

// GetByUserID loads the profile owned by an identity-provider user id.
func (r *ProfileRepo) GetByUserID(ctx context.Context, userID string) (model.Profile, error) {
	return scanProfile(r.DB.QueryRowContext(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE user_id = ? LIMIT 1", userID))
}

// Create inserts a new profile.  A second profile for the same user id
// fails with ErrProfileExists.
func (r *ProfileRepo) Create(ctx context.Context, userID string, displayName, phone *string) (model.Profile, error) {
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO profiles (id, user_id, display_name, phone_number) VALUES (?,?,?,?)",
		uuid.NewString(), userID, displayName, phone)
	if err != nil {
		if isDuplicate(err) {
			return model.Profile{}, ErrProfileExists
		}
		return model.Profile{}, err
	}
	return r.GetByUserID(ctx, userID)
}

// Upsert creates the profile on first login and otherwise fills in display
// name and phone only when they are still empty.
func (r *ProfileRepo) Upsert(ctx context.Context, userID string, displayName, phone *string) (model.Profile, error) {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO profiles (id, user_id, display_name, phone_number) VALUES (?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		   display_name = COALESCE(display_name, VALUES(display_name)),
		   phone_number = COALESCE(phone_number, VALUES(phone_number))`,
		uuid.NewString(), userID, displayName, phone)
	if err != nil {
		return model.Profile{}, err
	}
	return r.GetByUserID(ctx, userID)
}

// Update applies the non-nil fields of u and returns the stored profile.
func (r *ProfileRepo) Update(ctx context.Context, userID string, u model.ProfileUpdate) (model.Profile, error) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("display_name", u.DisplayName)
	add("bio", u.Bio)
	add("avatar_url", u.AvatarURL)
	add("phone_number", u.PhoneNumber)
	add("location", u.Location)

	if len(sets) > 0 {
		args = append(args, userID)
		// MySQL reports 0 affected rows for unchanged values, so a missing
		// profile is detected by the read below.
		if _, err := r.DB.ExecContext(ctx,
			"UPDATE profiles SET "+strings.Join(sets, ", ")+" WHERE user_id = ?", args...); err != nil {
			return model.Profile{}, err
		}
	}
	return r.GetByUserID(ctx, userID)
}
