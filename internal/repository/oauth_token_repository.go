package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/chama-backend/internal/model"
)

type OAuthTokenRepo struct{ DB *sql.DB }

func NewOAuthTokenRepo(db *sql.DB) *OAuthTokenRepo { return &OAuthTokenRepo{DB: db} }

// Upsert stores the provider token pair, replacing any previous pair for the
// same (user, provider).
func (r *OAuthTokenRepo) Upsert(ctx context.Context, t model.OAuthToken) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO user_oauth_tokens (user_id, provider, access_token, refresh_token, expires_at)
		 VALUES (?,?,?,?,?)
		 ON DUPLICATE KEY UPDATE
		   access_token = VALUES(access_token),
		   refresh_token = VALUES(refresh_token),
		   expires_at = VALUES(expires_at)`,
		t.UserID, t.Provider, t.AccessToken, t.RefreshToken, t.ExpiresAt)
	return err
}

func (r *OAuthTokenRepo) Get(ctx context.Context, userID, provider string) (model.OAuthToken, error) {
	var t model.OAuthToken
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, provider, access_token, refresh_token, expires_at, created_at, updated_at
		   FROM user_oauth_tokens WHERE user_id = ? AND provider = ? LIMIT 1`,
		userID, provider).Scan(&t.ID, &t.UserID, &t.Provider, &t.AccessToken, &t.RefreshToken,
		&t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrOAuthTokenNotFound
	}
	return t, err
}

func (r *OAuthTokenRepo) Delete(ctx context.Context, userID, provider string) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM user_oauth_tokens WHERE user_id = ? AND provider = ?", userID, provider)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrOAuthTokenNotFound)
}
