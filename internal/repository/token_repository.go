package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/chama-backend/internal/model"
)

// TokenRepo persists refresh-token records keyed by jti.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// ReplaceForUser revokes every active refresh token of the user and inserts
// rt in the same transaction, leaving exactly one live row.
func (r *TokenRepo) ReplaceForUser(ctx context.Context, rt model.RefreshToken) error {
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ? AND revoked = 0",
			rt.UserID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO refresh_tokens (jti, user_id, token_hash, expires_at, revoked) VALUES (?,?,?,?,0)",
			rt.JTI, rt.UserID, rt.TokenHash, rt.ExpiresAt.UTC())
		return err
	})
}

// FindActiveByJTI returns the non-revoked, unexpired row for jti.
func (r *TokenRepo) FindActiveByJTI(ctx context.Context, jti string, now time.Time) (model.RefreshToken, error) {
	var rt model.RefreshToken
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, jti, user_id, token_hash, expires_at, revoked, created_at
		   FROM refresh_tokens
		  WHERE jti = ? AND revoked = 0 AND expires_at > ? LIMIT 1`,
		jti, now.UTC()).Scan(&rt.ID, &rt.JTI, &rt.UserID, &rt.TokenHash, &rt.ExpiresAt, &rt.Revoked, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rt, ErrTokenNotFound
	}
	return rt, err
}

// RevokeByJTI marks the row revoked.  Revoking an already revoked or unknown
// jti is not an error.
func (r *TokenRepo) RevokeByJTI(ctx context.Context, jti string) error {
	_, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked = 1 WHERE jti = ? AND revoked = 0", jti)
	return err
}
