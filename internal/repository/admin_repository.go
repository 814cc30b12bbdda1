package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

type AdminRepo struct{ DB *sql.DB }

func NewAdminRepo(db *sql.DB) *AdminRepo { return &AdminRepo{DB: db} }

// IsAdmin reports whether userID administers groupID.
func (r *AdminRepo) IsAdmin(ctx context.Context, groupID, userID string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM group_admins WHERE group_id = ? AND user_id = ?", groupID, userID).Scan(&n)
	return n > 0, err
}

// Add grants admin rights; a second grant fails with ErrAlreadyAdmin.
func (r *AdminRepo) Add(ctx context.Context, a *model.Admin) error {
	a.ID = uuid.NewString()
	a.AssignedAt = time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO group_admins (id, group_id, user_id, assigned_by, assigned_at) VALUES (?,?,?,?,?)",
		a.ID, a.GroupID, a.UserID, a.AssignedBy, a.AssignedAt)
	if isDuplicate(err) {
		return ErrAlreadyAdmin
	}
	return err
}

func (r *AdminRepo) ListByGroup(ctx context.Context, groupID string) ([]model.Admin, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT id, group_id, user_id, assigned_by, assigned_at FROM group_admins WHERE group_id = ? ORDER BY assigned_at",
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Admin{}
	for rows.Next() {
		var a model.Admin
		if err := rows.Scan(&a.ID, &a.GroupID, &a.UserID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *AdminRepo) Remove(ctx context.Context, groupID, adminID string) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM group_admins WHERE id = ? AND group_id = ?", adminID, groupID)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrAdminNotFound)
}
