package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

type NotificationRepo struct{ DB *sql.DB }

func NewNotificationRepo(db *sql.DB) *NotificationRepo { return &NotificationRepo{DB: db} }

func (r *NotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.CreatedAt = time.Now().UTC()
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO notifications (id, user_id, group_id, type, title, message, is_read, created_at) VALUES (?,?,?,?,?,?,0,?)",
		n.ID, n.UserID, n.GroupID, n.Type, n.Title, n.Message, n.CreatedAt)
	if isDuplicate(err) {
		// redelivered queue message
		return nil
	}
	return err
}

// ListForUser returns the newest notifications first.
func (r *NotificationRepo) ListForUser(ctx context.Context, userID string, unreadOnly bool, p ListParams) ([]model.Notification, error) {
	q := "SELECT id, user_id, group_id, type, title, message, is_read, created_at FROM notifications WHERE user_id = ?"
	args := []any{userID}
	if unreadOnly {
		q += " AND is_read = 0"
	}
	page, pageArgs := p.page()
	rows, err := r.DB.QueryContext(ctx, q+" ORDER BY created_at DESC"+page, append(args, pageArgs...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Notification{}
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.GroupID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one of the user's notifications as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, userID, id string) error {
	var exists int
	if err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM notifications WHERE id = ? AND user_id = ?", id, userID).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotificationNotFound
	}
	_, err := r.DB.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?", id, userID)
	return err
}
