package model

import "time"

// Notification types.
const (
	NotifyContributionDue = "contribution_due"
	NotifyPaymentReceived = "payment_received"
	NotifyGroupUpdate     = "group_update"
	NotifyAdminMessage    = "admin_message"
)

// Notification mirrors a row of the `notifications` table.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	GroupID   *string   `json:"group_id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
