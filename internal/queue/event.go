// Package queue carries domain events over RabbitMQ and turns them into
// user notifications.
package queue

import "time"

// NotificationsQueue is the durable queue both sides declare.
const NotificationsQueue = "chama.notifications"

// NotificationEvent is published when something a member should hear about
// happens in a group.  ID doubles as the notification row id so a
// redelivered message is stored once.
type NotificationEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	GroupID    string    `json:"group_id,omitempty"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
