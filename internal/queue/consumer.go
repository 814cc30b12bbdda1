package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/metrics"
	"github.com/iliyamo/chama-backend/internal/model"
)

// NotificationStore persists consumed events.
type NotificationStore interface {
	Create(ctx context.Context, n *model.Notification) error
}

// Consumer drains the notifications queue into the notifications table.
type Consumer struct {
	url   string
	store NotificationStore
	log   zerolog.Logger
}

func NewConsumer(url string, store NotificationStore, log zerolog.Logger) *Consumer {
	return &Consumer{url: url, store: store, log: log}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff (capped at 30s) whenever the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			metrics.RecordUpstreamFailure("rabbitmq", "dial")
			c.log.Warn().Err(err).Dur("retry_in", backoff).Msg("notification-consumer: dial failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn().Err(err).Msg("notification-consumer: consume loop ended, reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.log.Warn().Err(err).Msg("notification-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(NotificationsQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(NotificationsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				metrics.NotificationsConsumed.WithLabelValues("rejected").Inc()
				c.log.Error().Err(err).Str("message_id", d.MessageId).Msg("notification-consumer: handle message failed")
				_ = d.Nack(false, false) // do not requeue
				continue
			}
			metrics.NotificationsConsumed.WithLabelValues("stored").Inc()
			_ = d.Ack(false)
		}
	}
}

var errInvalidEvent = errors.New("invalid notification event")

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev NotificationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.UserID == "" || ev.Type == "" {
		return fmt.Errorf("%w: user_id and type are required", errInvalidEvent)
	}
	n := &model.Notification{
		ID:      ev.ID,
		UserID:  ev.UserID,
		Type:    ev.Type,
		Title:   ev.Title,
		Message: ev.Message,
	}
	if ev.GroupID != "" {
		g := ev.GroupID
		n.GroupID = &g
	}
	if err := c.store.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}
