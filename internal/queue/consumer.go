package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Notifier tells an account holder that their session was taken over from
// another device.
type Notifier interface {
	NotifySuperseded(ctx context.Context, ev SessionEvent) error
}

// LogNotifier records takeovers in the log. It is the default sink when no
// delivery channel is configured.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) NotifySuperseded(_ context.Context, ev SessionEvent) error {
	n.Log.WithFields(logrus.Fields{
		"event_id":    ev.ID,
		"user_id":     ev.UserID,
		"username":    ev.Username,
		"email":       ev.Email,
		"occurred_at": ev.OccurredAt,
	}).Info("session superseded by a new login")
	return nil
}

const dialTimeout = 10 * time.Second

// Consumer reads SessionEventsQueue and hands superseded sessions to a
// Notifier. Other event types are acknowledged and skipped.
type Consumer struct {
	URL      string
	Notifier Notifier
	Log      logrus.FieldLogger
	// Prefetch bounds unacknowledged deliveries; zero means 50.
	Prefetch int
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff when the broker goes away.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := dial(dctx, c.URL)
		cancel()
		if err != nil {
			c.Log.WithError(err).Warnf("session-consumer: failed to dial broker; retrying in %s", backoff)
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
		c.Log.WithError(err).Warn("session-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	prefetch := c.Prefetch
	if prefetch <= 0 {
		prefetch = 50
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		c.Log.WithError(err).Warn("session-consumer: set QoS failed")
	}
	if err := declare(ch); err != nil {
		return err
	}

	msgs, err := ch.Consume(SessionEventsQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	c.Log.WithField("queue", SessionEventsQueue).Info("session-consumer: consuming")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handleMessage(ctx, d.Body); err != nil {
				c.Log.WithError(err).Warn("session-consumer: handle message failed")
				_ = d.Nack(false, false) // do not requeue
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, body []byte) error {
	var ev SessionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type != EventSessionSuperseded {
		return nil
	}
	if ev.UserID == 0 {
		return errors.New("superseded event without user id")
	}
	return c.Notifier.NotifySuperseded(ctx, ev)
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
