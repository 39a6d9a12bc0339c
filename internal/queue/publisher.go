package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

var (
	// ErrPublisherBusy is returned when the outbound buffer is full. The event
	// is dropped.
	ErrPublisherBusy = errors.New("rabbitmq: publish buffer full")
	// ErrPublisherClosed is returned after Close.
	ErrPublisherClosed = errors.New("rabbitmq: publisher closed")
)

const (
	defaultBuffer      = 256
	defaultSendTimeout = 2 * time.Second
)

// Publisher sends session events to SessionEventsQueue. PublishSessionEvent
// only enqueues; one background goroutine owns the broker connection, so a
// slow or dead broker never holds up a request. Each delivery attempt,
// including the dial, is bounded by the send timeout.
type Publisher struct {
	url         string
	log         logrus.FieldLogger
	sendTimeout time.Duration

	events    chan SessionEvent
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by run
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewPublisher starts the delivery goroutine. Call Close to stop it.
func NewPublisher(url string, log logrus.FieldLogger) *Publisher {
	return newPublisher(url, log, defaultBuffer, defaultSendTimeout)
}

func newPublisher(url string, log logrus.FieldLogger, buffer int, sendTimeout time.Duration) *Publisher {
	p := &Publisher{
		url:         url,
		log:         log,
		sendTimeout: sendTimeout,
		events:      make(chan SessionEvent, buffer),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go p.run()
	return p
}

// PublishSessionEvent queues ev for delivery and returns at once.
func (p *Publisher) PublishSessionEvent(ctx context.Context, ev SessionEvent) error {
	select {
	case <-p.stop:
		return ErrPublisherClosed
	default:
	}
	select {
	case p.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrPublisherBusy
	}
}

// Close stops accepting events, makes one bounded attempt to deliver what is
// still queued and releases the connection.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() { close(p.stop) })
	<-p.done
	return nil
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		case <-p.stop:
			p.drain()
			p.reset()
			return
		}
	}
}

func (p *Publisher) deliver(ev SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.sendTimeout)
	defer cancel()
	if err := p.send(ctx, ev); err != nil {
		p.log.WithError(err).WithFields(logrus.Fields{
			"event_id": ev.ID,
			"event":    ev.Type,
			"user_id":  ev.UserID,
		}).Warn("session event dropped")
	}
}

func (p *Publisher) drain() {
	for {
		select {
		case ev := <-p.events:
			p.deliver(ev)
		default:
			return
		}
	}
}

// send publishes one event, dialing first if needed. It never outlives ctx.
func (p *Publisher) send(ctx context.Context, ev SessionEvent) error {
	msg, err := encode(ev)
	if err != nil {
		return err
	}
	ch, err := p.channel(ctx)
	if err != nil {
		return err
	}
	if err := ch.PublishWithContext(ctx,
		"",                 // default exchange
		SessionEventsQueue, // routing key = queue name
		false,              // mandatory
		false,              // immediate
		msg,
	); err != nil {
		p.reset()
		return fmt.Errorf("rabbitmq: publish: %w", err)
	}
	return nil
}

// channel returns the open channel, dialing and declaring the queue when
// needed. The dial and handshake share ctx's deadline.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := dial(ctx, p.url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
	}
	if err := declare(ch); err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	p.log.WithField("queue", SessionEventsQueue).Info("rabbitmq publisher connected")
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

// dial connects with a connection timeout taken from ctx. amqp.DefaultDial
// keeps the deadline on the socket through the AMQP handshake.
func dial(ctx context.Context, url string) (*amqp.Connection, error) {
	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	return amqp.DialConfig(url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
}

// declare makes sure the durable queue exists. It is idempotent.
func declare(ch *amqp.Channel) error {
	if _, err := ch.QueueDeclare(
		SessionEventsQueue, // name
		true,               // durable
		false,              // autoDelete
		false,              // exclusive
		false,              // noWait
		nil,                // args
	); err != nil {
		return fmt.Errorf("rabbitmq: queue declare: %w", err)
	}
	return nil
}

func encode(ev SessionEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.ID,
		Type:         ev.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}
