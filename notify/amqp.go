package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/warp/roombook/core"
)

// DefaultQueue is the broker queue events are routed to.
const DefaultQueue = "roombook.reservation.events"

type AMQPConfig struct {
	URL   string
	Queue string
}

// amqpPublisher is the part of *amqp.Channel the sink needs.
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPSink publishes each event as a persistent JSON message on a durable
// queue through the default exchange.
type AMQPSink struct {
	mu    sync.Mutex
	ch    amqpPublisher
	queue string
	close func() error
}

func DialAMQP(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp: url is required")
	}
	if cfg.Queue == "" {
		cfg.Queue = DefaultQueue
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp: declare %s: %w", cfg.Queue, err)
	}

	s := newAMQPSink(ch, cfg.Queue)
	s.close = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return s, nil
}

func newAMQPSink(ch amqpPublisher, queue string) *AMQPSink {
	return &AMQPSink{ch: ch, queue: queue, close: func() error { return nil }}
}

func (s *AMQPSink) Name() string { return "amqp" }

func (s *AMQPSink) Deliver(ctx context.Context, env core.Envelope) error {
	body, err := json.Marshal(NewEvent(env))
	if err != nil {
		return fmt.Errorf("amqp: marshal %s: %w", env.Notification.ID, err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    string(env.Notification.ID),
		Type:         string(env.Notification.Type),
		Body:         body,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
		return fmt.Errorf("amqp: publish %s: %w", env.Notification.ID, err)
	}
	return nil
}

func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.close()
}
