package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DefaultActivationQueue is the durable queue activation messages go to.
const DefaultActivationQueue = "account.activation"

// AMQPSender publishes activations as persistent JSON messages on a durable
// RabbitMQ queue. A mail worker outside this process consumes them.
//
// The connection is opened lazily and reopened after the broker drops it.
// Each publish uses its own channel.
type AMQPSender struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewAMQPSender(url, queue string) (*AMQPSender, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("mail: empty AMQP url")
	}
	queue = strings.TrimSpace(queue)
	if queue == "" {
		queue = DefaultActivationQueue
	}
	return &AMQPSender{url: url, queue: queue}, nil
}

func (s *AMQPSender) SendActivation(ctx context.Context, a Activation) error {
	pub, err := newPublishing(a, time.Now().UTC())
	if err != nil {
		return err
	}

	ch, err := s.channel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("mail: queue declare: %w", err)
	}
	if err := ch.PublishWithContext(ctx, "", s.queue, false, false, pub); err != nil {
		return fmt.Errorf("mail: publish: %w", err)
	}
	return nil
}

func (s *AMQPSender) channel() (*amqp.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.IsClosed() {
		conn, err := amqp.Dial(s.url)
		if err != nil {
			return nil, fmt.Errorf("mail: dial: %w", err)
		}
		s.conn = conn
	}
	ch, err := s.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("mail: open channel: %w", err)
	}
	return ch, nil
}

func (s *AMQPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func newPublishing(a Activation, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("mail: encode activation: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         DefaultActivationQueue,
		MessageId:    a.UserID,
		Body:         body,
	}, nil
}
