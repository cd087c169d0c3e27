package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	queueSize      = 256
	redialAttempts = 4
	redialBackoff  = 500 * time.Millisecond
)

var (
	ErrEmitterClosed = errors.New("notification emitter closed")
	ErrQueueFull     = errors.New("notification queue full")
)

// publisher is the part of *amqp.Channel the emitter needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Close() error
}

type session struct {
	conn   io.Closer
	ch     publisher
	closed chan *amqp.Error
}

func newSession(conn io.Closer, ch publisher) *session {
	return &session{conn: conn, ch: ch, closed: ch.NotifyClose(make(chan *amqp.Error, 1))}
}

// broken reports whether the broker closed the channel since the last publish.
func (s *session) broken() (*amqp.Error, bool) {
	select {
	case err, ok := <-s.closed:
		if !ok {
			return nil, true
		}
		return err, true
	default:
		return nil, false
	}
}

func (s *session) close() {
	_ = s.ch.Close()
	_ = s.conn.Close()
}

type dialFunc func() (*session, error)

// AMQPEmitter publishes notifications to a durable RabbitMQ queue from a
// background goroutine. Notify only enqueues, so a slow or lost broker never
// holds up the request that triggered the notification. A closed or failing
// channel is redialled before the next publish.
type AMQPEmitter struct {
	dial    dialFunc
	queue   string
	backoff time.Duration
	logger  *zap.Logger

	mu       sync.RWMutex
	closed   bool
	pending  chan amqp.Publishing
	stopping chan struct{}
	done     chan struct{}
}

func NewAMQPEmitter(url, queue string, logger *zap.Logger) (*AMQPEmitter, error) {
	dial := func() (*session, error) {
		conn, ch, err := Open(url, queue)
		if err != nil {
			return nil, err
		}
		return newSession(conn, ch), nil
	}
	return newAMQPEmitter(dial, queue, queueSize, redialBackoff, logger)
}

func newAMQPEmitter(dial dialFunc, queue string, size int, backoff time.Duration, logger *zap.Logger) (*AMQPEmitter, error) {
	s, err := dial()
	if err != nil {
		return nil, err
	}
	e := &AMQPEmitter{
		dial:     dial,
		queue:    queue,
		backoff:  backoff,
		logger:   logger,
		pending:  make(chan amqp.Publishing, size),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go e.run(s)
	return e, nil
}

// Open dials the broker and declares the notification queue.
func Open(url, queue string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	return conn, ch, nil
}

// Notify enqueues the notification and returns without touching the broker.
// The caller's context is not used for publishing.
func (e *AMQPEmitter) Notify(_ context.Context, userID uuid.UUID, kind Kind, payload map[string]any) error {
	msg := NewMessage(userID, kind, payload)
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID.String(),
		Timestamp:    msg.CreatedAt,
		Type:         string(kind),
		Body:         body,
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEmitterClosed
	}
	select {
	case e.pending <- pub:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s for %s", ErrQueueFull, kind, userID)
	}
}

func (e *AMQPEmitter) run(s *session) {
	defer close(e.done)
	for pub := range e.pending {
		s = e.publish(s, pub)
	}
	if s != nil {
		s.close()
	}
}

// publish delivers one message, redialling a broken session with a growing
// backoff. Once Close was called a failed message is dropped without redial.
func (e *AMQPEmitter) publish(s *session, pub amqp.Publishing) *session {
	for attempt := 0; attempt <= redialAttempts; attempt++ {
		if s == nil {
			if attempt > 0 && !e.sleep(time.Duration(attempt)*e.backoff) {
				break
			}
			next, err := e.dial()
			if err != nil {
				e.logger.Warn("redial rabbitmq", zap.Int("attempt", attempt), zap.Error(err))
				continue
			}
			s = next
		}

		if amqpErr, broken := s.broken(); broken {
			e.logger.Warn("amqp channel closed, reconnecting", zap.Any("reason", amqpErr))
			s.close()
			s = nil
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err := s.ch.PublishWithContext(ctx,
			"",      // default exchange
			e.queue, // routing key
			false,
			false,
			pub,
		)
		cancel()
		if err == nil {
			return s
		}
		e.logger.Warn("publish notification", zap.String("message_id", pub.MessageId), zap.Error(err))
		s.close()
		s = nil
	}

	e.logger.Error("dropping notification",
		zap.String("message_id", pub.MessageId),
		zap.String("kind", pub.Type),
	)
	return s
}

// sleep waits d unless the emitter is shutting down.
func (e *AMQPEmitter) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-e.stopping:
		return false
	}
}

// Close stops accepting notifications, publishes what is already queued and
// closes the broker connection.
func (e *AMQPEmitter) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	close(e.stopping)
	close(e.pending)
	e.mu.Unlock()

	<-e.done
	return nil
}

// HandlerFunc processes one delivered notification.
type HandlerFunc func(ctx context.Context, m Message) error

// Consume reads the queue until ctx is done, acking every delivery so a bad
// message is never redelivered forever.
func Consume(ctx context.Context, ch *amqp.Channel, queue string, logger *zap.Logger, handle HandlerFunc) error {
	msgs, err := ch.Consume(
		queue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			handleDelivery(ctx, d, logger, handle)
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, logger *zap.Logger, handle HandlerFunc) {
	defer func() {
		if err := d.Ack(false); err != nil {
			logger.Warn("ack notification", zap.Error(err))
		}
	}()

	m, err := DecodeMessage(d.Body)
	if err != nil {
		logger.Warn("dropping malformed notification", zap.Error(err), zap.String("message_id", d.MessageId))
		return
	}
	if err := handle(ctx, m); err != nil {
		logger.Error("notification handler failed",
			zap.Error(err),
			zap.String("kind", string(m.Kind)),
			zap.String("user_id", m.UserID.String()),
		)
	}
}
