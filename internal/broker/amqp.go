package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	amqpExchange  = "saams.rooms"
	amqpKeyPrefix = "room."
)

// AMQPBroker fans room payloads out through a topic exchange. Every instance
// binds its own exclusive queue, so each published payload reaches all of them.
type AMQPBroker struct {
	conn *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	lostMu sync.Mutex
	lost   func(err error)
	closed atomic.Bool

	logger *zap.Logger
}

var _ LossNotifier = (*AMQPBroker)(nil)

// ErrSubscriptionLost is reported when the consumer channel closes on its own.
var ErrSubscriptionLost = errors.New("amqp: subscription lost")

// NewAMQPBroker dials RabbitMQ and declares the room exchange.
func NewAMQPBroker(url string, logger *zap.Logger) (*AMQPBroker, error) {
	logger = logger.With(zap.String("component", "broker.amqp"))

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(amqpExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp declare exchange: %w", err)
	}
	logger.Info("connected", zap.String("exchange", amqpExchange))

	return &AMQPBroker{conn: conn, pub: ch, logger: logger}, nil
}

func amqpRoutingKey(roomID string) string { return amqpKeyPrefix + roomID }

// amqpRoomID returns the room encoded in a routing key, or "" for keys outside
// the room namespace.
func amqpRoomID(key string) string {
	id, ok := strings.CutPrefix(key, amqpKeyPrefix)
	if !ok {
		return ""
	}
	return id
}

// Publish. amqp.Channel не безпечний для конкурентних публікацій.
func (b *AMQPBroker) Publish(ctx context.Context, roomID string, data []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	err := b.pub.PublishWithContext(ctx, amqpExchange, amqpRoutingKey(roomID), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
	})
	if err != nil {
		return fmt.Errorf("amqp publish room %s: %w", roomID, err)
	}
	return nil
}

func (b *AMQPBroker) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, amqpKeyPrefix+"*", amqpExchange, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp bind queue: %w", err)
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		defer ch.Close()
		b.consume(ctx, stop, deliveries, handler)
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }, nil
}

// OnSubscriptionLost registers fn; the hub uses it to switch to local delivery.
func (b *AMQPBroker) OnSubscriptionLost(fn func(err error)) {
	b.lostMu.Lock()
	b.lost = fn
	b.lostMu.Unlock()
}

func (b *AMQPBroker) consume(ctx context.Context, stop <-chan struct{}, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case d, ok := <-deliveries:
			if !ok {
				if b.closed.Load() {
					return
				}
				b.logger.Warn("delivery channel closed")
				b.reportLost(ErrSubscriptionLost)
				return
			}
			roomID := amqpRoomID(d.RoutingKey)
			if roomID == "" {
				b.logger.Debug("skip delivery", zap.String("routing_key", d.RoutingKey))
				continue
			}
			handler(roomID, d.Body)
		}
	}
}

func (b *AMQPBroker) reportLost(err error) {
	b.lostMu.Lock()
	fn := b.lost
	b.lostMu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Close closes the publish channel, then the connection.
func (b *AMQPBroker) Close() error {
	b.closed.Store(true)
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pub.Close(); err != nil {
		b.logger.Debug("close channel", zap.Error(err))
	}
	if err := b.conn.Close(); err != nil {
		return fmt.Errorf("amqp close: %w", err)
	}
	return nil
}
