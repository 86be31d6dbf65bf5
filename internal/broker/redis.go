package broker

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisRoomPrefix = "room:"

// RedisBroker uses redis Pub/Sub with one channel per room.
type RedisBroker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{rdb: rdb, logger: logger.With(zap.String("component", "broker.redis"))}
}

// Publish публікує повідомлення в канал кімнати.
func (b *RedisBroker) Publish(ctx context.Context, roomID string, data []byte) error {
	return b.rdb.Publish(ctx, redisRoomPrefix+roomID, data).Err()
}

// Subscribe listens on every room channel until ctx ends or unsubscribe is called.
func (b *RedisBroker) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	pubsub := b.rdb.PSubscribe(ctx, redisRoomPrefix+"*")
	// Чекаємо підтвердження підписки, щоб не загубити перші повідомлення.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(strings.TrimPrefix(msg.Channel, redisRoomPrefix), []byte(msg.Payload))
			}
		}
	}()

	b.logger.Info("subscribed to room channels")
	return cancel, nil
}

// Close is a no-op: the redis client is shared and closed by its owner.
func (b *RedisBroker) Close() error { return nil }
