// Package broker fans room frames out between server instances.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/somuraj07/saams/internal/config"
	"go.uber.org/zap"
)

// Handler receives the raw payload published for a room.
type Handler func(roomID string, data []byte)

// Broker publishes room payloads and delivers every published payload,
// including this instance's own, to the subscribed handler.
type Broker interface {
	Publish(ctx context.Context, roomID string, data []byte) error
	Subscribe(ctx context.Context, handler Handler) (unsubscribe func(), err error)
	Close() error
}

// LossNotifier is implemented by brokers whose subscription can die while
// publishing still works. fn is called once per lost subscription.
type LossNotifier interface {
	OnSubscriptionLost(fn func(err error))
}

// New builds the broker selected in cfg. It returns (nil, nil) for BrokerNone.
func New(cfg *config.Config, rdb *redis.Client, logger *zap.Logger) (Broker, error) {
	switch cfg.Broker {
	case config.BrokerNone:
		return nil, nil
	case config.BrokerRedis:
		if rdb == nil {
			return nil, fmt.Errorf("broker: redis broker needs a redis client")
		}
		return NewRedisBroker(rdb, logger), nil
	case config.BrokerNATS:
		return NewNATSBroker(NATSConfig{
			URL:           cfg.NATSURL,
			Name:          "saams-" + cfg.InstanceID,
			ReconnectWait: 2 * time.Second,
			MaxReconnects: -1,
		}, logger)
	case config.BrokerAMQP:
		return NewAMQPBroker(cfg.AMQPURL, logger)
	}
	return nil, fmt.Errorf("broker: unknown kind %q", cfg.Broker)
}
