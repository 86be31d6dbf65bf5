package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const natsRoomSubject = "room"

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// NATSBroker publishes room payloads on room.<id> subjects.
type NATSBroker struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSBroker connects to NATS and returns a ready broker.
func NewNATSBroker(cfg NATSConfig, logger *zap.Logger) (*NATSBroker, error) {
	logger = logger.With(zap.String("component", "broker.nats"))
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("connected", zap.String("url", nc.ConnectedUrl()))

	return &NATSBroker{conn: nc, logger: logger}, nil
}

func (b *NATSBroker) Publish(_ context.Context, roomID string, data []byte) error {
	return b.conn.Publish(natsRoomSubject+"."+roomID, data)
}

func (b *NATSBroker) Subscribe(ctx context.Context, handler Handler) (func(), error) {
	sub, err := b.conn.Subscribe(natsRoomSubject+".*", func(msg *nats.Msg) {
		handler(strings.TrimPrefix(msg.Subject, natsRoomSubject+"."), msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Debug("unsubscribe", zap.Error(err))
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(stop) }) }, nil
}

// Close drains the connection.
func (b *NATSBroker) Close() error {
	if err := b.conn.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}
