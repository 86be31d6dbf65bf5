package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	natstest "github.com/nats-io/nats-server/v2/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNATSBroker_PublishSubscribe(t *testing.T) {
	srv := natstest.RunRandClientPortServer()
	t.Cleanup(srv.Shutdown)

	b, err := NewNATSBroker(NATSConfig{
		URL:           srv.ClientURL(),
		Name:          "saams-test",
		ReconnectWait: 100 * time.Millisecond,
		MaxReconnects: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	var mu sync.Mutex
	got := map[string]string{}
	unsubscribe, err := b.Subscribe(context.Background(), func(roomID string, data []byte) {
		mu.Lock()
		got[roomID] = string(data)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()
	// Підписка має дійти до сервера раніше за публікацію.
	require.NoError(t, b.conn.Flush())

	require.NoError(t, b.Publish(context.Background(), "apt1", []byte(`{"x":1}`)))
	require.NoError(t, b.Publish(context.Background(), "apt2", []byte(`{"x":2}`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["apt1"] == `{"x":1}` && got["apt2"] == `{"x":2}`
	}, time.Second, 10*time.Millisecond)
}

func TestNewNATSBroker_ConnectFails(t *testing.T) {
	_, err := NewNATSBroker(NATSConfig{URL: "nats://127.0.0.1:1", MaxReconnects: 0}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats connect")
}
