package chathub_test

import (
	"sync"

	"github.com/somuraj07/saams/internal/models"
)

type MockClient struct {
	connID      string
	userID      string
	RecvChannel chan models.Frame
	closed      chan struct{}
	closeOnce   sync.Once
}

func newMockClient(connID, userID string) *MockClient {
	return newMockClientWithBuffer(connID, userID, 10)
}

func newMockClientWithBuffer(connID, userID string, size int) *MockClient {
	return &MockClient{
		connID:      connID,
		userID:      userID,
		RecvChannel: make(chan models.Frame, size),
		closed:      make(chan struct{}),
	}
}

func (c *MockClient) GetConnID() string {
	return c.connID
}

func (c *MockClient) GetUserID() string {
	return c.userID
}

func (c *MockClient) GetSendChannel() chan<- models.Frame {
	return c.RecvChannel
}

func (c *MockClient) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// drain returns every frame currently buffered for the client.
func (c *MockClient) drain() []models.Frame {
	var out []models.Frame
	for {
		select {
		case f := <-c.RecvChannel:
			out = append(out, f)
		default:
			return out
		}
	}
}

// closingClient closes its send channel on Close, like WebSocketClient.
type closingClient struct {
	*MockClient
}

func newClosingClient(connID, userID string, size int) *closingClient {
	return &closingClient{MockClient: newMockClientWithBuffer(connID, userID, size)}
}

func (c *closingClient) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.RecvChannel)
	})
}
