// Package realtime is the client side of the room protocol: one WebSocket
// connection per session, room join/leave, message broadcast and per-room
// subscriptions. It implements conversation.Transport.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/somuraj07/saams/internal/config"
	"github.com/somuraj07/saams/internal/conversation"
	"github.com/somuraj07/saams/internal/models"
	"go.uber.org/zap"
)

// ErrClosed is returned by every operation after the connection has gone.
var ErrClosed = errors.New("realtime: connection closed")

var _ conversation.Transport = (*Client)(nil)

type subscription struct {
	roomID  string
	handler func(models.Frame)
}

// Client is one realtime connection. Frames are written by a single writer
// goroutine and dispatched by a single reader goroutine. A dropped
// connection is not redialled; watch Done and dial again.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	out  chan models.Frame
	done chan struct{}

	mu     sync.Mutex
	joined map[string]bool
	subs   map[conversation.Token]subscription
	next   conversation.Token
	err    error

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to url (ws:// or wss://) with a bearer token. The caller must
// Close the client when the session ends.
func Dial(ctx context.Context, url, token string, logger *zap.Logger) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:   conn,
		logger: logger.With(zap.String("component", "realtime")),
		out:    make(chan models.Frame, 64),
		done:   make(chan struct{}),
		joined: make(map[string]bool),
		subs:   make(map[conversation.Token]subscription),
	}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

// Done is closed when the connection is gone, by Close or by the network.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close sends a close frame and tears the connection down. It is safe to
// call multiple times.
func (c *Client) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

func (c *Client) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.mu.Unlock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) enqueue(f models.Frame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- f:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// JoinRoom subscribes the connection to roomID. Joining twice sends one frame.
func (c *Client) JoinRoom(roomID string) error {
	c.mu.Lock()
	if c.joined[roomID] {
		c.mu.Unlock()
		return nil
	}
	c.joined[roomID] = true
	c.mu.Unlock()

	if err := c.enqueue(models.Frame{Type: models.EventJoinRoom, RoomID: roomID}); err != nil {
		c.mu.Lock()
		delete(c.joined, roomID)
		c.mu.Unlock()
		return err
	}
	return nil
}

// LeaveRoom unsubscribes the connection from roomID.
func (c *Client) LeaveRoom(roomID string) error {
	c.mu.Lock()
	if !c.joined[roomID] {
		c.mu.Unlock()
		return nil
	}
	delete(c.joined, roomID)
	c.mu.Unlock()
	return c.enqueue(models.Frame{Type: models.EventLeaveRoom, RoomID: roomID})
}

// SendToRoom broadcasts an already persisted message to the other members of roomID.
func (c *Client) SendToRoom(roomID string, msg models.ChatMessage) error {
	return c.enqueue(models.Frame{Type: models.EventSendMessage, RoomID: roomID, Message: &msg})
}

// Subscribe registers handler for every inbound frame of roomID. Handlers
// run on the reader goroutine.
func (c *Client) Subscribe(roomID string, handler func(models.Frame)) conversation.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	c.subs[c.next] = subscription{roomID: roomID, handler: handler}
	return c.next
}

// Unsubscribe removes a handler. Unknown tokens are ignored.
func (c *Client) Unsubscribe(token conversation.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, token)
}

func (c *Client) handlersFor(roomID string) []func(models.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var hs []func(models.Frame)
	for _, s := range c.subs {
		if s.roomID == roomID {
			hs = append(hs, s.handler)
		}
	}
	return hs
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	c.conn.SetReadLimit(config.MaxFrameSize * 4)
	_ = c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	// Сервер пінгує; кожен ping продовжує дедлайн.
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(config.WriteWait))
	})

	for {
		var f models.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("realtime connection lost", zap.Error(err))
				c.shutdown(err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(config.PongWait))

		roomID := f.RoomID
		if roomID == "" && f.Message != nil {
			roomID = f.Message.AppointmentID
		}
		if f.Type == models.EventError {
			c.logger.Warn("server error frame", zap.String("room_id", roomID), zap.String("error", f.Error))
		}
		for _, h := range c.handlersFor(roomID) {
			h(f)
		}
	}
}

func (c *Client) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case f := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Warn("realtime write failed", zap.Error(err))
				c.shutdown(err)
				return
			}
		}
	}
}
