package chathub

import (
	"context"
	"sync/atomic"

	"github.com/somuraj07/saams/internal/broker"
	"github.com/somuraj07/saams/internal/metrics"
	"github.com/somuraj07/saams/internal/models"
	"go.uber.org/zap"
)

// RoomCommand asks the hub to add or remove a connection from a room.
type RoomCommand struct {
	Client Client
	RoomID string
}

// OutboundMessage is a persisted message a connection wants relayed to its room.
type OutboundMessage struct {
	Client  Client
	RoomID  string
	Message models.ChatMessage
}

type membersQuery struct {
	roomID string
	reply  chan []string
}

// ManagerService is the hub. Only the Run goroutine touches Clients and Rooms.
type ManagerService struct {
	Clients map[string]Client            // connID -> client
	Rooms   map[string]map[string]Client // roomID -> connID -> client

	// Channels
	RegisterCh   chan Client
	UnregisterCh chan Client
	JoinCh       chan RoomCommand
	LeaveCh      chan RoomCommand
	OutboundCh   chan OutboundMessage
	PubSubCh     chan models.RoomBroadcast

	membersCh chan membersQuery
	done      chan struct{}

	Broker     broker.Broker
	InstanceID string
	localOnly  atomic.Bool // set when the broker subscription failed or was lost
	logger     *zap.Logger
}

// NewManagerService creates a hub. b may be nil for a single-instance deployment.
func NewManagerService(b broker.Broker, instanceID string, logger *zap.Logger) *ManagerService {
	return &ManagerService{
		Clients:      make(map[string]Client),
		Rooms:        make(map[string]map[string]Client),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		JoinCh:       make(chan RoomCommand),
		LeaveCh:      make(chan RoomCommand),
		OutboundCh:   make(chan OutboundMessage),
		PubSubCh:     make(chan models.RoomBroadcast, 64),
		membersCh:    make(chan membersQuery),
		done:         make(chan struct{}),
		Broker:       b,
		InstanceID:   instanceID,
		logger:       logger.With(zap.String("component", "hub")),
	}
}

// Run обробляє всі команди хаба, доки ctx не буде скасовано.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)

	if m.Broker != nil {
		if n, ok := m.Broker.(broker.LossNotifier); ok {
			n.OnSubscriptionLost(func(err error) {
				m.logger.Error("broker subscription lost, delivering locally only", zap.Error(err))
				m.localOnly.Store(true)
			})
		}
		unsubscribe, err := m.StartPubSubListener(ctx)
		if err != nil {
			m.logger.Error("broker subscription failed, delivering locally only", zap.Error(err))
			m.localOnly.Store(true)
		} else {
			defer unsubscribe()
		}
	}

	for {
		select {
		case <-ctx.Done():
			for _, c := range m.Clients {
				m.removeClient(c)
			}
			m.logger.Info("hub stopped")
			return

		case c := <-m.RegisterCh:
			if _, ok := m.Clients[c.GetConnID()]; ok {
				continue
			}
			m.Clients[c.GetConnID()] = c
			metrics.ConnectionsTotal.Inc()
			m.logger.Debug("client registered",
				zap.String("conn_id", c.GetConnID()),
				zap.String("user_id", c.GetUserID()))

		case c := <-m.UnregisterCh:
			if _, ok := m.Clients[c.GetConnID()]; ok {
				m.removeClient(c)
			}

		case cmd := <-m.JoinCh:
			m.join(cmd)

		case cmd := <-m.LeaveCh:
			m.leave(cmd.Client.GetConnID(), cmd.RoomID)

		case out := <-m.OutboundCh:
			m.handleOutbound(ctx, out)

		case b := <-m.PubSubCh:
			m.deliverLocal(b)

		case q := <-m.membersCh:
			ids := make([]string, 0, len(m.Rooms[q.roomID]))
			for id := range m.Rooms[q.roomID] {
				ids = append(ids, id)
			}
			q.reply <- ids
		}
	}
}

func (m *ManagerService) join(cmd RoomCommand) {
	connID := cmd.Client.GetConnID()
	if _, ok := m.Clients[connID]; !ok {
		return
	}
	room, ok := m.Rooms[cmd.RoomID]
	if !ok {
		room = make(map[string]Client)
		m.Rooms[cmd.RoomID] = room
		metrics.RoomsActive.Set(float64(len(m.Rooms)))
	}
	// Повторний join нічого не змінює.
	room[connID] = cmd.Client
}

func (m *ManagerService) leave(connID, roomID string) {
	room, ok := m.Rooms[roomID]
	if !ok {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(m.Rooms, roomID)
		metrics.RoomsActive.Set(float64(len(m.Rooms)))
	}
}

// removeClient drops the connection from every room and closes it.
func (m *ManagerService) removeClient(c Client) {
	connID := c.GetConnID()
	for roomID := range m.Rooms {
		m.leave(connID, roomID)
	}
	delete(m.Clients, connID)
	metrics.ConnectionsTotal.Dec()
	c.Close()
	m.logger.Debug("client unregistered", zap.String("conn_id", connID))
}

func (m *ManagerService) handleOutbound(ctx context.Context, out OutboundMessage) {
	connID := out.Client.GetConnID()
	if _, ok := m.Clients[connID]; !ok {
		// Клієнт уже видалений і його Send закрито; відповідати нікуди.
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return
	}
	if _, joined := m.Rooms[out.RoomID][connID]; !joined {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		m.trySend(out.Client, models.Frame{
			Type:   models.EventError,
			RoomID: out.RoomID,
			Error:  "join the room before sending to it",
		})
		return
	}

	msg := out.Message
	b := models.RoomBroadcast{
		Origin:      m.InstanceID,
		ExcludeConn: connID,
		Frame: models.Frame{
			Type:    models.EventReceiveMessage,
			RoomID:  out.RoomID,
			Message: &msg,
		},
	}
	metrics.MessagesTotal.WithLabelValues("relayed").Inc()

	if !m.useBroker() {
		m.deliverLocal(b)
		return
	}
	// Публікація йде поза циклом хаба; власна копія повернеться через брокер.
	go m.publish(ctx, b)
}

// NotifyAppointment fans an appointment-updated frame out to the room of apt.
// It is safe to call from any goroutine.
func (m *ManagerService) NotifyAppointment(apt models.Appointment) {
	b := models.RoomBroadcast{
		Origin: m.InstanceID,
		Frame: models.Frame{
			Type:        models.EventAppointmentUpdated,
			RoomID:      apt.ID,
			Appointment: &apt,
		},
	}
	if m.useBroker() {
		m.publish(context.Background(), b)
		return
	}
	m.enqueueLocal(b)
}

func (m *ManagerService) useBroker() bool {
	return m.Broker != nil && !m.localOnly.Load()
}

// deliverLocal sends b.Frame to every local member of the room except b.ExcludeConn.
func (m *ManagerService) deliverLocal(b models.RoomBroadcast) {
	var slow []Client
	for connID, c := range m.Rooms[b.Frame.RoomID] {
		if connID == b.ExcludeConn {
			continue
		}
		select {
		case c.GetSendChannel() <- b.Frame:
			metrics.MessagesTotal.WithLabelValues("delivered").Inc()
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		metrics.MessagesTotal.WithLabelValues("dropped").Inc()
		m.logger.Warn("send buffer full, dropping client",
			zap.String("conn_id", c.GetConnID()),
			zap.String("user_id", c.GetUserID()))
		m.removeClient(c)
	}
}

func (m *ManagerService) trySend(c Client, f models.Frame) {
	select {
	case c.GetSendChannel() <- f:
	default:
	}
}

// RoomMembers returns the connection IDs currently joined to roomID.
func (m *ManagerService) RoomMembers(roomID string) []string {
	q := membersQuery{roomID: roomID, reply: make(chan []string, 1)}
	select {
	case m.membersCh <- q:
		return <-q.reply
	case <-m.done:
		return nil
	}
}

// Register, Unregister, Join, Leave and Send hand commands to the hub and
// return immediately once the hub has stopped.

func (m *ManagerService) Register(c Client) {
	select {
	case m.RegisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) Unregister(c Client) {
	select {
	case m.UnregisterCh <- c:
	case <-m.done:
	}
}

func (m *ManagerService) Join(c Client, roomID string) {
	select {
	case m.JoinCh <- RoomCommand{Client: c, RoomID: roomID}:
	case <-m.done:
	}
}

func (m *ManagerService) Leave(c Client, roomID string) {
	select {
	case m.LeaveCh <- RoomCommand{Client: c, RoomID: roomID}:
	case <-m.done:
	}
}

func (m *ManagerService) Send(c Client, roomID string, msg models.ChatMessage) {
	select {
	case m.OutboundCh <- OutboundMessage{Client: c, RoomID: roomID, Message: msg}:
	case <-m.done:
	}
}

// Done is closed when Run returns.
func (m *ManagerService) Done() <-chan struct{} {
	return m.done
}
