package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/models"
	"go.uber.org/zap"
)

// State of the controller for the selected appointment.
type State int

const (
	StateIdle State = iota
	StateJoining
	StateLive
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJoining:
		return "joining"
	case StateLive:
		return "live"
	case StateLeaving:
		return "leaving"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Local send rejections. All of them wrap apperrors.ErrValidation.
var (
	ErrNoAppointment  = fmt.Errorf("no appointment selected: %w", apperrors.ErrValidation)
	ErrEmptyMessage   = fmt.Errorf("message is empty: %w", apperrors.ErrValidation)
	ErrSendNotAllowed = fmt.Errorf("appointment is not approved: %w", apperrors.ErrValidation)
)

// Snapshot is a consistent copy of the controller state for rendering.
type Snapshot struct {
	State        State
	Selected     *models.Appointment
	Messages     []models.ChatMessage
	Draft        string
	CanSend      bool
	Err          error
	Appointments []models.Appointment
}

// Controller owns the chat session of one user. It is safe for concurrent use.
type Controller struct {
	transport    Transport
	appointments AppointmentStore
	messages     MessageStore
	logger       *zap.Logger

	mu         sync.Mutex
	state      State
	selected   *models.Appointment
	gen        uint64 // bumped on every selection change
	sub        Token
	subscribed bool
	transcript Transcript
	draft      string
	lastErr    error
	list       []models.Appointment
	onChange   func()
}

// NewController wires the controller to its collaborators.
func NewController(t Transport, apts AppointmentStore, msgs MessageStore, logger *zap.Logger) *Controller {
	return &Controller{
		transport:    t,
		appointments: apts,
		messages:     msgs,
		logger:       logger.With(zap.String("component", "conversation")),
		transcript:   Transcript{},
	}
}

// OnChange registers fn to be called after every state change. fn runs
// without the controller lock held and may call Snapshot.
func (c *Controller) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Controller) notify() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Select makes apt the current conversation: it leaves the previous room,
// joins the new one and starts the history fetch without waiting for it.
// ctx bounds the history fetch.
func (c *Controller) Select(ctx context.Context, apt models.Appointment) error {
	c.mu.Lock()
	prev, prevSub, hadSub := c.detachLocked()
	c.gen++
	gen := c.gen
	c.selected = &apt
	c.transcript = Transcript{}
	c.draft = ""
	c.lastErr = nil
	c.state = StateJoining
	c.mu.Unlock()

	c.leaveRoom(prev, prevSub, hadSub)

	// Старий обробник вже від'єднано, тепер підписуємо новий.
	t := c.currentTransport()
	sub := t.Subscribe(apt.ID, c.liveHandler(apt.ID, gen))
	c.mu.Lock()
	stale := c.gen != gen
	if !stale {
		c.sub, c.subscribed = sub, true
	}
	c.mu.Unlock()
	if stale {
		t.Unsubscribe(sub)
		return nil
	}

	// Історія і вхід у кімнату йдуть паралельно.
	go func() {
		_ = c.loadHistory(ctx, apt.ID, gen)
	}()

	joinErr := t.JoinRoom(apt.ID)
	if joinErr != nil {
		c.logger.Warn("join room failed", zap.String("appointment_id", apt.ID), zap.Error(joinErr))
		c.setErr(gen, joinErr)
	}

	c.notify()
	return joinErr
}

func (c *Controller) currentTransport() Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transport
}

// Deselect leaves the current room and returns to Idle.
func (c *Controller) Deselect() {
	c.mu.Lock()
	prev, prevSub, hadSub := c.detachLocked()
	c.gen++
	gen := c.gen
	c.selected = nil
	c.transcript = Transcript{}
	c.draft = ""
	c.lastErr = nil
	c.mu.Unlock()

	c.leaveRoom(prev, prevSub, hadSub)

	c.mu.Lock()
	// Select, що встиг між ними, свій стан не віддає.
	if c.gen == gen {
		c.state = StateIdle
	}
	c.mu.Unlock()
	c.notify()
}

// detachLocked marks the current selection as leaving and hands back what
// leaveRoom needs.
func (c *Controller) detachLocked() (prev string, sub Token, hadSub bool) {
	if c.selected == nil {
		return "", 0, false
	}
	c.state = StateLeaving
	prev, sub, hadSub = c.selected.ID, c.sub, c.subscribed
	c.sub, c.subscribed = 0, false
	return prev, sub, hadSub
}

func (c *Controller) leaveRoom(roomID string, sub Token, hadSub bool) {
	if roomID == "" {
		return
	}
	t := c.currentTransport()
	if hadSub {
		t.Unsubscribe(sub)
	}
	if err := t.LeaveRoom(roomID); err != nil {
		c.logger.Warn("leave room failed", zap.String("appointment_id", roomID), zap.Error(err))
	}
}

// currentLocked reports whether gen and aptID still describe the selection.
func (c *Controller) currentLocked(aptID string, gen uint64) bool {
	return c.gen == gen && c.selected != nil && c.selected.ID == aptID
}

func (c *Controller) setErr(gen uint64, err error) {
	c.mu.Lock()
	if c.gen == gen {
		c.lastErr = err
	}
	c.mu.Unlock()
}

func (c *Controller) loadHistory(ctx context.Context, aptID string, gen uint64) error {
	history, err := c.messages.ListMessages(ctx, aptID)

	c.mu.Lock()
	if !c.currentLocked(aptID, gen) {
		c.mu.Unlock()
		c.logger.Debug("dropping history of a previous selection", zap.String("appointment_id", aptID))
		return nil
	}
	if err != nil {
		// Уже зведені повідомлення лишаються на місці.
		c.lastErr = err
		c.mu.Unlock()
		c.logger.Warn("history fetch failed", zap.String("appointment_id", aptID), zap.Error(err))
		c.notify()
		return err
	}
	c.transcript = Merge(c.transcript, history...)
	c.state = StateLive
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *Controller) liveHandler(aptID string, gen uint64) func(models.Frame) {
	return func(f models.Frame) {
		c.mu.Lock()
		if !c.currentLocked(aptID, gen) {
			c.mu.Unlock()
			return
		}
		switch f.Type {
		case models.EventReceiveMessage:
			if f.Message == nil || (f.Message.AppointmentID != "" && f.Message.AppointmentID != aptID) {
				c.mu.Unlock()
				return
			}
			c.transcript = Merge(c.transcript, *f.Message)
			c.state = StateLive
		case models.EventAppointmentUpdated:
			if f.Appointment == nil || f.Appointment.ID != aptID {
				c.mu.Unlock()
				return
			}
			c.cacheAppointmentLocked(*f.Appointment)
		case models.EventError:
			c.lastErr = errors.New(f.Error)
		default:
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
		c.notify()
	}
}

// SetDraft replaces the compose text.
func (c *Controller) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	c.notify()
}

// Draft returns the compose text.
func (c *Controller) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// CanSend reports whether the selected appointment accepts new messages.
func (c *Controller) CanSend() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected != nil && c.selected.Status.CanSend()
}

// Send persists the draft, echoes it into the transcript, clears the draft
// and broadcasts it to the room. Local rejections make no store call. On a
// store failure the draft and transcript stay as they were.
func (c *Controller) Send(ctx context.Context) (*models.ChatMessage, error) {
	c.mu.Lock()
	sel := c.selected
	draft := c.draft
	gen := c.gen
	var err error
	switch {
	case sel == nil:
		err = ErrNoAppointment
	case strings.TrimSpace(draft) == "":
		err = ErrEmptyMessage
	case !sel.Status.CanSend():
		err = ErrSendNotAllowed
	}
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	aptID := sel.ID
	c.mu.Unlock()

	msg, err := c.messages.CreateMessage(ctx, aptID, strings.TrimSpace(draft))
	if err != nil {
		c.setErr(gen, err)
		c.notify()
		return nil, fmt.Errorf("send message: %w", err)
	}

	c.mu.Lock()
	current := c.currentLocked(aptID, gen)
	if current {
		c.transcript = Merge(c.transcript, *msg)
		c.state = StateLive
		if c.draft == draft {
			c.draft = ""
		}
		c.lastErr = nil
	}
	c.mu.Unlock()
	c.notify()

	if current {
		if err := c.currentTransport().SendToRoom(aptID, *msg); err != nil {
			// Повідомлення вже збережене; інші отримають його з історії.
			c.logger.Warn("broadcast failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
	return msg, nil
}

// LoadAppointments refreshes the cached appointment list.
func (c *Controller) LoadAppointments(ctx context.Context) ([]models.Appointment, error) {
	apts, err := c.appointments.ListAppointments(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.list = append([]models.Appointment(nil), apts...)
	for _, a := range apts {
		if c.selected != nil && c.selected.ID == a.ID {
			sel := a
			c.selected = &sel
		}
	}
	c.mu.Unlock()
	c.notify()
	return apts, nil
}

// Request asks a teacher for a new appointment.
func (c *Controller) Request(ctx context.Context, teacherID, note string) (*models.Appointment, error) {
	apt, err := c.appointments.CreateAppointment(ctx, teacherID, note)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cacheAppointmentLocked(*apt)
	c.mu.Unlock()
	c.notify()
	return apt, nil
}

// Approve approves an appointment. If it is the selected one the send gate
// re-evaluates immediately.
func (c *Controller) Approve(ctx context.Context, id string) (*models.Appointment, error) {
	return c.changeStatus(ctx, id, c.appointments.ApproveAppointment)
}

// Reject rejects an appointment.
func (c *Controller) Reject(ctx context.Context, id string) (*models.Appointment, error) {
	return c.changeStatus(ctx, id, c.appointments.RejectAppointment)
}

func (c *Controller) changeStatus(ctx context.Context, id string, fn func(context.Context, string) (*models.Appointment, error)) (*models.Appointment, error) {
	apt, err := fn(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.cacheAppointmentLocked(*apt)
	c.mu.Unlock()
	c.notify()
	return apt, nil
}

// cacheAppointmentLocked stores apt in the list and in the selection.
func (c *Controller) cacheAppointmentLocked(apt models.Appointment) {
	found := false
	for i := range c.list {
		if c.list[i].ID == apt.ID {
			c.list[i] = apt
			found = true
		}
	}
	if !found {
		c.list = append(c.list, apt)
	}
	if c.selected != nil && c.selected.ID == apt.ID {
		sel := apt
		c.selected = &sel
	}
}

// Refresh re-fetches the history of the selected appointment and merges it.
// It is used after the realtime connection was re-established.
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoAppointment
	}
	aptID, gen := c.selected.ID, c.gen
	c.mu.Unlock()

	return c.loadHistory(ctx, aptID, gen)
}

// Rebind moves the session to a new transport, rejoining the selected room
// and backfilling history missed while disconnected.
func (c *Controller) Rebind(ctx context.Context, t Transport) error {
	c.mu.Lock()
	var stale Token
	hadStale := false
	if c.transport == t && c.subscribed {
		// Той самий транспорт: старий обробник інакше лишився б зареєстрованим.
		stale, hadStale = c.sub, true
		c.sub, c.subscribed = 0, false
	}
	c.transport = t
	var sel *models.Appointment
	if c.selected != nil {
		s := *c.selected
		sel = &s
	}
	gen := c.gen
	c.mu.Unlock()

	if hadStale {
		t.Unsubscribe(stale)
	}
	if sel == nil {
		return nil
	}

	sub := t.Subscribe(sel.ID, c.liveHandler(sel.ID, gen))
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		t.Unsubscribe(sub)
		return nil
	}
	c.sub, c.subscribed = sub, true
	c.mu.Unlock()

	if err := t.JoinRoom(sel.ID); err != nil {
		return err
	}
	return c.Refresh(ctx)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		Messages:     c.transcript.Messages(),
		Draft:        c.draft,
		Err:          c.lastErr,
		Appointments: append([]models.Appointment(nil), c.list...),
	}
	if c.selected != nil {
		sel := *c.selected
		s.Selected = &sel
		s.CanSend = sel.Status.CanSend()
	}
	return s
}
