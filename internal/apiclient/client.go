// Package apiclient talks to the REST surface of the server on behalf of one
// authenticated user. It implements the appointment and message stores of
// the conversation package.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/somuraj07/saams/internal/apperrors"
	"github.com/somuraj07/saams/internal/conversation"
	"github.com/somuraj07/saams/internal/models"
)

var (
	_ conversation.AppointmentStore = (*Client)(nil)
	_ conversation.MessageStore     = (*Client)(nil)
)

// Client is a REST client bound to one bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for baseURL (e.g. http://localhost:8080).
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient replaces the underlying http.Client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// APIError is a non-2xx reply. It unwraps to the matching apperrors sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return apperrors.ErrValidation
	case http.StatusUnauthorized:
		return apperrors.ErrUnauthorized
	case http.StatusForbidden:
		return apperrors.ErrForbidden
	case http.StatusNotFound:
		return apperrors.ErrNotFound
	case http.StatusConflict:
		return apperrors.ErrConflict
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimited
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// ListTeachers returns the teacher directory.
func (c *Client) ListTeachers(ctx context.Context) ([]models.User, error) {
	var out struct {
		Teachers []models.User `json:"teachers"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/teacher/list", nil, &out); err != nil {
		return nil, err
	}
	return out.Teachers, nil
}

// ListAppointments returns the caller's appointments.
func (c *Client) ListAppointments(ctx context.Context) ([]models.Appointment, error) {
	var out struct {
		Appointments []models.Appointment `json:"appointments"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/communication/appointments", nil, &out); err != nil {
		return nil, err
	}
	return out.Appointments, nil
}

// CreateAppointment requests an appointment with a teacher.
func (c *Client) CreateAppointment(ctx context.Context, teacherID, note string) (*models.Appointment, error) {
	body := map[string]string{"teacherId": teacherID, "note": note}
	return c.appointment(ctx, "/api/communication/appointments", body)
}

// ApproveAppointment approves a pending or rejected appointment.
func (c *Client) ApproveAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return c.appointment(ctx, "/api/communication/appointments/"+url.PathEscape(id)+"/approve", nil)
}

// RejectAppointment rejects a pending appointment.
func (c *Client) RejectAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return c.appointment(ctx, "/api/communication/appointments/"+url.PathEscape(id)+"/reject", nil)
}

// CompleteAppointment closes an approved appointment.
func (c *Client) CompleteAppointment(ctx context.Context, id string) (*models.Appointment, error) {
	return c.appointment(ctx, "/api/communication/appointments/"+url.PathEscape(id)+"/complete", nil)
}

func (c *Client) appointment(ctx context.Context, path string, body interface{}) (*models.Appointment, error) {
	var out struct {
		Appointment *models.Appointment `json:"appointment"`
	}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if out.Appointment == nil {
		return nil, fmt.Errorf("POST %s: empty appointment in response", path)
	}
	return out.Appointment, nil
}

// ListMessages returns the history of an appointment, oldest first.
func (c *Client) ListMessages(ctx context.Context, appointmentID string) ([]models.ChatMessage, error) {
	var out struct {
		Messages []models.ChatMessage `json:"messages"`
	}
	path := "/api/communication/messages?appointmentId=" + url.QueryEscape(appointmentID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// CreateMessage persists a message and returns it with its server-assigned ID.
func (c *Client) CreateMessage(ctx context.Context, appointmentID, content string) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	body := map[string]string{"appointmentId": appointmentID, "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/communication/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
