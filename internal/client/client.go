// Package client speaks the daybook-api HTTP surface: token exchange,
// task and appointment operations, and the server-sent task stream. It
// also carries TaskList, an ordered in-memory task view that reconciles
// local edits with pushed change events.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quayside/daybook/internal/appointments"
	"github.com/quayside/daybook/internal/tasks"
)

const defaultRequestTimeout = 30 * time.Second

// ErrMissingBaseURL reports a client configured without a server address.
var ErrMissingBaseURL = errors.New("client: base url required")

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	StatusCode int
	Label      string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d: %s (%s)", e.StatusCode, e.Label, e.Code)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Label)
}

// Config configures a Client. HTTPClient is used for request/response
// calls; the stream endpoint always uses a transport without a client
// timeout so long-lived connections are not cut off.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	streamClient *http.Client
	logger       *zap.Logger
}

func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, ErrMissingBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:      base,
		token:        cfg.Token,
		httpClient:   httpClient,
		streamClient: &http.Client{},
		logger:       logger,
	}, nil
}

// SetToken installs the session token used on subsequent requests. Call it
// before sharing the client across goroutines.
func (c *Client) SetToken(token string) {
	c.token = token
}

// TokenGrant is the result of exchanging an identity token.
type TokenGrant struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// ExchangeToken trades an identity-provider ID token for a session token.
// The grant is returned but not installed; call SetToken to use it.
func (c *Client) ExchangeToken(ctx context.Context, idToken string) (TokenGrant, error) {
	var grant TokenGrant
	payload := map[string]string{"id_token": idToken}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/token", payload, &grant); err != nil {
		return TokenGrant{}, err
	}
	return grant, nil
}

// Session describes the authenticated account.
type Session struct {
	Subject     string `json:"subject"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

func (c *Client) Session(ctx context.Context) (Session, error) {
	var session Session
	if err := c.doJSON(ctx, http.MethodGet, "/session", nil, &session); err != nil {
		return Session{}, err
	}
	return session, nil
}

type taskListPayload struct {
	Tasks []tasks.Task `json:"tasks"`
}

func (c *Client) ListTasks(ctx context.Context) ([]tasks.Task, error) {
	var payload taskListPayload
	if err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}

func (c *Client) CreateTask(ctx context.Context, text string) (tasks.Task, error) {
	var record tasks.Task
	payload := map[string]string{"text": text}
	if err := c.doJSON(ctx, http.MethodPost, "/tasks", payload, &record); err != nil {
		return tasks.Task{}, err
	}
	return record, nil
}

// TaskPatch names the fields to change; nil fields are left untouched.
type TaskPatch struct {
	Text      *string `json:"text,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

func (c *Client) UpdateTask(ctx context.Context, taskID int64, patch TaskPatch) (tasks.Task, error) {
	var record tasks.Task
	path := fmt.Sprintf("/tasks/%d", taskID)
	if err := c.doJSON(ctx, http.MethodPatch, path, patch, &record); err != nil {
		return tasks.Task{}, err
	}
	return record, nil
}

func (c *Client) DeleteTask(ctx context.Context, taskID int64) (tasks.Task, error) {
	var record tasks.Task
	path := fmt.Sprintf("/tasks/%d", taskID)
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &record); err != nil {
		return tasks.Task{}, err
	}
	return record, nil
}

func (c *Client) ReorderTasks(ctx context.Context, orderedIDs []int64) ([]tasks.Task, error) {
	var payload taskListPayload
	body := map[string][]int64{"task_ids": orderedIDs}
	if err := c.doJSON(ctx, http.MethodPut, "/tasks/order", body, &payload); err != nil {
		return nil, err
	}
	return payload.Tasks, nil
}

// ExportTasks streams the CSV export into w.
func (c *Client) ExportTasks(ctx context.Context, w io.Writer) error {
	request, err := c.newRequest(ctx, http.MethodGet, "/tasks/export", nil)
	if err != nil {
		return err
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return decodeAPIError(response)
	}
	_, err = io.Copy(w, response.Body)
	return err
}

func (c *Client) CreateAppointment(ctx context.Context, title string, startsAt, endsAt time.Time) (appointments.Appointment, error) {
	var record appointments.Appointment
	payload := map[string]any{
		"title":     title,
		"starts_at": startsAt,
		"ends_at":   endsAt,
	}
	if err := c.doJSON(ctx, http.MethodPost, "/appointments", payload, &record); err != nil {
		return appointments.Appointment{}, err
	}
	return record, nil
}

func (c *Client) RescheduleAppointment(ctx context.Context, appointmentID string, startsAt, endsAt time.Time) (appointments.Appointment, error) {
	var record appointments.Appointment
	payload := map[string]any{
		"starts_at": startsAt,
		"ends_at":   endsAt,
	}
	path := "/appointments/" + url.PathEscape(appointmentID)
	if err := c.doJSON(ctx, http.MethodPatch, path, payload, &record); err != nil {
		return appointments.Appointment{}, err
	}
	return record, nil
}

type appointmentListPayload struct {
	Appointments []appointments.Appointment `json:"appointments"`
}

// ListAppointments lists visible appointments, optionally narrowed to one
// calendar day given as YYYY-MM-DD.
func (c *Client) ListAppointments(ctx context.Context, day string) ([]appointments.Appointment, error) {
	path := "/appointments"
	if day != "" {
		path += "?day=" + url.QueryEscape(day)
	}
	var payload appointmentListPayload
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Appointments, nil
}

type slotListPayload struct {
	Day   string              `json:"day"`
	Slots []appointments.Slot `json:"slots"`
}

func (c *Client) Slots(ctx context.Context, day string) ([]appointments.Slot, error) {
	var payload slotListPayload
	path := "/appointments/slots?day=" + url.QueryEscape(day)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Slots, nil
}

func (c *Client) SetAppointmentStatus(ctx context.Context, appointmentID, status string) (appointments.Appointment, error) {
	var record appointments.Appointment
	payload := map[string]string{"status": status}
	path := "/appointments/" + url.PathEscape(appointmentID) + "/status"
	if err := c.doJSON(ctx, http.MethodPatch, path, payload, &record); err != nil {
		return appointments.Appointment{}, err
	}
	return record, nil
}

func (c *Client) AddAppointmentNote(ctx context.Context, appointmentID, body string) (appointments.AppointmentNote, error) {
	var note appointments.AppointmentNote
	payload := map[string]string{"body": body}
	path := "/appointments/" + url.PathEscape(appointmentID) + "/notes"
	if err := c.doJSON(ctx, http.MethodPost, path, payload, &note); err != nil {
		return appointments.AppointmentNote{}, err
	}
	return note, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
	return request, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := c.newRequest(ctx, method, path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	if response.StatusCode >= http.StatusBadRequest {
		return decodeAPIError(response)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func decodeAPIError(response *http.Response) error {
	apiErr := &APIError{StatusCode: response.StatusCode, Label: http.StatusText(response.StatusCode)}
	raw, err := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if err != nil {
		return apiErr
	}
	var payload struct {
		Label string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		if payload.Label != "" {
			apiErr.Label = payload.Label
		}
		apiErr.Code = payload.Code
	}
	return apiErr
}
