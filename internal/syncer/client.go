package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/clinicdesk/checkin-sync/internal/checkin"
)

// API is the slice of the backend the store talks to. The concrete Client
// speaks HTTP; tests substitute a fake.
type API interface {
	Scheduled(ctx context.Context, date string) ([]checkin.Appointment, error)
	CheckedIn(ctx context.Context, date string) ([]checkin.Appointment, error)
	UpdateState(ctx context.Context, id int64, state checkin.Status, t, actionID string) error
	UndoState(ctx context.Context, id int64, state checkin.Status) error
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Code       string
	Details    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.StatusCode, e.Code, e.Details)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, http: hc}
}

func (c *Client) Scheduled(ctx context.Context, date string) ([]checkin.Appointment, error) {
	return c.list(ctx, "/appointments/scheduled", date)
}

func (c *Client) CheckedIn(ctx context.Context, date string) ([]checkin.Appointment, error) {
	return c.list(ctx, "/appointments/checked-in", date)
}

func (c *Client) list(ctx context.Context, path, date string) ([]checkin.Appointment, error) {
	u := fmt.Sprintf("%s%s?date=%s", c.baseURL, path, url.QueryEscape(date))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeAPIError(resp)
	}

	var list []checkin.Appointment
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, err)
	}

	return list, nil
}

func (c *Client) UpdateState(ctx context.Context, id int64, state checkin.Status, t, actionID string) error {
	return c.post(ctx, "/appointments/state", map[string]any{
		"appointmentId": id,
		"state":         string(state),
		"time":          t,
		"actionId":      actionID,
	})
}

func (c *Client) UndoState(ctx context.Context, id int64, state checkin.Status) error {
	return c.post(ctx, "/appointments/undo", map[string]any{
		"appointmentId": id,
		"state":         string(state),
	})
}

func (c *Client) post(ctx context.Context, path string, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeAPIError(resp)
	}

	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Error
		apiErr.Details = body.Details
	}

	return apiErr
}
