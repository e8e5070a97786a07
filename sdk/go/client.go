package tasklinesdk

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

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/repo"
)

// Client is a Taskline HTTP API client. Its methods mirror the engine so
// callers can switch between a local engine and a remote server.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// APIError wraps non-2xx responses. It unwraps to the matching sentinel
// error so errors.Is works the same as against a local engine.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return repo.ErrNotFound
	case "conflict":
		return repo.ErrAlreadyExists
	case "schedule_conflict":
		return engine.ErrScheduleConflict
	case "bad_request":
		return engine.ErrInvalid
	}
	return nil
}

func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp []domain.Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id int) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

// CreateTask posts a task without id.
func (c *Client) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID != 0 {
		return domain.Task{}, fmt.Errorf("%w: new task must not carry id %d", engine.ErrInvalid, t.ID)
	}
	return c.saveTask(ctx, t)
}

// UpdateTask posts a task with its id.
func (c *Client) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == 0 {
		return domain.Task{}, fmt.Errorf("%w: update needs an id", engine.ErrInvalid)
	}
	return c.saveTask(ctx, t)
}

func (c *Client) saveTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	body := map[string]any{
		"id":          t.ID,
		"name":        t.Name,
		"description": t.Description,
	}
	if t.Status != "" {
		body["status"] = t.Status
	}
	if t.Schedule != nil {
		body["schedule"] = t.Schedule
	}
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// DeleteTask removes a task. The server does not return the removed value,
// so the result only carries the id.
func (c *Client) DeleteTask(ctx context.Context, id int) (domain.Task, error) {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, nil)
	return domain.Task{ID: id}, err
}

func (c *Client) ClearTasks(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "tasks", nil, nil)
}

func (c *Client) ListEpics(ctx context.Context) ([]domain.Epic, error) {
	var resp []domain.Epic
	err := c.do(ctx, http.MethodGet, "epics", nil, &resp)
	return resp, err
}

func (c *Client) GetEpic(ctx context.Context, id int) (domain.Epic, error) {
	var resp domain.Epic
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("epics/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error) {
	if ep.ID != 0 {
		return domain.Epic{}, fmt.Errorf("%w: new epic must not carry id %d", engine.ErrInvalid, ep.ID)
	}
	return c.saveEpic(ctx, ep)
}

func (c *Client) UpdateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error) {
	if ep.ID == 0 {
		return domain.Epic{}, fmt.Errorf("%w: update needs an id", engine.ErrInvalid)
	}
	return c.saveEpic(ctx, ep)
}

func (c *Client) saveEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error) {
	body := map[string]any{
		"id":          ep.ID,
		"name":        ep.Name,
		"description": ep.Description,
	}
	var resp domain.Epic
	err := c.do(ctx, http.MethodPost, "epics", body, &resp)
	return resp, err
}

func (c *Client) DeleteEpic(ctx context.Context, id int) (domain.Epic, error) {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("epics/%d", id), nil, nil)
	return domain.Epic{ID: id}, err
}

func (c *Client) ClearEpics(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "epics", nil, nil)
}

func (c *Client) EpicSubtasks(ctx context.Context, epicID int) ([]domain.Subtask, error) {
	var resp []domain.Subtask
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("epics/%d/subtasks", epicID), nil, &resp)
	return resp, err
}

func (c *Client) ListSubtasks(ctx context.Context) ([]domain.Subtask, error) {
	var resp []domain.Subtask
	err := c.do(ctx, http.MethodGet, "subtasks", nil, &resp)
	return resp, err
}

func (c *Client) GetSubtask(ctx context.Context, id int) (domain.Subtask, error) {
	var resp domain.Subtask
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("subtasks/%d", id), nil, &resp)
	return resp, err
}

func (c *Client) CreateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error) {
	if s.ID != 0 {
		return domain.Subtask{}, fmt.Errorf("%w: new subtask must not carry id %d", engine.ErrInvalid, s.ID)
	}
	return c.saveSubtask(ctx, s)
}

func (c *Client) UpdateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error) {
	if s.ID == 0 {
		return domain.Subtask{}, fmt.Errorf("%w: update needs an id", engine.ErrInvalid)
	}
	return c.saveSubtask(ctx, s)
}

func (c *Client) saveSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error) {
	body := map[string]any{
		"id":          s.ID,
		"epic_id":     s.EpicID,
		"name":        s.Name,
		"description": s.Description,
	}
	if s.Status != "" {
		body["status"] = s.Status
	}
	if s.Schedule != nil {
		body["schedule"] = s.Schedule
	}
	var resp domain.Subtask
	err := c.do(ctx, http.MethodPost, "subtasks", body, &resp)
	return resp, err
}

func (c *Client) DeleteSubtask(ctx context.Context, id int) (domain.Subtask, error) {
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("subtasks/%d", id), nil, nil)
	return domain.Subtask{ID: id}, err
}

func (c *Client) ClearSubtasks(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "subtasks", nil, nil)
}

// History returns viewed entities, least recently viewed first.
func (c *Client) History(ctx context.Context) ([]domain.Entity, error) {
	return c.entities(ctx, "history")
}

// Prioritized returns scheduled tasks and subtasks by start time.
func (c *Client) Prioritized(ctx context.Context) ([]domain.Entity, error) {
	return c.entities(ctx, "prioritized")
}

// Events returns recent mutation events; servers without an event log
// answer with a not found error.
func (c *Client) Events(ctx context.Context, limit int) ([]events.Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []events.Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) entities(ctx context.Context, endpoint string) ([]domain.Entity, error) {
	var items []domain.Item
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &items); err != nil {
		return nil, err
	}
	out := make([]domain.Entity, 0, len(items))
	for _, it := range items {
		ent := it.Entity()
		if ent == nil {
			return nil, fmt.Errorf("%s: unknown entity type %q", endpoint, it.Type)
		}
		out = append(out, ent)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return decodeError(resp.StatusCode, b)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	}
	return apiErr
}

// IsNotFound reports whether err is a not found answer from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	root := strings.TrimRight(c.BaseURL, "/")
	if basePath == "" {
		return root
	}
	if u, err := url.Parse(root); err == nil && strings.HasSuffix(strings.TrimRight(u.Path, "/"), "/"+basePath) {
		return root
	}
	return root + "/" + basePath
}
