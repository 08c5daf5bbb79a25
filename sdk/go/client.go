package todolinesdk

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
)

// Client is a minimal Todoline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Completed   bool   `json:"completed"`
}

// TaskList is the GET /tasks payload.
type TaskList struct {
	Items  []Task `json:"items"`
	Groups struct {
		Active    []Task `json:"active"`
		Completed []Task `json:"completed"`
	} `json:"groups"`
	CanUndo bool `json:"can_undo"`
	CanRedo bool `json:"can_redo"`
}

// Mutation reports whether a change happened. Unknown ids yield Changed=false.
type Mutation struct {
	Changed bool  `json:"changed"`
	Count   int   `json:"count,omitempty"`
	Task    *Task `json:"task,omitempty"`
}

// Snapshot is one history entry.
type Snapshot struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Current   bool      `json:"current"`
	Tasks     []Task    `json:"tasks"`
}

// History is the GET /history payload.
type History struct {
	Items   []Snapshot `json:"items"`
	Index   int        `json:"index"`
	CanUndo bool       `json:"can_undo"`
	CanRedo bool       `json:"can_redo"`
}

// Document is the export/import format.
type Document struct {
	Version    int       `json:"version"`
	Tasks      []Task    `json:"tasks"`
	ExportedAt time.Time `json:"exported_at,omitempty"`
}

// TaskUpdate carries the fields to change; nil fields are left alone.
type TaskUpdate struct {
	Label       *string `json:"label,omitempty"`
	Description *string `json:"description,omitempty"`
	Completed   *bool   `json:"completed,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Health returns the server status string.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp.Status, err
}

// Tasks lists all tasks, active first.
func (c *Client) Tasks(ctx context.Context) (TaskList, error) {
	var resp TaskList
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp)
	return resp, err
}

// CreateTask adds a task. position is "prepend", "append" or empty for the
// server default.
func (c *Client) CreateTask(ctx context.Context, label, description, position string) (Task, error) {
	body := map[string]any{"label": label}
	if description != "" {
		body["description"] = description
	}
	if position != "" {
		body["position"] = position
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask patches a task.
func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(id), update, &resp)
	return resp, err
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// DeleteTasks removes several tasks as one history entry.
func (c *Client) DeleteTasks(ctx context.Context, ids []string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "tasks/delete", map[string]any{"ids": ids}, &resp)
	return resp, err
}

// ClearTasks removes every task, or every task of group when set.
func (c *Client) ClearTasks(ctx context.Context, group string) (Mutation, error) {
	endpoint := "tasks"
	if group != "" {
		endpoint += "?group=" + url.QueryEscape(group)
	}
	var resp Mutation
	err := c.do(ctx, http.MethodDelete, endpoint, nil, &resp)
	return resp, err
}

// CompleteAll marks every active task completed.
func (c *Client) CompleteAll(ctx context.Context) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "tasks/complete-all", nil, &resp)
	return resp, err
}

// MoveTask moves a task to "top", "bottom", "up" or "down" within its group.
func (c *Client) MoveTask(ctx context.Context, id, to string) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/move", map[string]any{"to": to}, &resp)
	return resp, err
}

// MoveTaskTo moves a task to a 0-based position within its group.
func (c *Client) MoveTaskTo(ctx context.Context, id string, index int) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(id)+"/move", map[string]any{"index": index}, &resp)
	return resp, err
}

// History returns the change history.
func (c *Client) History(ctx context.Context) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, "history", nil, &resp)
	return resp, err
}

// Undo steps back one history entry.
func (c *Client) Undo(ctx context.Context) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "history/undo", nil, &resp)
	return resp, err
}

// Redo steps forward one history entry.
func (c *Client) Redo(ctx context.Context) (Mutation, error) {
	var resp Mutation
	err := c.do(ctx, http.MethodPost, "history/redo", nil, &resp)
	return resp, err
}

// Restore moves the history cursor to the snapshot offset entries away from id.
func (c *Client) Restore(ctx context.Context, id string, offset int) (Mutation, error) {
	endpoint := "history/" + url.PathEscape(id) + "/restore"
	if offset != 0 {
		endpoint = fmt.Sprintf("%s?offset=%d", endpoint, offset)
	}
	var resp Mutation
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Export downloads the task list as a document.
func (c *Client) Export(ctx context.Context) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, "export", nil, &resp)
	return resp, err
}

// Import uploads a document. mode is "replace" or "append".
func (c *Client) Import(ctx context.Context, doc Document, mode string) (int, error) {
	endpoint := "import"
	if mode != "" {
		endpoint += "?mode=" + url.QueryEscape(mode)
	}
	var resp struct {
		Imported int `json:"imported"`
	}
	err := c.do(ctx, http.MethodPost, endpoint, doc, &resp)
	return resp.Imported, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
