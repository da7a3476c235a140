package teamlinesdk

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

// Client is a minimal Teamline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Member is one membership entry of a project.
type Member struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	AddedBy  string `json:"added_by"`
	AddedAt  string `json:"added_at"`
}

// Project is the API project model.
type Project struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	CreatedBy   string   `json:"created_by"`
	Status      string   `json:"status"`
	Archived    bool     `json:"archived"`
	Members     []Member `json:"members"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// StatusChange is one audit entry of a task's status history.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
	At   string `json:"at"`
	By   string `json:"by"`
}

// Task is the API task model.
type Task struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"project_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description,omitempty"`
	Status           string         `json:"status"`
	Priority         string         `json:"priority"`
	DueDate          *string        `json:"due_date,omitempty"`
	AssigneeUsername *string        `json:"assignee_username,omitempty"`
	Labels           []string       `json:"labels,omitempty"`
	StatusHistory    []StatusChange `json:"status_history,omitempty"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
}

// Event is a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project owned by the caller.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{"name": name}
	if description != "" {
		body["description"] = description
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// Projects lists the caller's projects.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	var resp []Project
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp, err
}

// Project fetches one project.
func (c *Client) Project(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(projectID), nil, &resp)
	return resp, err
}

// AddMember adds a registered user to a project.
func (c *Client) AddMember(ctx context.Context, projectID, username, role string) (Member, error) {
	body := map[string]any{"username": username, "role": role}
	var resp Member
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "members"), body, &resp)
	return resp, err
}

// RemoveMember removes a member by username.
func (c *Client) RemoveMember(ctx context.Context, projectID, username string) error {
	return c.do(ctx, http.MethodDelete, c.projectPath(projectID, "members/"+url.PathEscape(username)), nil, nil)
}

// TransferOwnership moves the owner role to another member.
func (c *Client) TransferOwnership(ctx context.Context, projectID, username string) (Project, error) {
	body := map[string]any{"username": username}
	var resp Project
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "transfer"), body, &resp)
	return resp, err
}

// LeaveProject removes the caller's own membership.
func (c *Client) LeaveProject(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodPost, c.projectPath(projectID, "leave"), map[string]any{}, nil)
}

// CreateTask creates a task in a project.
func (c *Client) CreateTask(ctx context.Context, projectID, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath(projectID, "tasks"), body, &resp)
	return resp, err
}

// Tasks lists tasks visible to the caller.
func (c *Client) Tasks(ctx context.Context, projectID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, c.projectPath(projectID, "tasks"), nil, &resp)
	return resp, err
}

// SetTaskStatus changes a task's status.
func (c *Client) SetTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	body := map[string]any{"status": status}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/status", body, &resp)
	return resp, err
}

// AssignTask assigns a task to a member; empty username unassigns.
func (c *Client) AssignTask(ctx context.Context, taskID, username string) (Task, error) {
	body := map[string]any{"username": username}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks/"+url.PathEscape(taskID)+"/assign", body, &resp)
	return resp, err
}

// TaskHistory returns the append-only status trail of a task.
func (c *Client) TaskHistory(ctx context.Context, taskID string) ([]StatusChange, error) {
	var resp []StatusChange
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID)+"/history", nil, &resp)
	return resp, err
}

// Events returns recent project events, newest first.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := c.projectPath(projectID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(projectID, p string) string {
	return fmt.Sprintf("projects/%s/%s", url.PathEscape(projectID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
