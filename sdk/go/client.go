package otdopssdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal otdops HTTP API client.
type Client struct {
	BaseURL     string
	ActorID     string
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

// Metric is a named KPI reading on a node.
type Metric struct {
	Name      string   `json:"name"`
	Value     *float64 `json:"value,omitempty"`
	Text      string   `json:"text,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Trend     string   `json:"trend,omitempty"`
	Leading   bool     `json:"leading,omitempty"`
	UpdatedAt string   `json:"updated_at,omitempty"`
}

// Node represents a process node.
type Node struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Stage       string   `json:"stage"`
	Status      string   `json:"status"`
	Position    int      `json:"position"`
	Description string   `json:"description,omitempty"`
	Metrics     []Metric `json:"metrics"`
	ActiveTasks int      `json:"active_tasks"`
}

// Rule represents an alert rule.
type Rule struct {
	ID            string  `json:"id,omitempty"`
	NodeID        string  `json:"node_id"`
	Metric        string  `json:"metric"`
	Operator      string  `json:"operator"`
	Threshold     float64 `json:"threshold"`
	Severity      string  `json:"severity,omitempty"`
	TriggerAction string  `json:"trigger_action"`
	TargetRole    string  `json:"target_role"`
	SopID         string  `json:"sop_id,omitempty"`
	Enabled       *bool   `json:"enabled,omitempty"`
}

// Feedback is the root cause captured when a task closes.
type Feedback struct {
	RootCause  string `json:"root_cause"`
	Comment    string `json:"comment,omitempty"`
	RecordedBy string `json:"recorded_by,omitempty"`
	RecordedAt string `json:"recorded_at,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	NodeID       string    `json:"node_id"`
	RuleID       *string   `json:"rule_id,omitempty"`
	Status       string    `json:"status"`
	Priority     string    `json:"priority"`
	Assignee     string    `json:"assignee,omitempty"`
	DueAt        string    `json:"due_at"`
	SopID        string    `json:"sop_id"`
	TriggerValue *float64  `json:"trigger_value,omitempty"`
	Feedback     *Feedback `json:"feedback,omitempty"`
	CompletedAt  *string   `json:"completed_at,omitempty"`
}

// TaskResult is the generation outcome for one trigger.
type TaskResult struct {
	RuleID  string `json:"rule_id"`
	TaskID  string `json:"task_id,omitempty"`
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// EvaluationReport summarizes one node evaluation.
type EvaluationReport struct {
	NodeID         string       `json:"node_id"`
	PreviousStatus string       `json:"previous_status"`
	Status         string       `json:"status"`
	Warnings       []any        `json:"warnings,omitempty"`
	Tasks          []TaskResult `json:"tasks"`
	DryRun         bool         `json:"dry_run"`
}

// SOP is a standard operating procedure.
type SOP struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content,omitempty"`
	Steps   []string `json:"steps"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
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

// ErrorCode returns the API error code carried by err, if any.
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// NodeInput is the payload for CreateNode.
type NodeInput struct {
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title"`
	Stage       string   `json:"stage,omitempty"`
	Position    int      `json:"position,omitempty"`
	Description string   `json:"description,omitempty"`
	Metrics     []Metric `json:"metrics,omitempty"`
}

// CreateNode creates a process node with its initial metrics.
func (c *Client) CreateNode(ctx context.Context, in NodeInput) (Node, error) {
	var resp Node
	err := c.do(ctx, http.MethodPost, "nodes", in, &resp)
	return resp, err
}

// GetNode fetches a node by id.
func (c *Client) GetNode(ctx context.Context, id string) (Node, error) {
	var resp Node
	err := c.do(ctx, http.MethodGet, "nodes/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListNodes lists nodes in flow order.
func (c *Client) ListNodes(ctx context.Context) ([]Node, error) {
	var resp []Node
	err := c.do(ctx, http.MethodGet, "nodes", nil, &resp)
	return resp, err
}

// SetMetric upserts a metric and returns the node with its recomputed status.
func (c *Client) SetMetric(ctx context.Context, nodeID string, m Metric) (Node, error) {
	var resp struct {
		Node Node `json:"node"`
	}
	body := map[string]any{"leading": m.Leading}
	if m.Value != nil {
		body["value"] = *m.Value
	}
	if m.Text != "" {
		body["text"] = m.Text
	}
	if m.Unit != "" {
		body["unit"] = m.Unit
	}
	if m.Trend != "" {
		body["trend"] = m.Trend
	}
	endpoint := fmt.Sprintf("nodes/%s/metrics/%s", url.PathEscape(nodeID), url.PathEscape(m.Name))
	err := c.do(ctx, http.MethodPut, endpoint, body, &resp)
	return resp.Node, err
}

// Evaluate runs the rules of a node and generates tasks unless dryRun is set.
func (c *Client) Evaluate(ctx context.Context, nodeID string, dryRun bool) (EvaluationReport, error) {
	var resp EvaluationReport
	endpoint := fmt.Sprintf("nodes/%s/evaluate", url.PathEscape(nodeID))
	if dryRun {
		endpoint += "?dry_run=true"
	}
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// CreateRule creates a rule.
func (c *Client) CreateRule(ctx context.Context, r Rule) (Rule, error) {
	var resp Rule
	err := c.do(ctx, http.MethodPost, "rules", r, &resp)
	return resp, err
}

// ListRules lists rules, optionally for one node.
func (c *Client) ListRules(ctx context.Context, nodeID string) ([]Rule, error) {
	endpoint := "rules"
	if nodeID != "" {
		endpoint += "?node_id=" + url.QueryEscape(nodeID)
	}
	var resp []Rule
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteRule removes a rule. Tasks it generated are kept.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "rules/"+url.PathEscape(id), nil, nil)
}

// PutSOP creates or replaces an SOP.
func (c *Client) PutSOP(ctx context.Context, s SOP) (SOP, error) {
	body := map[string]any{"title": s.Title, "steps": s.Steps}
	if s.Content != "" {
		body["content"] = s.Content
	}
	var resp SOP
	err := c.do(ctx, http.MethodPut, "sops/"+url.PathEscape(s.ID), body, &resp)
	return resp, err
}

// TaskQuery filters ListTasks.
type TaskQuery struct {
	NodeID   string
	RuleID   string
	Status   string
	Assignee string
	OpenOnly bool
	Limit    int
}

// ListTasks lists tasks, newest first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	values := url.Values{}
	if q.NodeID != "" {
		values.Set("node_id", q.NodeID)
	}
	if q.RuleID != "" {
		values.Set("rule_id", q.RuleID)
	}
	if q.Status != "" {
		values.Set("status", q.Status)
	}
	if q.Assignee != "" {
		values.Set("assignee", q.Assignee)
	}
	if q.OpenOnly {
		values.Set("open", "true")
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	endpoint := "tasks"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// CompleteTask closes a task with its root-cause feedback.
func (c *Client) CompleteTask(ctx context.Context, id string, fb Feedback) (Task, error) {
	body := map[string]any{"root_cause": fb.RootCause, "comment": fb.Comment}
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/complete", url.PathEscape(id)), body, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
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
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
