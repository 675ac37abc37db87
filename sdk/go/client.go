package submitsdk

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

// Client is a minimal Submit HTTP API client.
type Client struct {
	BaseURL  string
	BasePath string
	// BearerToken authenticates user routes.
	BearerToken string
	// CronSecret authenticates /cron routes.
	CronSecret string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v1",
		Timeout:  30 * time.Second,
	}
}

// Project represents the API project model (partial).
type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Frequency        string `json:"frequency"`
	PenaltyAmount    int    `json:"penalty_amount"`
	Status           string `json:"status"`
	NextJudgmentDate string `json:"next_judgment_date,omitempty"`
}

type Submission struct {
	ID            string `json:"id"`
	ProjectID     string `json:"project_id"`
	SequenceNum   int    `json:"sequence_num"`
	Content       string `json:"content"`
	LineMessageID string `json:"line_message_id,omitempty"`
	CreatedAt     string `json:"created_at"`
}

type Penalty struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	UserID     string `json:"user_id"`
	Amount     int    `json:"amount"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id"`
	EntityID   string `json:"entity_id"`
	EntityKind string `json:"entity_kind"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

// JobResult is the summary returned by a cron trigger. Only the section
// matching the job is set.
type JobResult struct {
	Job      string         `json:"job"`
	Judgment map[string]any `json:"judgment,omitempty"`
	Reminder map[string]any `json:"reminder,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// TriggerJob runs a scheduled job (judgment, morning, evening, urgent).
func (c *Client) TriggerJob(ctx context.Context, job string) (JobResult, error) {
	var resp JobResult
	endpoint := c.path("cron/" + url.PathEscape(job))
	err := c.do(ctx, http.MethodPost, endpoint, c.CronSecret, nil, &resp)
	return resp, err
}

// ReportPenalty records the outcome of a penalty capture.
func (c *Client) ReportPenalty(ctx context.Context, penaltyID, status, paymentRef string) (Penalty, error) {
	body := map[string]any{
		"status":      status,
		"payment_ref": paymentRef,
	}
	var resp Penalty
	endpoint := c.path(fmt.Sprintf("cron/penalties/%s/status", url.PathEscape(penaltyID)))
	err := c.do(ctx, http.MethodPost, endpoint, c.CronSecret, body, &resp)
	return resp, err
}

// ListProjects returns the caller's projects, optionally filtered by status.
func (c *Client) ListProjects(ctx context.Context, status string) ([]Project, error) {
	endpoint := c.path("projects")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Project `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, c.BearerToken, nil, &resp)
	return resp.Items, err
}

// Submit records a submission for a project.
func (c *Client) Submit(ctx context.Context, projectID, content string) (Submission, error) {
	body := map[string]any{
		"project_id": projectID,
		"content":    content,
	}
	var resp struct {
		Submission Submission `json:"submission"`
	}
	err := c.do(ctx, http.MethodPost, c.path("submissions"), c.BearerToken, body, &resp)
	return resp.Submission, err
}

// Events returns recent audit events of a project.
func (c *Client) Events(ctx context.Context, projectID string, limit int) ([]Event, error) {
	endpoint := c.path(fmt.Sprintf("projects/%s/events", url.PathEscape(projectID)))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, c.BearerToken, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body any, out any) error {
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
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
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

func (c *Client) path(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		return strings.TrimLeft(p, "/")
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
