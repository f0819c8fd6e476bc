package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no credential is set. The server
	// honours it only when started with --allow-actor-header.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, for example http://127.0.0.1:8080/v0.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 30 * time.Second,
	}
}

// QueryResult is the answer to one request.
type QueryResult struct {
	Success    bool          `json:"success"`
	Response   string        `json:"response"`
	Intent     string        `json:"intent"`
	Confidence float64       `json:"confidence"`
	ToolUsed   string        `json:"tool_used"`
	Metadata   QueryMetadata `json:"metadata"`
}

type QueryMetadata struct {
	QueryID   string         `json:"query_id"`
	State     string         `json:"state,omitempty"`
	Rejection string         `json:"rejection,omitempty"`
	Entities  map[string]any `json:"entities"`
	Outcomes  []ItemOutcome  `json:"outcomes,omitempty"`
}

// ItemOutcome reports one work item of an update.
type ItemOutcome struct {
	WorkItemID int            `json:"work_item_id"`
	OK         bool           `json:"ok"`
	Updates    map[string]any `json:"updates,omitempty"`
	Error      string         `json:"error,omitempty"`
}

type HistoryEntry struct {
	UserInput  string  `json:"user_input"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Response   string  `json:"response"`
	Success    bool    `json:"success"`
	Timestamp  string  `json:"timestamp"`
}

type History struct {
	ActorID string         `json:"actor_id"`
	Items   []HistoryEntry `json:"items"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	QueryID    string          `json:"query_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters Events. Zero fields are not sent.
type EventQuery struct {
	Type       string
	QueryID    string
	EntityKind string
	EntityID   string
	ActorID    string
	Limit      int
	Cursor     string
}

func (q EventQuery) values() url.Values {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("type", q.Type)
	set("query_id", q.QueryID)
	set("entity_kind", q.EntityKind)
	set("entity_id", q.EntityID)
	set("actor_id", q.ActorID)
	set("cursor", q.Cursor)
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Connected   bool   `json:"connected"`
}

// Health is the decoded /health payload. Nested sections are left raw.
type Health struct {
	Status      string          `json:"status"`
	Classifier  string          `json:"classifier"`
	AzureDevOps json.RawMessage `json:"azure_devops"`
	Tools       []Tool          `json:"tools"`
	Secrets     map[string]bool `json:"secrets"`
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

// Query submits one natural-language request. A refused update is not an
// error: check QueryResult.Success.
func (c *Client) Query(ctx context.Context, text string) (QueryResult, error) {
	var resp QueryResult
	err := c.do(ctx, http.MethodPost, "query", map[string]string{"query": text}, &resp)
	return resp, err
}

// History lists the caller's recent requests, oldest first.
func (c *Client) History(ctx context.Context) (History, error) {
	var resp History
	err := c.do(ctx, http.MethodGet, "history", nil, &resp)
	return resp, err
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "history", nil, nil)
}

// Events returns one page of the audit log, newest first.
func (c *Client) Events(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	endpoint := "events"
	if v := q.values(); len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) Tools(ctx context.Context) ([]Tool, error) {
	var resp []Tool
	err := c.do(ctx, http.MethodGet, "tools", nil, &resp)
	return resp, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var resp Health
	err := c.do(ctx, http.MethodGet, "health", nil, &resp)
	return resp, err
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.ActorID != "":
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
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
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
