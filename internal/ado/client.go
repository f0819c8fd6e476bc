// Package ado is the Azure DevOps work-item and pull-request backend.
package ado

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL  = "https://dev.azure.com"
	APIVersion      = "6.0"
	workItemsBatch  = 200
	pullRequestsTop = 50
)

type Config struct {
	Organization string
	Project      string
	Token        string
	BaseURL      string
	Timeout      time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// Client talks to one Azure DevOps project with a personal access token.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// APIError wraps non-2xx responses.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("azure devops %s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, body)
}

func (e *APIError) transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ConfigError lists the settings needed before the backend can be reached.
type ConfigError struct {
	Missing []string
}

func (e *ConfigError) Error() string {
	return "azure devops configuration missing: " + strings.Join(e.Missing, ", ")
}

// UserMessage explains how to supply the missing settings.
func (e *ConfigError) UserMessage() string {
	var b strings.Builder
	b.WriteString("**Azure DevOps Configuration Required**\n\n")
	b.WriteString("I need the following configuration to connect to Azure DevOps:\n\n**Missing Environment Variables:**\n")
	for _, m := range e.Missing {
		fmt.Fprintf(&b, "• %s\n", m)
	}
	b.WriteString("\n**Setup:**\n```bash\n")
	b.WriteString("export AZURE_DEVOPS_TOKEN=your_pat_token_here\n")
	b.WriteString("export AZURE_DEVOPS_ORGANIZATION=your_organization\n")
	b.WriteString("export AZURE_DEVOPS_PROJECT=your_project\n```\n\n")
	b.WriteString("The organization and project can also be set under azure_devops in taskline.yml.")
	return b.String()
}

// New validates cfg and returns a client. A *ConfigError names what is missing.
func New(cfg Config) (*Client, error) {
	var missing []string
	if strings.TrimSpace(cfg.Token) == "" {
		missing = append(missing, "AZURE_DEVOPS_TOKEN")
	}
	if strings.TrimSpace(cfg.Organization) == "" {
		missing = append(missing, "AZURE_DEVOPS_ORGANIZATION")
	}
	if strings.TrimSpace(cfg.Project) == "" {
		missing = append(missing, "AZURE_DEVOPS_PROJECT")
	}
	if len(missing) > 0 {
		return nil, &ConfigError{Missing: missing}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 500 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

func (c *Client) Organization() string { return c.cfg.Organization }
func (c *Client) Project() string      { return c.cfg.Project }

type response struct {
	status int
	body   []byte
}

// send runs one API call under a deadline, retrying transport errors,
// throttling and server errors. Client errors are returned without retry.
func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body any) ([]byte, error) {
	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", endpoint, err)
		}
		payload = data
	}
	r := retry.New[response](retry.Config{
		MaxAttempts:   c.cfg.MaxAttempts,
		InitialDelay:  c.cfg.RetryDelay,
		BackoffPolicy: retry.BackoffExponential,
	})
	t := timeout.New[response](timeout.Config{DefaultTimeout: c.cfg.Timeout})
	res, err := t.Execute(ctx, c.cfg.Timeout, func(ctx context.Context) (response, error) {
		return r.Do(ctx, func(ctx context.Context) (response, error) {
			return c.roundTrip(ctx, method, endpoint, contentType, payload)
		})
	})
	if err != nil {
		return nil, err
	}
	if res.status >= 300 {
		return nil, &APIError{Method: method, Path: endpoint, StatusCode: res.status, Body: string(res.body)}
	}
	return res.body, nil
}

func (c *Client) roundTrip(ctx context.Context, method, endpoint, contentType string, payload []byte) (response, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return response{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(":"+c.cfg.Token)))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("azure devops request failed", zap.String("method", method), zap.String("url", redact(endpoint)), zap.Error(err))
		return response{}, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return response{}, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("azure devops request",
		zap.String("method", method),
		zap.String("url", redact(endpoint)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	res := response{status: resp.StatusCode, body: data}
	apiErr := &APIError{Method: method, Path: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	if resp.StatusCode >= 300 && apiErr.transient() {
		return res, apiErr
	}
	return res, nil
}

func redact(endpoint string) string {
	if i := strings.Index(endpoint, "?"); i >= 0 {
		return endpoint[:i]
	}
	return endpoint
}

func (c *Client) projectURL(path string, query url.Values) string {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", APIVersion)
	return fmt.Sprintf("%s/%s/%s/_apis/%s?%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(c.cfg.Organization),
		url.PathEscape(c.cfg.Project),
		strings.TrimLeft(path, "/"),
		query.Encode())
}

// HealthStatus reports whether the project endpoint answers.
type HealthStatus struct {
	Status       string `json:"status"`
	Organization string `json:"organization,omitempty"`
	Project      string `json:"project,omitempty"`
	Error        string `json:"error,omitempty"`
}

func (c *Client) Health(ctx context.Context) HealthStatus {
	endpoint := fmt.Sprintf("%s/%s/_apis/projects/%s?api-version=%s",
		strings.TrimRight(c.cfg.BaseURL, "/"),
		url.PathEscape(c.cfg.Organization),
		url.PathEscape(c.cfg.Project),
		APIVersion)
	if _, err := c.send(ctx, http.MethodGet, endpoint, "", nil); err != nil {
		return HealthStatus{Status: "unhealthy", Error: err.Error()}
	}
	return HealthStatus{Status: "healthy", Organization: c.cfg.Organization, Project: c.cfg.Project}
}
