package nlp

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/felixgeelhaar/fortify/timeout"
)

const DefaultModel = "claude-3-5-haiku-latest"

const labelPromptTemplate = `Classify the request below into exactly one of these labels:
timesheet, tasks, meetings, pull_requests, summary.

Answer with the label only.

Request:
{{.Text}}
`

// AnthropicClassifier asks a Claude model for a coarse intent label.
type AnthropicClassifier struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	timeout   time.Duration
	prompt    *template.Template
}

type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

func NewAnthropicClassifier(cfg AnthropicConfig) (*AnthropicClassifier, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY is not set", ErrModelUnavailable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	tmpl, err := template.New("label").Parse(labelPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse label prompt: %w", err)
	}
	return &AnthropicClassifier{
		client:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		prompt:    tmpl,
	}, nil
}

func (a *AnthropicClassifier) Label(ctx context.Context, text string) (string, error) {
	var buf bytes.Buffer
	if err := a.prompt.Execute(&buf, struct{ Text string }{text}); err != nil {
		return "", fmt.Errorf("render label prompt: %w", err)
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buf.String())),
		},
	}
	t := timeout.New[string](timeout.Config{DefaultTimeout: a.timeout})
	return t.Execute(ctx, a.timeout, func(ctx context.Context) (string, error) {
		message, err := a.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic label request: %w", err)
		}
		for _, block := range message.Content {
			if block.Type == "text" {
				return strings.TrimSpace(block.Text), nil
			}
		}
		return "", fmt.Errorf("%w: empty model response", ErrModelUnavailable)
	})
}
