package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"taskline/internal/planner"
)

// Config models taskline.yml.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		LogLevel string `yaml:"log_level"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"app"`
	NLP struct {
		Provider       string `yaml:"provider"`
		Model          string `yaml:"model"`
		MaxTokens      int64  `yaml:"max_tokens"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"nlp"`
	AzureDevOps struct {
		Organization   string `yaml:"organization"`
		Project        string `yaml:"project"`
		BaseURL        string `yaml:"base_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		MaxAttempts    int    `yaml:"max_attempts"`
		RetryDelayMS   int    `yaml:"retry_delay_ms"`
	} `yaml:"azure_devops"`
	Dispatch struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"dispatch"`
	History struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"history"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks       []Webhook                    `yaml:"webhooks"`
	WorkItemStates map[string]planner.StateRule `yaml:"work_item_states"`
}

type Webhook struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// IsEnabled defaults to true when enabled is omitted.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

var validProviders = map[string]bool{"": true, "none": true, "anthropic": true}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !validProviders[strings.ToLower(c.NLP.Provider)] {
		return fmt.Errorf("config.nlp.provider must be one of none, anthropic")
	}
	if c.NLP.TimeoutSeconds < 0 {
		return fmt.Errorf("config.nlp.timeout_seconds must not be negative")
	}
	if c.AzureDevOps.TimeoutSeconds < 0 {
		return fmt.Errorf("config.azure_devops.timeout_seconds must not be negative")
	}
	if c.AzureDevOps.MaxAttempts < 0 {
		return fmt.Errorf("config.azure_devops.max_attempts must not be negative")
	}
	if c.Dispatch.Concurrency < 0 {
		return fmt.Errorf("config.dispatch.concurrency must not be negative")
	}
	if c.History.Capacity < 0 {
		return fmt.Errorf("config.history.capacity must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	for typ, rule := range c.WorkItemStates {
		if strings.TrimSpace(typ) == "" {
			return fmt.Errorf("config.work_item_states contains an empty type")
		}
		if len(rule.Legal) == 0 {
			return fmt.Errorf("work item type %s has no legal states", typ)
		}
		if rule.Fallback == "" {
			return fmt.Errorf("work item type %s has no fallback state", typ)
		}
		found := false
		for _, s := range rule.Legal {
			if strings.EqualFold(s, rule.Fallback) {
				found = true
			}
		}
		if !found {
			return fmt.Errorf("work item type %s fallback %s is not a legal state", typ, rule.Fallback)
		}
	}
	return nil
}

// StateRules merges configured work-item types over the built-in table.
func (c *Config) StateRules() planner.StateRules {
	return planner.DefaultStateRules().Merge(c.WorkItemStates)
}

func (c *Config) NLPTimeout() time.Duration {
	return seconds(c.NLP.TimeoutSeconds, 30)
}

func (c *Config) AzureDevOpsTimeout() time.Duration {
	return seconds(c.AzureDevOps.TimeoutSeconds, 30)
}

func (c *Config) RetryDelay() time.Duration {
	if c.AzureDevOps.RetryDelayMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.AzureDevOps.RetryDelayMS) * time.Millisecond
}

func seconds(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing
// sections keep their defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads and validates a config file outside the workspace layout.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `app:
  name: taskline
  log_level: info
  debug: false

nlp:
  # none keeps classification fully rule-based; anthropic adds a model
  # fallback for read-only requests when ANTHROPIC_API_KEY is set.
  provider: none
  model: claude-3-5-haiku-latest
  max_tokens: 16
  timeout_seconds: 30

azure_devops:
  organization: ""
  project: ""
  base_url: https://dev.azure.com
  timeout_seconds: 30
  max_attempts: 3
  retry_delay_ms: 500

dispatch:
  concurrency: 4

history:
  capacity: 10

server:
  addr: 127.0.0.1:8080
  base_path: /v0

webhooks: []

work_item_states: {}
`
