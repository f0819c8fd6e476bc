// Package app wires configuration, storage and backends into an Engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"taskline/internal/ado"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/migrate"
	"taskline/internal/nlp"
	"taskline/internal/repo"
	"taskline/internal/secrets"
)

// Options tune Bootstrap. Zero values load taskline.yml from the current
// directory and read secrets from the environment.
type Options struct {
	Workspace string
	Config    *config.Config
	Secrets   secrets.Source
	Logger    *zap.Logger
	// Backend replaces the Azure DevOps client, mainly for tests.
	Backend engine.Backend
	// NoAudit skips opening the sqlite audit store.
	NoAudit bool
}

// App is the composed runtime shared by every front end.
type App struct {
	Config        *config.Config
	Engine        engine.Engine
	Conversations *engine.Conversations
	DB            *sql.DB
	Repo          repo.Repo
	Secrets       secrets.Source
	Logger        *zap.Logger
}

// Close releases the audit database.
func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Bootstrap loads configuration and builds the engine. A missing Azure
// DevOps setting is not fatal: update requests answer with setup
// instructions instead.
func Bootstrap(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	logger := opts.Logger
	if logger == nil {
		l, err := NewLogger(cfg.App.LogLevel, cfg.App.Debug)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	src := opts.Secrets
	if src == nil {
		src = secrets.Chain{secrets.NewEnvSource()}
	}

	a := &App{
		Config:        cfg,
		Conversations: engine.NewConversations(cfg.History.Capacity),
		Secrets:       src,
		Logger:        logger,
	}

	eng := engine.Engine{
		Classifier:  nlp.Classifier{Model: modelClassifier(cfg, src, logger), Logger: logger.Named("nlp")},
		States:      cfg.StateRules(),
		Concurrency: cfg.Dispatch.Concurrency,
		Secrets:     src,
		Logger:      logger.Named("engine"),
	}

	if opts.Backend != nil {
		eng.Backend = opts.Backend
	} else {
		client, err := NewBackend(cfg, src, logger.Named("ado"))
		if err != nil {
			var cfgErr *ado.ConfigError
			if !errors.As(err, &cfgErr) {
				return nil, err
			}
			logger.Warn("azure devops not configured", zap.Strings("missing", cfgErr.Missing))
			eng.BackendErr = err
		} else {
			eng.Backend = client
		}
	}

	if !opts.NoAudit {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open audit store: %w", err)
		}
		if _, err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate audit store: %w", err)
		}
		a.DB = conn
		a.Repo = repo.Repo{DB: conn}
		eng.Audit = events.Writer{DB: conn}
	}

	a.Engine = eng
	return a, nil
}

// NewBackend builds the Azure DevOps client. Environment secrets win over
// the organization and project in taskline.yml.
func NewBackend(cfg *config.Config, src secrets.Source, logger *zap.Logger) (*ado.Client, error) {
	token, _ := src.GetSecret(secrets.AzureDevOpsToken)
	org := cfg.AzureDevOps.Organization
	if v, ok := src.GetSecret(secrets.AzureDevOpsOrganization); ok {
		org = v
	}
	project := cfg.AzureDevOps.Project
	if v, ok := src.GetSecret(secrets.AzureDevOpsProject); ok {
		project = v
	}
	return ado.New(ado.Config{
		Organization: org,
		Project:      project,
		Token:        token,
		BaseURL:      cfg.AzureDevOps.BaseURL,
		Timeout:      cfg.AzureDevOpsTimeout(),
		MaxAttempts:  cfg.AzureDevOps.MaxAttempts,
		RetryDelay:   cfg.RetryDelay(),
		Logger:       logger,
	})
}

// modelClassifier returns nil unless the anthropic provider is selected and
// a key is available.
func modelClassifier(cfg *config.Config, src secrets.Source, logger *zap.Logger) nlp.ModelClassifier {
	if !strings.EqualFold(cfg.NLP.Provider, "anthropic") {
		return nil
	}
	key, _ := src.GetSecret(secrets.AnthropicAPIKey)
	m, err := nlp.NewAnthropicClassifier(nlp.AnthropicConfig{
		APIKey:    key,
		Model:     cfg.NLP.Model,
		MaxTokens: cfg.NLP.MaxTokens,
		Timeout:   cfg.NLPTimeout(),
	})
	if err != nil {
		logger.Warn("model classifier disabled", zap.Error(err))
		return nil
	}
	return m
}

// NewLogger builds a production zap logger at level, or a development one
// when debug is set.
func NewLogger(level string, debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	zc.OutputPaths = []string{"stderr"}
	return zc.Build()
}
