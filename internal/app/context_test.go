package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"taskline/internal/ado"
	"taskline/internal/config"
	"taskline/internal/engine"
	"taskline/internal/engine/enginetest"
	"taskline/internal/events"
	"taskline/internal/repo"
	"taskline/internal/secrets"
)

func TestBootstrapWithoutCredentials(t *testing.T) {
	a, err := Bootstrap(context.Background(), Options{
		Config:  config.Default(),
		Secrets: secrets.Static{},
		Logger:  zaptest.NewLogger(t),
		NoAudit: true,
	})
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Engine.Backend)
	var cfgErr *ado.ConfigError
	require.True(t, errors.As(a.Engine.BackendErr, &cfgErr))
	assert.Len(t, cfgErr.Missing, 3)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Engine.Audit)
	assert.Nil(t, a.Engine.Classifier.Model)

	res := a.Engine.Process(context.Background(), nil, "update task 5 status to active")
	assert.False(t, res.Success)
	assert.Contains(t, res.Response, "Azure DevOps Configuration Required")
}

func TestBootstrapBuildsClientFromSecrets(t *testing.T) {
	cfg := config.Default()
	cfg.AzureDevOps.Organization = "from-yaml"
	cfg.AzureDevOps.Project = "web"
	a, err := Bootstrap(context.Background(), Options{
		Config: cfg,
		Secrets: secrets.Static{
			secrets.AzureDevOpsToken:        "pat",
			secrets.AzureDevOpsOrganization: "from-env",
		},
		Logger:  zaptest.NewLogger(t),
		NoAudit: true,
	})
	require.NoError(t, err)
	client, ok := a.Engine.Backend.(*ado.Client)
	require.True(t, ok)
	assert.Equal(t, "from-env", client.Organization())
	assert.Equal(t, "web", client.Project())
	assert.NoError(t, a.Engine.BackendErr)
}

func TestBootstrapAuditStore(t *testing.T) {
	ws := t.TempDir()
	backend := enginetest.New()
	a, err := Bootstrap(context.Background(), Options{
		Workspace: ws,
		Config:    config.Default(),
		Secrets:   secrets.Static{},
		Logger:    zaptest.NewLogger(t),
		Backend:   backend,
	})
	require.NoError(t, err)
	defer a.Close()
	require.NotNil(t, a.DB)
	_, err = os.Stat(filepath.Join(ws, ".taskline", "taskline.db"))
	require.NoError(t, err)

	ctx := engine.WithActor(context.Background(), "carol")
	res := a.Engine.Process(ctx, a.Conversations.For("carol"), "update task 8 priority to 3")
	require.True(t, res.Success, res.Response)
	assert.Equal(t, 1, backend.PatchCount())

	evts, err := a.Repo.LatestEvents(ctx, 10, repo.EventFilter{Type: events.TypeWorkItemPatched})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "carol", evts[0].ActorID)
	assert.Equal(t, "8", evts[0].EntityID)
	assert.Equal(t, 1, a.Conversations.For("carol").Len())
}

func TestBootstrapLoadsWorkspaceConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("history:\n  capacity: 2\ndispatch:\n  concurrency: 7\n"), 0o644))
	a, err := Bootstrap(context.Background(), Options{Workspace: ws, Secrets: secrets.Static{}, Logger: zaptest.NewLogger(t), NoAudit: true})
	require.NoError(t, err)
	assert.Equal(t, 7, a.Engine.Concurrency)
	assert.Equal(t, 2, a.Config.History.Capacity)
}

func TestBootstrapRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("nlp:\n  provider: openai\n"), 0o644))
	_, err := Bootstrap(context.Background(), Options{Workspace: ws, NoAudit: true})
	assert.ErrorContains(t, err, "load config")
}

func TestModelClassifier(t *testing.T) {
	cfg := config.Default()
	logger := zaptest.NewLogger(t)
	assert.Nil(t, modelClassifier(cfg, secrets.Static{secrets.AnthropicAPIKey: "k"}, logger))

	cfg.NLP.Provider = "anthropic"
	assert.Nil(t, modelClassifier(cfg, secrets.Static{}, logger))
	assert.NotNil(t, modelClassifier(cfg, secrets.Static{secrets.AnthropicAPIKey: "k"}, logger))
}

func TestNewLogger(t *testing.T) {
	_, err := NewLogger("loud", false)
	assert.ErrorContains(t, err, `invalid log level "loud"`)
	l, err := NewLogger("warn", false)
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))
}
