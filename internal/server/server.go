// Package server exposes the query engine over HTTP.
package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"taskline/internal/engine"
	"taskline/internal/repo"
)

const (
	defaultBasePath = "/v0"
	defaultPageSize = 50
	maxPageSize     = 200
	securityBearer  = "bearerAuth"
	securityAPIKey  = "apiKeyAuth"
	apiTitle        = "Taskline API"
	apiVersion      = "0.1.0"
)

// Config for the HTTP API handler.
type Config struct {
	Engine        engine.Engine
	Conversations *engine.Conversations
	Repo          repo.Repo
	BasePath      string
	Auth          AuthConfig
	Logger        *zap.Logger
	Now           func() time.Time
}

// callerAuth marks an operation as needing either a bearer token or an API key.
var callerAuth = []map[string][]string{{securityBearer: {}}, {securityAPIKey: {}}}

func protected(op huma.Operation) huma.Operation {
	op.Security = callerAuth
	op.Errors = append(op.Errors, http.StatusUnauthorized)
	return op
}

// New returns an HTTP handler exposing the taskline API. The OpenAPI
// document and docs page live under the base path next to the operations.
func New(cfg Config) (http.Handler, error) {
	basePath := "/" + strings.Trim(cfg.BasePath, "/")
	if basePath == "/" {
		basePath = defaultBasePath
	}
	if cfg.Conversations == nil {
		cfg.Conversations = engine.NewConversations(engine.DefaultHistoryCapacity)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger.Named("auth")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	useEnvelope()
	huma.DefaultArrayNullable = false

	router := chi.NewRouter()
	router.Use(newAuthenticator(basePath, cfg.Auth, cfg.Repo).middleware)

	hcfg := huma.DefaultConfig(apiTitle, apiVersion)
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	hcfg.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		securityBearer: {Type: "http", Scheme: "bearer", BearerFormat: "JWT"},
		securityAPIKey: {Type: "apiKey", In: "header", Name: "X-Api-Key"},
	}
	api := humachi.New(router, hcfg)
	h := handlers{cfg: cfg}
	h.register(huma.NewGroup(api, basePath))
	return router, nil
}

type handlers struct {
	cfg Config
}

func (h handlers) register(g huma.API) {
	huma.Register(g, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, h.health)
	huma.Register(g, protected(huma.Operation{
		OperationID: "query",
		Method:      http.MethodPost,
		Path:        "/query",
		Summary:     "Answer a natural-language request",
		Description: "Update requests are validated before anything is sent to Azure DevOps. A rejected or failed request still returns 200 with success=false.",
		Errors:      []int{http.StatusBadRequest},
	}), h.query)
	huma.Register(g, protected(huma.Operation{
		OperationID: "get-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "Recent exchanges of the caller, oldest first",
	}), h.history)
	huma.Register(g, protected(huma.Operation{
		OperationID:   "clear-history",
		Method:        http.MethodDelete,
		Path:          "/history",
		Summary:       "Forget the caller's conversation",
		DefaultStatus: http.StatusNoContent,
	}), h.clearHistory)
	huma.Register(g, protected(huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusServiceUnavailable},
	}), h.events)
	huma.Register(g, protected(huma.Operation{
		OperationID: "list-tools",
		Method:      http.MethodGet,
		Path:        "/tools",
		Summary:     "Tools the engine can route to",
	}), h.tools)
	huma.Register(g, protected(huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
	}), h.me)
	if h.cfg.Auth.DevLogin {
		huma.Register(g, huma.Operation{
			OperationID: "dev-login",
			Method:      http.MethodPost,
			Path:        "/auth/dev/login",
			Summary:     "DEV ONLY: mint a JWT for local testing",
			Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
		}, h.devLogin)
	}
}

type healthOutput struct {
	Body engine.Health
}

func (h handlers) health(ctx context.Context, _ *struct{}) (*healthOutput, error) {
	return &healthOutput{Body: h.cfg.Engine.Health(ctx)}, nil
}

type queryInput struct {
	Body QueryRequest
}

type queryOutput struct {
	Body QueryResponse
}

func (h handlers) query(ctx context.Context, in *queryInput) (*queryOutput, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(in.Body.Query)
	if text == "" {
		return nil, failure(http.StatusBadRequest, "", "query required")
	}
	res := h.cfg.Engine.Process(engine.WithActor(ctx, p.ActorID), h.cfg.Conversations.For(p.ActorID), text)
	return &queryOutput{Body: queryResponse(res)}, nil
}

type historyOutput struct {
	Body HistoryResponse
}

func (h handlers) history(ctx context.Context, _ *struct{}) (*historyOutput, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return &historyOutput{Body: historyResponse(p.ActorID, h.cfg.Conversations.For(p.ActorID).Entries())}, nil
}

func (h handlers) clearHistory(ctx context.Context, _ *struct{}) (*struct{}, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	h.cfg.Conversations.For(p.ActorID).Clear()
	return &struct{}{}, nil
}

type eventsInput struct {
	Type       string `query:"type" doc:"Event type, e.g. work_item.patched"`
	QueryID    string `query:"query_id"`
	EntityKind string `query:"entity_kind" enum:"query,work_item"`
	EntityID   string `query:"entity_id"`
	ActorID    string `query:"actor_id"`
	Limit      int    `query:"limit" default:"50" doc:"Page size, at most 200"`
	Cursor     string `query:"cursor" doc:"next_cursor of the previous page"`
}

type eventsOutput struct {
	Body paginatedEvents
}

func (h handlers) events(ctx context.Context, in *eventsInput) (*eventsOutput, error) {
	if h.cfg.Repo.DB == nil {
		return nil, failure(http.StatusServiceUnavailable, "audit_disabled", "audit store is not configured")
	}
	before, err := parseCursor(in.Cursor)
	if err != nil {
		return nil, failure(http.StatusBadRequest, "", "invalid cursor").with("cursor", in.Cursor)
	}
	limit := pageSize(in.Limit)
	items, err := h.cfg.Repo.LatestEventsFrom(ctx, limit+1, before, repo.EventFilter{
		Type:       in.Type,
		QueryID:    in.QueryID,
		EntityKind: in.EntityKind,
		EntityID:   in.EntityID,
		ActorID:    in.ActorID,
	})
	if err != nil {
		return nil, storeFailure(err)
	}
	page := paginatedEvents{Items: make([]EventResponse, 0, len(items))}
	if len(items) > limit {
		items = items[:limit]
		page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
	}
	for _, evt := range items {
		page.Items = append(page.Items, eventResponse(evt))
	}
	return &eventsOutput{Body: page}, nil
}

// parseCursor reads an event id; empty means start from the newest event.
func parseCursor(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

func pageSize(n int) int {
	switch {
	case n <= 0:
		return defaultPageSize
	case n > maxPageSize:
		return maxPageSize
	}
	return n
}

type toolsOutput struct {
	Body []engine.ToolInfo
}

func (h handlers) tools(_ context.Context, _ *struct{}) (*toolsOutput, error) {
	return &toolsOutput{Body: h.cfg.Engine.Tools()}, nil
}

type meOutput struct {
	Body WhoAmIResponse
}

func (h handlers) me(ctx context.Context, _ *struct{}) (*meOutput, error) {
	p, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	return &meOutput{Body: WhoAmIResponse{ActorID: p.ActorID, Source: p.Source}}, nil
}

type devLoginInput struct {
	Body DevLoginRequest
}

type devLoginOutput struct {
	Body DevLoginResponse
}

func (h handlers) devLogin(_ context.Context, in *devLoginInput) (*devLoginOutput, error) {
	actor := strings.TrimSpace(in.Body.ActorID)
	if actor == "" {
		return nil, failure(http.StatusBadRequest, "", "actor_id is required")
	}
	token, err := mintDevToken(h.cfg.Auth.JWTSecret, actor, h.cfg.Now())
	if err != nil {
		return nil, failure(http.StatusInternalServerError, "", err.Error())
	}
	return &devLoginOutput{Body: DevLoginResponse{Token: token}}, nil
}
