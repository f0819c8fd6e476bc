package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/enginetest"
	"taskline/internal/events"
	"taskline/internal/migrate"
	"taskline/internal/nlp"
	"taskline/internal/repo"
)

const testSecret = "test-secret"

type testEnv struct {
	URL     string
	client  *http.Client
	backend *enginetest.Backend
	repo    repo.Repo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	backend := enginetest.New()
	e := engine.Engine{
		Classifier: nlp.Classifier{Logger: logger},
		Backend:    backend,
		States:     config.Default().StateRules(),
		Audit:      events.Writer{DB: conn},
		Logger:     logger,
	}
	r := repo.Repo{DB: conn}
	handler, err := New(Config{
		Engine:        e,
		Conversations: engine.NewConversations(3),
		Repo:          r,
		BasePath:      "/v0",
		Auth:          AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
		Logger:        logger,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		conn.Close()
	})
	return &testEnv{URL: "http://" + ln.Addr().String(), client: &http.Client{}, backend: backend, repo: r}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func as(actor string) map[string]string { return map[string]string{"X-Actor-Id": actor} }

func (env *testEnv) query(t *testing.T, actor, text string) QueryResponse {
	t.Helper()
	res, data := doJSON(t, env.client, http.MethodPost, env.URL+"/v0/query", map[string]any{"query": text}, as(actor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out QueryResponse
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func (env *testEnv) events(t *testing.T, actor, params string) paginatedEvents {
	t.Helper()
	res, data := doJSON(t, env.client, http.MethodGet, env.URL+"/v0/events"+params, nil, as(actor))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out paginatedEvents
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestQueryUpdateIsDispatchedAndAudited(t *testing.T) {
	env := newTestEnv(t)

	out := env.query(t, "alice", "update task 5131 status to active")
	assert.True(t, out.Success, out.Response)
	assert.Equal(t, "task_update", out.Intent)
	assert.Equal(t, engine.ToolAzureDevOps, out.ToolUsed)
	assert.Equal(t, engine.StateReported, out.Metadata.State)
	assert.Contains(t, out.Response, "Task 5131 updated successfully!")
	require.Len(t, out.Metadata.Outcomes, 1)
	assert.Equal(t, "Active", out.Metadata.Outcomes[0].Updates["status"])

	patches := env.backend.Patches()
	require.Len(t, patches, 1)
	assert.Equal(t, 5131, patches[0].ID)

	evts := env.events(t, "alice", "?query_id="+out.Metadata.QueryID)
	require.Len(t, evts.Items, 1)
	assert.Equal(t, events.TypeWorkItemPatched, evts.Items[0].Type)
	assert.Equal(t, "5131", evts.Items[0].EntityID)
	assert.Equal(t, "alice", evts.Items[0].ActorID)
}

func TestQueryRejectionNeverReachesBackend(t *testing.T) {
	env := newTestEnv(t)

	out := env.query(t, "alice", "update status to active")
	assert.False(t, out.Success)
	assert.Equal(t, "missing_id", out.Metadata.Rejection)
	assert.Equal(t, engine.StateRejected, out.Metadata.State)
	assert.Zero(t, env.backend.PatchCount())

	evts := env.events(t, "alice", "?type="+events.TypeUpdateRejected)
	require.Len(t, evts.Items, 1)
	assert.Equal(t, out.Metadata.QueryID, evts.Items[0].QueryID)
}

func TestQueryRequiresText(t *testing.T) {
	env := newTestEnv(t)
	res, data := doJSON(t, env.client, http.MethodPost, env.URL+"/v0/query", map[string]any{"query": "   "}, as("alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Contains(t, string(data), `"code":"bad_request"`)
}

func TestHistoryIsPerActorAndBounded(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"show my tasks", "my pull requests", "meetings today", "timesheet for this week"} {
		env.query(t, "alice", q)
	}
	env.query(t, "bob", "show my tasks")

	res, data := doJSON(t, env.client, http.MethodGet, env.URL+"/v0/history", nil, as("alice"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(data, &hist))
	require.Len(t, hist.Items, 3)
	assert.Equal(t, "my pull requests", hist.Items[0].UserInput)
	assert.Equal(t, "timesheet for this week", hist.Items[2].UserInput)

	res, data = doJSON(t, env.client, http.MethodDelete, env.URL+"/v0/history", nil, as("alice"))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	_, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/history", nil, as("alice"))
	require.NoError(t, json.Unmarshal(data, &hist))
	assert.Empty(t, hist.Items)

	_, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/history", nil, as("bob"))
	require.NoError(t, json.Unmarshal(data, &hist))
	assert.Len(t, hist.Items, 1)
}

func TestAuthRequiredExceptHealth(t *testing.T) {
	env := newTestEnv(t)

	res, data := doJSON(t, env.client, http.MethodGet, env.URL+"/v0/history", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, string(data), `"code":"unauthorized"`)

	res, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Contains(t, string(data), `"code":"invalid_credentials"`)

	res, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var h engine.Health
	require.NoError(t, json.Unmarshal(data, &h))
	assert.Equal(t, "ok", h.Classifier)
	assert.Len(t, h.Tools, 4)
}

func TestJWTAndAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)

	res, data := doJSON(t, env.client, http.MethodPost, env.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "carol"}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var login DevLoginResponse
	require.NoError(t, json.Unmarshal(data, &login))

	res, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var who WhoAmIResponse
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, WhoAmIResponse{ActorID: "carol", Source: "jwt"}, who)

	_, plain, err := env.repo.CreateAPIKey(context.Background(), "dave", "ci")
	require.NoError(t, err)
	res, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/me", nil, map[string]string{"X-Api-Key": plain})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &who))
	assert.Equal(t, WhoAmIResponse{ActorID: "dave", Source: "api_key"}, who)

	res, _ = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/me", nil, map[string]string{"X-Api-Key": "tl_unknown"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestEventsPagination(t *testing.T) {
	env := newTestEnv(t)
	env.query(t, "alice", "update status to active")
	env.query(t, "alice", "update task abc status to active")
	env.query(t, "alice", "update task 7 status to closed")

	first := env.events(t, "alice", "?limit=2")
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, events.TypeWorkItemPatched, first.Items[0].Type)

	second := env.events(t, "alice", "?limit=2&cursor="+first.NextCursor)
	require.Len(t, second.Items, 1)
	assert.Empty(t, second.NextCursor)
	assert.Less(t, second.Items[0].ID, first.Items[1].ID)

	res, data := doJSON(t, env.client, http.MethodGet, env.URL+"/v0/events?cursor=zzz", nil, as("alice"))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestOpenAPIAndDocs(t *testing.T) {
	env := newTestEnv(t)
	res, data := doJSON(t, env.client, http.MethodGet, env.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `"/v0/query"`)
	assert.Contains(t, string(data), "bearerAuth")

	res, data = doJSON(t, env.client, http.MethodGet, env.URL+"/v0/docs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/v0/openapi")
}

func TestWebhookForwardsNewEvents(t *testing.T) {
	env := newTestEnv(t)
	env.query(t, "alice", "update status to active")

	var (
		mu       sync.Mutex
		received []EventResponse
		bodies   [][]byte
		headers  []http.Header
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt EventResponse
		assert.NoError(t, json.Unmarshal(body, &evt))
		mu.Lock()
		received = append(received, evt)
		bodies = append(bodies, body)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	d := &WebhookDispatcher{
		Repo:     env.repo,
		Webhooks: []config.Webhook{{URL: hook.URL, Events: []string{events.TypeWorkItemPatched}, Secret: "s3cret"}},
		Logger:   zaptest.NewLogger(t),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d.DispatchAll(ctx)

	env.query(t, "alice", "update status to closed")
	env.query(t, "alice", "update task 42 status to closed")
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, events.TypeWorkItemPatched, received[0].Type)
	assert.Equal(t, "42", received[0].EntityID)
	assert.Equal(t, sign("s3cret", bodies[0]), headers[0].Get("X-Taskline-Signature"))
	assert.True(t, strings.HasPrefix(headers[0].Get("X-Taskline-Signature"), "sha256="))
	assert.Equal(t, events.TypeWorkItemPatched, headers[0].Get("X-Taskline-Event"))
	assert.Equal(t, strconv.FormatInt(received[0].ID, 10), headers[0].Get("X-Taskline-Delivery"))
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	d := &WebhookDispatcher{
		Repo:       env.repo,
		Webhooks:   []config.Webhook{{ID: "ops", URL: hook.URL}},
		RetryDelay: time.Millisecond,
		Logger:     zaptest.NewLogger(t),
	}
	ctx := context.Background()
	d.DispatchAll(ctx)
	env.query(t, "alice", "update status to active")
	d.DispatchAll(ctx)
	assert.Equal(t, int32(3), calls.Load())

	d.DispatchAll(ctx)
	assert.Equal(t, int32(3), calls.Load(), "delivered events are not resent")
}

func TestWebhookClientErrorIsFinal(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int32
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer hook.Close()

	d := &WebhookDispatcher{
		Repo:       env.repo,
		Webhooks:   []config.Webhook{{URL: hook.URL}},
		RetryDelay: time.Millisecond,
	}
	ctx := context.Background()
	d.DispatchAll(ctx)
	env.query(t, "alice", "update status to active")
	d.DispatchAll(ctx)
	assert.Equal(t, int32(1), calls.Load())

	d.DispatchAll(ctx)
	assert.Equal(t, int32(2), calls.Load(), "undelivered event is retried on the next pass")
}

func TestSubscribed(t *testing.T) {
	cases := []struct {
		patterns []string
		typ      string
		want     bool
	}{
		{nil, events.TypeWorkItemFailed, true},
		{[]string{" "}, events.TypeUpdateRejected, true},
		{[]string{"work_item.*"}, events.TypeWorkItemFailed, true},
		{[]string{"work_item.*"}, events.TypeUpdateRejected, false},
		{[]string{events.TypeUpdateRejected, events.TypeWorkItemPatched}, events.TypeWorkItemPatched, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, subscribed(tc.patterns, tc.typ), "%v %s", tc.patterns, tc.typ)
	}
}

func TestParseCursorAndPageSize(t *testing.T) {
	id, err := parseCursor("")
	require.NoError(t, err)
	assert.Zero(t, id)
	id, err = parseCursor("17")
	require.NoError(t, err)
	assert.Equal(t, int64(17), id)
	for _, bad := range []string{"0", "-4", "x1"} {
		_, err := parseCursor(bad)
		assert.Error(t, err, bad)
	}

	assert.Equal(t, 50, pageSize(0))
	assert.Equal(t, 7, pageSize(7))
	assert.Equal(t, 200, pageSize(1000))
}

func TestQueryResponseFlattensOutcomes(t *testing.T) {
	res := domain.Result{
		Success: true,
		Intent:  domain.IntentTaskUpdate,
		Metadata: domain.ResultMetadata{Outcomes: []domain.ItemOutcome{{
			WorkItemID: 9,
			OK:         true,
			Updates:    []domain.FieldUpdate{{Field: domain.FieldStatus, Value: "Closed"}, {Field: domain.FieldPriority, Value: 2}},
		}}},
	}
	out := queryResponse(res)
	require.Len(t, out.Metadata.Outcomes, 1)
	assert.Equal(t, map[string]any{"status": "Closed", "priority": 2}, out.Metadata.Outcomes[0].Updates)
}
