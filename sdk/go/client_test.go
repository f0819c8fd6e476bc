package tasklinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuerySendsCredentialsAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "tl_secret", r.Header.Get("X-Api-Key"))
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "update task 5 status to active", body["query"])
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":true,"response":"Task 5 updated successfully!","intent":"task_update","confidence":0.8,"tool_used":"azure_devops","metadata":{"query_id":"q1","outcomes":[{"work_item_id":5,"ok":true,"updates":{"status":"Active"}}]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL + "/v0/")
	c.APIKey = "tl_secret"
	res, err := c.Query(context.Background(), "update task 5 status to active")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "task_update", res.Intent)
	require.Len(t, res.Metadata.Outcomes, 1)
	assert.Equal(t, "Active", res.Metadata.Outcomes[0].Updates["status"])
}

func TestBearerWinsOverActorHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("X-Actor-Id"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	c.ActorID = "alice"
	require.NoError(t, c.ClearHistory(context.Background()))
}

func TestEventsEncodesFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "work_item", q.Get("entity_kind"))
		assert.Equal(t, "42", q.Get("entity_id"))
		assert.Equal(t, "10", q.Get("limit"))
		assert.False(t, q.Has("cursor"))
		w.Write([]byte(`{"items":[{"id":7,"type":"work_item.patched","entity_kind":"work_item","entity_id":"42","actor_id":"alice","payload":{"ok":true}}],"next_cursor":"7"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL).Events(context.Background(), EventQuery{EntityKind: "work_item", EntityID: "42", Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, int64(7), page.Items[0].ID)
	assert.Equal(t, "7", page.NextCursor)
	assert.JSONEq(t, `{"ok":true}`, string(page.Items[0].Payload))
}

func TestErrorEnvelopeIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"code":"unauthorized","message":"missing credentials"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).History(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "missing credentials")
}
