package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"taskline/internal/engine"
	"taskline/internal/engine/enginetest"
	"taskline/internal/nlp"
)

func newTestEngine(t *testing.T) (engine.Engine, *enginetest.Backend) {
	t.Helper()
	backend := enginetest.New()
	return engine.Engine{Classifier: nlp.Classifier{}, Backend: backend}, backend
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(r *mcp.CallToolResult) string {
	if r == nil {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestQueryTool_Definition(t *testing.T) {
	e, _ := newTestEngine(t)
	def := NewQueryTool(e, nil).Definition()
	if def.Name != "process_query" {
		t.Errorf("tool name = %q, want process_query", def.Name)
	}
	if _, ok := def.InputSchema.Properties["query"]; !ok {
		t.Error("missing 'query' parameter")
	}
	if len(def.InputSchema.Required) != 1 || def.InputSchema.Required[0] != "query" {
		t.Errorf("required = %v, want [query]", def.InputSchema.Required)
	}
}

func TestQueryTool_UpdateSucceeds(t *testing.T) {
	e, backend := newTestEngine(t)
	convs := engine.NewConversations(5)
	tool := NewQueryTool(e, convs)

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"query": "set task 12 priority to 2"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(res))
	}
	text := resultText(res)
	if !strings.Contains(text, "Task 12 updated successfully!") {
		t.Errorf("response = %q", text)
	}
	if !strings.Contains(text, "intent: task_update") {
		t.Errorf("missing intent footer: %q", text)
	}
	if got := backend.PatchCount(); got != 1 {
		t.Errorf("patches = %d, want 1", got)
	}
	if got := convs.For(ActorID).Len(); got != 1 {
		t.Errorf("history len = %d, want 1", got)
	}
}

func TestQueryTool_RejectionIsToolError(t *testing.T) {
	e, backend := newTestEngine(t)
	tool := NewQueryTool(e, engine.NewConversations(5))

	res, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{"query": "update TASK-abc status to closed"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error for invalid id")
	}
	if !strings.Contains(resultText(res), "rejected: invalid_id_format") {
		t.Errorf("response = %q", resultText(res))
	}
	if backend.PatchCount() != 0 {
		t.Error("rejected update reached the backend")
	}
}

func TestQueryTool_EmptyQuery(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := NewQueryTool(e, nil).Handle(context.Background(), makeReq(map[string]interface{}{"query": "  "}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.IsError {
		t.Error("expected error for empty query")
	}
}

func TestHistoryTool_ListAndClear(t *testing.T) {
	e, _ := newTestEngine(t)
	convs := engine.NewConversations(5)
	query := NewQueryTool(e, convs)
	history := NewHistoryTool(convs)
	ctx := context.Background()

	res, _ := history.Handle(ctx, makeReq(nil))
	if got := resultText(res); got != "No requests yet." {
		t.Errorf("empty history = %q", got)
	}

	for _, q := range []string{"show my tasks", "update status to active"} {
		if _, err := query.Handle(ctx, makeReq(map[string]interface{}{"query": q})); err != nil {
			t.Fatalf("query %q: %v", q, err)
		}
	}

	res, _ = history.Handle(ctx, makeReq(map[string]interface{}{"clear": true}))
	text := resultText(res)
	if !strings.Contains(text, "1. show my tasks") || !strings.Contains(text, "2. update status to active") {
		t.Errorf("history = %q", text)
	}
	if !strings.Contains(text, "intent: task_update, failed") {
		t.Errorf("missing failed marker: %q", text)
	}
	if convs.For(ActorID).Len() != 0 {
		t.Error("history not cleared")
	}
}

func TestHealthTool_ReportsTools(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := NewHealthTool(e).Handle(context.Background(), makeReq(nil))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var h engine.Health
	if err := json.Unmarshal([]byte(resultText(res)), &h); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if len(h.Tools) != 4 {
		t.Errorf("tools = %d, want 4", len(h.Tools))
	}
	if !h.Tools[0].Connected {
		t.Error("azure_devops should be connected")
	}
}

func TestNewServer_RegistersTools(t *testing.T) {
	e, _ := newTestEngine(t)
	s := NewServer(e, nil)
	if s == nil {
		t.Fatal("nil server")
	}
}
