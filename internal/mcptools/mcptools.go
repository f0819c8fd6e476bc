// Package mcptools exposes the query engine as MCP tools.
//
// Each tool is a struct with its dependencies, a Definition for the schema
// and a Handle method for calls, registered on one server by NewServer.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"taskline/internal/engine"
)

const (
	Version = "0.1.0"
	// ActorID is the conversation owner for stdio sessions.
	ActorID = "mcp"
)

const instructions = `taskline answers work-tracking requests in plain language.
Use process_query for questions ("show my tasks in the current sprint") and
updates ("update task 5131 status to active"). Updates must name a numeric
work item id. Use get_history to see what was asked before.`

// NewServer registers every tool on a fresh MCP server.
func NewServer(e engine.Engine, convs *engine.Conversations) *server.MCPServer {
	if convs == nil {
		convs = engine.NewConversations(engine.DefaultHistoryCapacity)
	}
	s := server.NewMCPServer(
		"taskline",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	query := NewQueryTool(e, convs)
	s.AddTool(query.Definition(), query.Handle)

	history := NewHistoryTool(convs)
	s.AddTool(history.Definition(), history.Handle)

	health := NewHealthTool(e)
	s.AddTool(health.Definition(), health.Handle)

	return s
}

// QueryTool handles process_query.
type QueryTool struct {
	engine engine.Engine
	convs  *engine.Conversations
}

func NewQueryTool(e engine.Engine, convs *engine.Conversations) *QueryTool {
	return &QueryTool{engine: e, convs: convs}
}

func (t *QueryTool) Definition() mcp.Tool {
	return mcp.NewTool("process_query",
		mcp.WithDescription("Answer a natural-language work-tracking request. Update requests are checked for a valid work item id before anything changes."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The request, for example: update task 5131 status to active"),
		),
	)
}

// Handle returns the engine's response text. A request the engine refused
// is reported as a tool error so the caller sees it failed.
func (t *QueryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text := strings.TrimSpace(req.GetString("query", ""))
	if text == "" {
		return mcp.NewToolResultError("query is required"), nil
	}
	ctx = engine.WithActor(ctx, ActorID)
	res := t.engine.Process(ctx, t.convs.For(ActorID), text)

	var sb strings.Builder
	sb.WriteString(res.Response)
	fmt.Fprintf(&sb, "\n\n---\nintent: %s (confidence %.1f), tool: %s", res.Intent, res.Confidence, res.ToolUsed)
	if res.Metadata.Rejection != "" {
		fmt.Fprintf(&sb, ", rejected: %s", res.Metadata.Rejection)
	}
	if !res.Success {
		return mcp.NewToolResultError(sb.String()), nil
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HistoryTool handles get_history.
type HistoryTool struct {
	convs *engine.Conversations
}

func NewHistoryTool(convs *engine.Conversations) *HistoryTool {
	return &HistoryTool{convs: convs}
}

func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("get_history",
		mcp.WithDescription("List the most recent requests of this session, oldest first."),
		mcp.WithBoolean("clear", mcp.Description("Forget the history after listing it")),
	)
}

func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conv := t.convs.For(ActorID)
	entries := conv.Entries()
	if boolArg(req, "clear", false) {
		conv.Clear()
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No requests yet."), nil
	}
	var sb strings.Builder
	sb.WriteString("## Recent requests\n")
	for i, e := range entries {
		status := "ok"
		if !e.Success {
			status = "failed"
		}
		fmt.Fprintf(&sb, "\n%d. %s\n   intent: %s, %s", i+1, e.UserInput, e.Intent, status)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HealthTool handles health_check.
type HealthTool struct {
	engine engine.Engine
}

func NewHealthTool(e engine.Engine) *HealthTool {
	return &HealthTool{engine: e}
}

func (t *HealthTool) Definition() mcp.Tool {
	return mcp.NewTool("health_check",
		mcp.WithDescription("Report classifier, Azure DevOps and secret availability as JSON."),
	)
}

func (t *HealthTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(t.engine.Health(ctx), "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode health: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// boolArg extracts a boolean argument, returning defaultVal when absent.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}

// ServeStdio runs the MCP server on stdin and stdout until EOF.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
