// Package mcp exposes the engine's caller operations as MCP tools.
package mcp

import (
	"context"
	"encoding/json"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/Rogers-F/handoff-engine/internal/bridge"
)

const serverName = "handoff-engine"

// ExecuteInput is the input of the execute_workflow tool.
type ExecuteInput struct {
	Task            string         `json:"task" jsonschema:"the task to run through the workflow"`
	ContextHints    []string       `json:"context_hints,omitempty" jsonschema:"extra context passed to every phase"`
	ConfigOverrides map[string]any `json:"config_overrides,omitempty" jsonschema:"configuration keys merged over the configured document"`
}

// ResumeInput is the input of the resume_workflow tool.
type ResumeInput struct {
	TraceID string `json:"trace_id" jsonschema:"workflow trace id"`
	Choice  string `json:"choice" jsonschema:"fix, proceed or abort"`
}

// GetInput is the input of the get_workflow tool.
type GetInput struct {
	TraceID string `json:"trace_id" jsonschema:"workflow trace id"`
}

// ValidateInput is the input of the validate_config tool.
type ValidateInput struct {
	Path     string         `json:"path,omitempty" jsonschema:"configuration file to validate"`
	Document map[string]any `json:"document,omitempty" jsonschema:"inline configuration document"`
}

// AnalyzeInput is the input of the analyze_task tool.
type AnalyzeInput struct {
	Task string `json:"task" jsonschema:"task text to classify"`
}

// NewServer registers the engine tools on a new MCP server.
func NewServer(b *bridge.Bridge, version string, logger *zap.Logger) *gomcp.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &tools{bridge: b, logger: logger}
	server := gomcp.NewServer(&gomcp.Implementation{Name: serverName, Version: version}, nil)

	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "execute_workflow",
		Description: "Runs a task through strategy, research, verification, review, implementation and documentation",
	}, t.execute)
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "resume_workflow",
		Description: "Applies a fix, proceed or abort decision to a paused workflow",
	}, t.resume)
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "get_workflow",
		Description: "Returns the current state of a workflow",
	}, t.get)
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "validate_config",
		Description: "Validates a workflow configuration document",
	}, t.validate)
	gomcp.AddTool(server, &gomcp.Tool{
		Name:        "analyze_task",
		Description: "Classifies a task by domain, complexity and risk without running it",
	}, t.analyze)

	return server
}

// Serve runs the server over stdio until ctx is done or the client leaves.
func Serve(ctx context.Context, server *gomcp.Server) error {
	return server.Run(ctx, &gomcp.StdioTransport{})
}

type tools struct {
	bridge *bridge.Bridge
	logger *zap.Logger
}

func (t *tools) execute(ctx context.Context, _ *gomcp.CallToolRequest, in ExecuteInput) (*gomcp.CallToolResult, any, error) {
	view, err := t.bridge.ExecuteWorkflow(ctx, bridge.ExecuteRequest{
		Task:         in.Task,
		ContextHints: in.ContextHints,
		Overrides:    in.ConfigOverrides,
	})
	if view != nil {
		// A failed workflow still reports its state; the error is in view.Error.
		return t.result(view, view.Error != nil), nil, nil
	}
	return t.failure(err), nil, nil
}

func (t *tools) resume(ctx context.Context, _ *gomcp.CallToolRequest, in ResumeInput) (*gomcp.CallToolResult, any, error) {
	view, err := t.bridge.ResumeWorkflow(ctx, in.TraceID, in.Choice)
	if view != nil {
		return t.result(view, view.Error != nil), nil, nil
	}
	return t.failure(err), nil, nil
}

func (t *tools) get(ctx context.Context, _ *gomcp.CallToolRequest, in GetInput) (*gomcp.CallToolResult, any, error) {
	view, err := t.bridge.GetWorkflow(ctx, in.TraceID)
	if err != nil {
		return t.failure(err), nil, nil
	}
	return t.result(view, false), nil, nil
}

func (t *tools) validate(ctx context.Context, _ *gomcp.CallToolRequest, in ValidateInput) (*gomcp.CallToolResult, any, error) {
	res, err := t.bridge.ValidateConfig(ctx, bridge.ValidateRequest{Path: in.Path, Document: in.Document})
	if err != nil {
		return t.failure(err), nil, nil
	}
	return t.result(res, false), nil, nil
}

func (t *tools) analyze(_ context.Context, _ *gomcp.CallToolRequest, in AnalyzeInput) (*gomcp.CallToolResult, any, error) {
	a, err := t.bridge.AnalyzeTask(in.Task)
	if err != nil {
		return t.failure(err), nil, nil
	}
	return t.result(a, false), nil, nil
}

// result encodes v as the tool's single text content.
func (t *tools) result(v any, isError bool) *gomcp.CallToolResult {
	data, err := json.Marshal(v)
	if err != nil {
		t.logger.Error("encode tool result", zap.Error(err))
		return &gomcp.CallToolResult{
			IsError: true,
			Content: []gomcp.Content{&gomcp.TextContent{Text: err.Error()}},
		}
	}
	return &gomcp.CallToolResult{
		IsError: isError,
		Content: []gomcp.Content{&gomcp.TextContent{Text: string(data)}},
	}
}

func (t *tools) failure(err error) *gomcp.CallToolResult {
	return t.result(bridge.AsFailure(err), true)
}
