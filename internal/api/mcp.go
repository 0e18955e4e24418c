package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/foresight/internal/pipeline"
	"github.com/kalambet/foresight/internal/storage"
	"github.com/kalambet/foresight/internal/synth"
)

const recentURI = "foresight://recent"

// NewMCPServer creates an MCP server exposing the engine as tools.
func NewMCPServer(engine *pipeline.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"foresight",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("foresight: learns recurring problem patterns, caches solutions and predicts decision cascades."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_interaction",
			mcp.WithDescription("Run an interaction through the engine and return the synthesized response."),
			mcp.WithString("context", mcp.Description("Problem description"), mcp.Required()),
			mcp.WithString("decision", mcp.Description("Decision under consideration")),
			mcp.WithString("complexity", mcp.Description("Claimed complexity")),
			mcp.WithBoolean("predict_future", mcp.Description("Predict decision cascades (default true)")),
			mcp.WithNumber("cascade_depth", mcp.Description("Cascade levels to predict")),
		),
		mcpProcess(engine),
	)

	s.AddTool(
		mcp.NewTool("search_patterns",
			mcp.WithDescription("Find stored patterns similar to a piece of text."),
			mcp.WithString("query", mcp.Description("Text to match"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Minimum similarity in [0,1] (default 0.7)")),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
		),
		mcpSearchPatterns(engine),
	)

	s.AddTool(
		mcp.NewTool("predict_cascades",
			mcp.WithDescription("Predict the downstream effects of a decision from earlier decisions."),
			mcp.WithString("decision", mcp.Description("Decision text"), mcp.Required()),
			mcp.WithNumber("depth", mcp.Description("Levels to predict")),
		),
		mcpPredictCascades(engine),
	)

	s.AddTool(
		mcp.NewTool("top_patterns",
			mcp.WithDescription("List the most accurate stored patterns."),
			mcp.WithNumber("limit", mcp.Description("Maximum results (default 10)")),
			mcp.WithNumber("min_accuracy", mcp.Description("Minimum prediction accuracy (default 0.5)")),
		),
		mcpTopPatterns(engine),
	)

	s.AddResource(
		mcp.NewResource(
			recentURI,
			"Recent Context",
			mcp.WithResourceDescription("Recent-context window, oldest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(engine),
	)

	return s
}

func mcpProcess(engine *pipeline.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("context")
		if err != nil {
			return mcpError("context is required"), nil
		}
		opts := engine.DefaultOptions()
		opts.PredictFuture = req.GetBool("predict_future", opts.PredictFuture)
		opts.CascadeDepth = req.GetInt("cascade_depth", opts.CascadeDepth)

		resp, err := engine.Process(ctx, synth.Input{
			Context:    text,
			Decision:   req.GetString("decision", ""),
			Complexity: req.GetString("complexity", ""),
		}, opts)
		if err != nil {
			return mcpEngineError(err), nil
		}
		return mcpJSON(resp)
	}
}

func mcpSearchPatterns(engine *pipeline.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > 50 {
			limit = 10
		}
		matches, err := engine.SearchPatterns(ctx, map[string]any{"query": query}, req.GetFloat("threshold", 0.7), limit)
		if err != nil {
			return mcpEngineError(err), nil
		}
		return mcpJSON(matches)
	}
}

func mcpPredictCascades(engine *pipeline.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		decision, err := req.RequireString("decision")
		if err != nil {
			return mcpError("decision is required"), nil
		}
		depth := req.GetInt("depth", engine.Config().DefaultCascadeDepth)
		effects, err := engine.PredictCascades(ctx, decision, depth)
		if err != nil {
			return mcpEngineError(err), nil
		}
		return mcpJSON(effects)
	}
}

func mcpTopPatterns(engine *pipeline.Engine) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 || limit > 50 {
			limit = 10
		}
		patterns, err := engine.TopPatterns(ctx, limit, req.GetFloat("min_accuracy", 0.5))
		if err != nil {
			return mcpEngineError(err), nil
		}
		return mcpJSON(patterns)
	}
}

func mcpResourceRecent(engine *pipeline.Engine) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(engine.Recent())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal recent context: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpEngineError(err error) *mcp.CallToolResult {
	var pe *pipeline.PipelineError
	switch {
	case errors.As(err, &pe):
		return mcpError(fmt.Sprintf("pipeline failed at %s: %v", pe.Stage, pe.Err))
	case errors.Is(err, storage.ErrNotFound):
		return mcpError("not found")
	default:
		return mcpError(err.Error())
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
