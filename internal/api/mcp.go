package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/innercompass/internal/catalog"
	"github.com/kalambet/innercompass/internal/progress"
	"github.com/kalambet/innercompass/internal/session"
	"github.com/kalambet/innercompass/internal/storage"
)

// RecordLoader abstracts reading a user's record for the MCP layer.
type RecordLoader interface {
	LoadRecord(ctx context.Context, userID string) (progress.UserRecord, error)
}

// ReportBuilder abstracts holistic report generation for the MCP layer.
type ReportBuilder interface {
	Build(ctx context.Context, rec progress.UserRecord) (string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog *catalog.Catalog
	Records RecordLoader
	Reports ReportBuilder
}

type topicEntry struct {
	Key        string       `json:"key"`
	Module     string       `json:"module"`
	Title      string       `json:"title"`
	MainPrompt string       `json:"main_prompt"`
	Kind       catalog.Kind `json:"kind"`
	Questions  int          `json:"questions"`
}

// NewMCPServer creates an MCP server exposing the catalog and read-only
// views of user progress.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"innercompass",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("InnerCompass: guided self-reflection topics, user progress, and holistic reports."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_topics",
			mcp.WithDescription("List every reflection topic in catalog order."),
			mcp.WithString("module", mcp.Description("Optional module id to filter by (values, talents, passions)")),
		),
		mcpListTopics(deps),
	)

	s.AddTool(
		mcp.NewTool("get_progress",
			mcp.WithDescription("Return a user's per-topic completion summary."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpGetProgress(deps),
	)

	s.AddTool(
		mcp.NewTool("build_report",
			mcp.WithDescription("Generate the holistic self-discovery report from a user's completed topics."),
			mcp.WithString("user_id", mcp.Description("User id"), mcp.Required()),
		),
		mcpBuildReport(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"catalog://modules",
			"Topic Catalog",
			mcp.WithResourceDescription("All modules and topics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCatalog(deps),
	)

	return s
}

func mcpListTopics(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		filter := req.GetString("module", "")

		var entries []topicEntry
		for _, m := range deps.Catalog.Modules() {
			if filter != "" && string(m.ID) != filter {
				continue
			}
			for _, t := range m.Topics {
				entries = append(entries, topicEntry{
					Key:        catalog.TopicKey{Module: m.ID, Topic: t.ID}.String(),
					Module:     m.Title,
					Title:      t.Title,
					MainPrompt: t.MainPrompt,
					Kind:       t.Kind,
					Questions:  len(t.Questions),
				})
			}
		}
		if len(entries) == 0 {
			return mcpError(fmt.Sprintf("no topics for module %q", filter)), nil
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal topics: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func loadRecord(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (progress.UserRecord, *mcp.CallToolResult) {
	userID, err := req.RequireString("user_id")
	if err != nil || userID == "" {
		return progress.UserRecord{}, mcpError("user_id is required")
	}
	rec, err := deps.Records.LoadRecord(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return progress.UserRecord{}, mcpError(fmt.Sprintf("user %s not found", userID))
	}
	if err != nil {
		return progress.UserRecord{}, mcpError(fmt.Sprintf("failed to load user: %v", err))
	}
	return rec, nil
}

func mcpGetProgress(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, failed := loadRecord(ctx, deps, req)
		if failed != nil {
			return failed, nil
		}
		b, err := json.Marshal(session.BuildDashboard(deps.Catalog, rec))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal progress: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBuildReport(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rec, failed := loadRecord(ctx, deps, req)
		if failed != nil {
			return failed, nil
		}
		text, err := deps.Reports.Build(ctx, rec)
		if err != nil {
			return mcpError(fmt.Sprintf("report generation failed: %v", err)), nil
		}
		return mcpText(text), nil
	}
}

func mcpResourceCatalog(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Catalog.Modules())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
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
