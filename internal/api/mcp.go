package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/dashbot/internal/command"
	"github.com/kalambet/dashbot/internal/pipeline"
	"github.com/kalambet/dashbot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Pipeline
	Entries  EntryStore
	// UserID is used when a tool call does not name one.
	UserID string
}

// NewMCPServer creates an MCP server exposing the dashboard operations as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"dashbot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("dashbot: log finances, dates, todos, habits, sleep and net worth from plain-language messages."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("log_message",
			mcp.WithDescription("Interpret a plain-language message and add or remove the matching dashboard entry."),
			mcp.WithString("text", mcp.Description("The message, e.g. 'Spent $47 on dinner'"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Owner of the entry")),
		),
		mcpLogMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("list_entries",
			mcp.WithDescription("List a user's most recent dashboard entries."),
			mcp.WithString("user_id", mcp.Description("Owner of the entries")),
			mcp.WithString("category", mcp.Description("Optional category filter"), mcp.Enum(categoryNames()...)),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 20)")),
		),
		mcpListEntries(deps),
	)

	s.AddTool(
		mcp.NewTool("entry_stats",
			mcp.WithDescription("Count a user's entries per category, overall and this month."),
			mcp.WithString("user_id", mcp.Description("Owner of the entries")),
		),
		mcpEntryStats(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_entry",
			mcp.WithDescription("Delete one dashboard entry by id."),
			mcp.WithString("id", mcp.Description("Entry id"), mcp.Required()),
			mcp.WithString("user_id", mcp.Description("Owner of the entry")),
		),
		mcpDeleteEntry(deps),
	)

	return s
}

func mcpUserID(deps MCPDeps, req mcp.CallToolRequest) (string, bool) {
	id := req.GetString("user_id", deps.UserID)
	return id, id != ""
}

func mcpLogMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcpError("text is required"), nil
		}
		userID, ok := mcpUserID(deps, req)
		if !ok {
			return mcpError("user_id is required"), nil
		}

		out := deps.Pipeline.Handle(ctx, userID, text)
		reply := pipeline.Render(out)
		switch out.Kind {
		case pipeline.Rephrase, pipeline.PersistenceFailed:
			return mcpError(reply), nil
		}
		return mcpText(reply), nil
	}
}

func mcpListEntries(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := mcpUserID(deps, req)
		if !ok {
			return mcpError("user_id is required"), nil
		}
		category := req.GetString("category", "")
		if category != "" {
			if _, ok := command.Lookup(command.Category(category)); !ok {
				return mcpError(fmt.Sprintf("unknown category %q", category)), nil
			}
		}
		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}

		entries, err := deps.Entries.QueryEntries(ctx, storage.EntryQuery{
			UserID:   userID,
			Category: category,
			Limit:    min(limit, maxListLimit),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list entries: %v", err)), nil
		}
		if entries == nil {
			entries = []storage.Entry{}
		}

		b, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal entries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpEntryStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID, ok := mcpUserID(deps, req)
		if !ok {
			return mcpError("user_id is required"), nil
		}
		st, err := deps.Pipeline.Stats(ctx, userID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}
		return mcpText(pipeline.RenderStats(st)), nil
	}
}

func mcpDeleteEntry(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		userID, ok := mcpUserID(deps, req)
		if !ok {
			return mcpError("user_id is required"), nil
		}

		err = deps.Entries.DeleteEntry(ctx, id, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return mcpError(fmt.Sprintf("entry %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to delete entry: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Deleted entry %s", id)), nil
	}
}

func categoryNames() []string {
	names := make([]string, len(command.Categories))
	for i, c := range command.Categories {
		names[i] = string(c)
	}
	return names
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
