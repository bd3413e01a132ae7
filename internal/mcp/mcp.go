// Package mcp implements the Model Context Protocol server for Brain.
//
// The MCP server exposes the same capabilities as the HTTP API through MCP
// tools: deliberation mode, a single sessioned run, and audit lookup. It
// calls the same services as the HTTP handlers, so the admission guard and
// audit rules apply unchanged.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/brain/internal/model"
	"github.com/ashita-ai/brain/internal/runner"
	"github.com/ashita-ai/brain/internal/service/ghost"
)

// AuditReader is the read side of the audit store.
type AuditReader interface {
	GetAudit(ctx context.Context, id uuid.UUID) (model.AuditRecord, error)
}

// Server wraps the MCP server with Brain's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	ghost     *ghost.Service
	sessions  *runner.Registry
	audit     AuditReader
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools.
func New(ghostSvc *ghost.Service, sessions *runner.Registry, audit AuditReader, logger *slog.Logger, version string) *Server {
	s := &Server{
		ghost:    ghostSvc,
		sessions: sessions,
		audit:    audit,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"brain",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)

	s.registerTools()
	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any, isError bool) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
		IsError: isError,
	}
}
