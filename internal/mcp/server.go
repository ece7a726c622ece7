// Package mcp exposes guideline validation and evaluation as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/concord-cpg-engine/internal/domain"
	"github.com/concord-cpg-engine/internal/engine"
)

// Server wraps an MCP server whose tools evaluate through an engine.
type Server struct {
	engine    *engine.Engine
	mcpServer *mcp.Server
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers its tools.
func NewServer(e *engine.Engine, logger *logrus.Logger, version string) *Server {
	s := &Server{
		engine: e,
		logger: logger,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    "concord",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves over stdin/stdout until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "list_guidelines",
		Description: "List the guideline documents available by name.",
	}, s.listGuidelines)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "validate_guideline",
		Description: "Check a guideline document and report every structural problem found.",
	}, s.validateGuideline)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name: "evaluate_guideline",
		Description: "Evaluate a guideline against a subject's health data. Returns the report, " +
			"or the ids of variables that need attestation before the evaluation can finish.",
	}, s.evaluateGuideline)

	s.logger.WithField("tool_count", 3).Debug("Registered MCP tools")
}

// textResult encodes v as indented JSON text content.
func textResult(v interface{}, isError bool) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		IsError: isError,
	}, nil
}

// personaOf accepts an empty persona as "use the subject document's".
func personaOf(s string) (domain.Persona, error) {
	if s == "" {
		return "", nil
	}
	return domain.ParsePersona(s)
}
