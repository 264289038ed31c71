// Package mcp exposes the examination assistant as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/feedback"
	"github.com/medical-examination-assistant/internal/service"
)

// ServerName is the implementation name announced to MCP clients
const ServerName = "medical-examination-assistant"

// Services are the components the tools delegate to. Comparisons is optional.
type Services struct {
	Pipeline    *service.AgentPipeline
	Matcher     *service.MatchingEngine
	Patients    *service.PatientService
	Sessions    *service.SessionService
	Dashboard   *service.DashboardService
	Comparisons feedback.Store
}

// Server wraps the SDK server with the registered tools
type Server struct {
	mcpServer *mcp.Server
	services  Services
	logger    *logrus.Logger
}

// NewServer creates the MCP server and registers every tool
func NewServer(services Services, version string, logger *logrus.Logger) *Server {
	s := &Server{
		mcpServer: mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil),
		services:  services,
		logger:    logger,
	}
	s.registerTools()
	return s
}

// Run serves the tools over stdin/stdout until the client disconnects or ctx ends
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("Starting MCP server on stdio")
	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Connect attaches the server to an arbitrary transport, mainly for tests
func (s *Server) Connect(ctx context.Context, transport mcp.Transport) (*mcp.ServerSession, error) {
	return s.mcpServer.Connect(ctx, transport, nil)
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "merge_transcript",
		Description: "Attach diarized speakers to transcript segments by segment midpoint. Pure, no external calls.",
	}, s.mergeTranscript)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "compare_records",
		Description: "Score an AI drafted SOAP note and ICD-10 codes against the physician's final record. Optionally stores the comparison.",
	}, s.compareRecords)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "analyze_transcript",
		Description: "Run the scribe, ICD-10 and expert agents on a consultation transcript.",
	}, s.analyzeTranscript)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "search_patients",
		Description: "Accent-insensitive patient search by name, display id or phone number.",
	}, s.searchPatients)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "get_session_record",
		Description: "Fetch an examination session, its patient and the saved medical record.",
	}, s.getSessionRecord)

	mcp.AddTool(s.mcpServer, &mcp.Tool{
		Name:        "dashboard_stats",
		Description: "Session and patient counters for today, the last 7 days, this month and overall.",
	}, s.dashboardStats)

	if s.services.Comparisons != nil {
		mcp.AddTool(s.mcpServer, &mcp.Tool{
			Name:        "list_comparisons",
			Description: "List stored AI-vs-physician comparisons, newest first, with the average match score.",
		}, s.listComparisons)
	}

	s.logger.Debug("Registered MCP tools")
}
