package mcp

import (
	"context"
	"io"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/engine"
	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/retrieval"
)

const (
	// ServerName is the MCP server name
	ServerName = "repoindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Backend is the part of engine.Engine the tools call
type Backend interface {
	Search(ctx context.Context, q retrieval.Query) (*retrieval.Result, error)
	Update(ctx context.Context, opts indexer.UpdateOptions) (*indexer.Report, error)
	Delete(ctx context.Context, repoID, ref string, all bool) (int, error)
	Status(ctx context.Context, repoID string) ([]engine.RepositoryStatus, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp     *server.MCPServer
	backend Backend
	logger  *zap.Logger
}

// NewServer creates a server exposing backend as MCP tools
func NewServer(backend Backend, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(true),
			server.WithRecovery(),
		),
		backend: backend,
		logger:  logger,
	}
	s.registerTools()
	return s
}

// Serve speaks MCP over stdin/stdout until ctx is cancelled or the input closes
func (s *Server) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, stdin, stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(updateIndexTool(), s.handleUpdateIndex)
	s.mcp.AddTool(deleteIndexTool(), s.handleDeleteIndex)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
}
