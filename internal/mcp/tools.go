package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/repoindex/internal/indexer"
	"github.com/dshills/repoindex/internal/retrieval"
	"github.com/dshills/repoindex/internal/searcher"
	"github.com/dshills/repoindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another update of the repository is running
	ErrorCodeNotIndexed         = -32003 // Repository or ref not indexed
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := getStringDefault(args, "query", "")
	if query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	k := getIntDefault(args, "k", searcher.DefaultLimit)
	if k < 1 || k > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "k must be between 1 and 100", map[string]interface{}{
			"param": "k",
			"value": k,
		})
	}
	showContent := getBoolDefault(args, "show_content", true)

	res, err := s.backend.Search(ctx, retrieval.Query{
		Text:   query,
		Intent: getStringDefault(args, "intent", ""),
		RepoID: getStringDefault(args, "repo_id", ""),
		Ref:    getStringDefault(args, "ref", ""),
		K:      k,
	})
	if err != nil {
		return nil, s.toolError("search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(res.Results))
	for _, r := range res.Results {
		item := map[string]interface{}{
			"rank":    r.Rank,
			"repo_id": r.RepoID,
			"ref":     r.Ref,
			"source":  r.Source,
			"score":   r.Score,
			"origin":  r.Origin,
		}
		if showContent {
			item["content"] = r.Content
		}
		results = append(results, item)
	}

	response := map[string]interface{}{
		"query":       query,
		"queries":     res.Queries,
		"iterations":  res.Iterations,
		"results":     results,
		"total":       len(results),
		"duration_ms": res.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleUpdateIndex handles the update_index tool invocation
func (s *Server) handleUpdateIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	maxWorkers := getIntDefault(args, "max_workers", 0)
	if maxWorkers < 0 {
		return nil, newMCPError(ErrorCodeInvalidParams, "max_workers must be positive", map[string]interface{}{
			"param": "max_workers",
			"value": maxWorkers,
		})
	}

	report, err := s.backend.Update(ctx, indexer.UpdateOptions{
		RepoID:     getStringDefault(args, "repo_id", ""),
		Ref:        getStringDefault(args, "ref", ""),
		Topics:     getStringSlice(args, "topics"),
		Exclude:    getStringSlice(args, "exclude_repo_ids"),
		MaxWorkers: maxWorkers,
		Reset:      getBoolDefault(args, "reset", false),
		ResetAll:   getBoolDefault(args, "reset_all", false),
		Augment:    getBoolDefault(args, "semantic_augmented_context", false),
	})
	// A failed single-repository update still returns its report entry
	if err != nil && (report == nil || errors.Is(err, indexer.ErrBusy)) {
		return nil, s.toolError("update failed", err)
	}

	repositories := make([]map[string]interface{}, 0, len(report.Results))
	for _, r := range report.Results {
		item := map[string]interface{}{
			"repo_id":      r.RepoID,
			"ref":          r.Ref,
			"namespace_id": r.NamespaceID,
			"outcome":      string(r.Outcome),
			"chunks":       r.Chunks,
			"duration_ms":  r.Duration.Milliseconds(),
		}
		if r.Err != nil {
			item["error"] = r.Err.Error()
		}
		repositories = append(repositories, item)
	}

	response := map[string]interface{}{
		"repositories": repositories,
		"failed":       report.Failed(),
		"duration_ms":  report.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDeleteIndex handles the delete_index tool invocation
func (s *Server) handleDeleteIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	repoID := getStringDefault(args, "repo_id", "")
	if repoID == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "repo_id parameter is required", map[string]interface{}{
			"param":  "repo_id",
			"reason": "missing or empty",
		})
	}
	all := getBoolDefault(args, "all", false)

	deleted, err := s.backend.Delete(ctx, repoID, getStringDefault(args, "ref", ""), all)
	if err != nil {
		return nil, s.toolError("delete failed", err)
	}

	response := map[string]interface{}{
		"repo_id":            repoID,
		"all":                all,
		"namespaces_deleted": deleted,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	status, err := s.backend.Status(ctx, getStringDefault(args, "repo_id", ""))
	if err != nil {
		return nil, s.toolError("failed to get status", err)
	}

	data, err := json.MarshalIndent(map[string]interface{}{"repositories": status}, "", "  ")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to encode status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError maps backend errors to MCP error codes
func (s *Server) toolError(message string, err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, types.ErrNotFound):
		return newMCPError(ErrorCodeNotIndexed, message, data)
	case errors.Is(err, indexer.ErrBusy):
		return newMCPError(ErrorCodeIndexingInProgress, message, data)
	case errors.Is(err, types.ErrConfiguration):
		return newMCPError(ErrorCodeInvalidParams, message, data)
	default:
		s.logger.Error(message, zap.Error(err))
		return newMCPError(ErrorCodeInternalError, message, data)
	}
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call's argument object; a call without arguments
// gets an empty one
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts a string array parameter, ignoring non-string items
func getStringSlice(args map[string]interface{}, key string) []string {
	switch val := args[key].(type) {
	case []string:
		return val
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
