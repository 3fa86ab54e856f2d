package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Search indexed repositories with a natural language or identifier query. Results are graded for relevance and the query is rewritten when nothing relevant is found.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language, identifiers such as getUserById, or both)",
				},
				"intent": map[string]interface{}{
					"type":        "string",
					"description": "What the caller is trying to achieve; used when grading results",
				},
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository slug to search; omit to search every repository",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Tracking ref; defaults to the repository's default branch",
				},
				"k": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"show_content": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, include the chunk text of every result",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// updateIndexTool returns the tool definition for update_index
func updateIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "update_index",
		Description: "Index repositories that have no indexed generation for the ref yet, or rebuild them with reset",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Update only this repository",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Tracking ref; defaults to each repository's default branch",
				},
				"topics": map[string]interface{}{
					"type":        "array",
					"description": "Update repositories carrying any of these topics",
					"items":       map[string]interface{}{"type": "string"},
				},
				"exclude_repo_ids": map[string]interface{}{
					"type":        "array",
					"description": "Repository slugs to skip",
					"items":       map[string]interface{}{"type": "string"},
				},
				"max_workers": map[string]interface{}{
					"type":        "integer",
					"description": "Repositories updated in parallel",
					"minimum":     1,
				},
				"reset": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop the ref's existing generations first",
					"default":     false,
				},
				"reset_all": map[string]interface{}{
					"type":        "boolean",
					"description": "Drop every generation of the repository first",
					"default":     false,
				},
				"semantic_augmented_context": map[string]interface{}{
					"type":        "boolean",
					"description": "Add a generated description per chunk before embedding",
					"default":     false,
				},
			},
		},
	}
}

// deleteIndexTool returns the tool definition for delete_index
func deleteIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "delete_index",
		Description: "Delete the indexed generations of a repository from both indices",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository slug",
				},
				"ref": map[string]interface{}{
					"type":        "string",
					"description": "Tracking ref; defaults to the repository's default branch",
				},
				"all": map[string]interface{}{
					"type":        "boolean",
					"description": "Delete every ref of the repository",
					"default":     false,
				},
			},
			Required: []string{"repo_id"},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "List indexed repositories with their generations, statuses and chunk counts",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"repo_id": map[string]interface{}{
					"type":        "string",
					"description": "Repository slug; omit to list every repository",
				},
			},
		},
	}
}
