package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/utils"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search long-term memory for stored knowledge. Returns facts, procedures, and opinions matching the query text, ranked by relevance. Use this to look up specific remembered information."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query string `json:"query" jsonschema:"the search query text to find relevant knowledge"`
	Kind  string `json:"kind,omitempty" jsonschema:"optional node kind filter: semantic, procedural, or opinion"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"number of results to return (default: 5)"`
}

// SearchResult represents a single remembered item.
type SearchResult struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Content    string  `json:"content"`
	Confidence float64 `json:"confidence"`
	Preview    string  `json:"preview"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch processes a memory search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	topK := input.TopK
	if topK <= 0 {
		topK = 5
	}

	var kinds []knowledge.Kind
	if input.Kind != "" {
		kinds = append(kinds, knowledge.Kind(input.Kind))
	}

	logger.Debug("MCP memory search",
		zap.String("query", input.Query),
		zap.Int("topK", topK),
	)

	nodes, err := s.config.Engine.Search(ctx, input.Query, kinds, topK)
	if err != nil {
		logger.Error("memory search failed", zap.Error(err))
		return toolError(fmt.Sprintf("Search failed: %v", err)), SearchOutput{}, nil
	}

	results := make([]SearchResult, 0, len(nodes))
	for _, n := range nodes {
		results = append(results, SearchResult{
			ID:         n.ID,
			Kind:       string(n.Kind),
			Content:    n.Content,
			Confidence: n.Confidence,
			Preview:    utils.Truncate(n.Content, 120),
		})
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: results,
		Count:   len(results),
	}

	// Per MCP spec: tools returning structured content should also return
	// serialized JSON in a TextContent block for backwards compatibility
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		logger.Error("failed to marshal search output", zap.Error(err))
		return toolError(fmt.Sprintf("Failed to serialize results: %v", err)), SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
