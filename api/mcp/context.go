package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
)

var (
	contextToolName    = "memory_context"
	contextDescription = "Assemble a token-budgeted memory context for a query: relevant facts, entity profiles, a timeline of related episodes, and supporting evidence. Use this before answering a question that may depend on past sessions."
)

// defaultTokenBudget applies when the caller does not size the context.
const defaultTokenBudget = 1024

// ContextInput represents the input arguments for the memory_context tool.
type ContextInput struct {
	Query       string `json:"query" jsonschema:"the query or upcoming user message to retrieve context for"`
	SessionID   string `json:"session_id,omitempty" jsonschema:"current session id, excluded from results to avoid echoing the ongoing conversation"`
	TokenBudget int    `json:"token_budget,omitempty" jsonschema:"maximum tokens for the assembled context (default: 1024)"`
}

// ContextOutput represents the output of the memory_context tool.
type ContextOutput struct {
	Found      bool   `json:"found"`
	Intent     string `json:"intent,omitempty"`
	TokensUsed int    `json:"tokens_used,omitempty"`
	Context    string `json:"context,omitempty"`
}

// handleContext assembles a pre-turn memory context via MCP.
func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	if input.Query == "" {
		return toolError("query is required"), ContextOutput{}, nil
	}

	budget := input.TokenBudget
	if budget <= 0 {
		budget = defaultTokenBudget
	}

	block, err := s.config.Engine.GetContext(ctx, input.Query, input.SessionID, budget)
	if err != nil {
		s.config.Logger.Error("context assembly failed", zap.Error(err))
		return toolError(fmt.Sprintf("Context assembly failed: %v", err)), ContextOutput{}, nil
	}

	if block == nil {
		output := ContextOutput{Found: false}
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: "No relevant memories found."},
			},
		}, output, nil
	}

	output := ContextOutput{
		Found:      true,
		Intent:     string(block.Intent),
		TokensUsed: block.TokensUsed,
		Context:    block.Render(),
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: output.Context},
		},
	}, output, nil
}
