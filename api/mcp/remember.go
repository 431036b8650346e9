package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/engramlabs/engram/pkg/knowledge"
)

var (
	rememberToolName    = "memory_remember"
	rememberDescription = "Explicitly store a fact in long-term memory, bypassing automatic extraction. Use this when the user asks you to remember something, or when a piece of information is clearly worth keeping across sessions."
)

// RememberInput represents the input arguments for the memory_remember tool.
type RememberInput struct {
	Content  string   `json:"content" jsonschema:"the fact to remember, as a self-contained sentence"`
	Kind     string   `json:"kind,omitempty" jsonschema:"optional node kind: semantic (default), procedural, or opinion"`
	Mentions []string `json:"mentions,omitempty" jsonschema:"names of entities the fact refers to"`
}

// RememberOutput represents the output of the memory_remember tool.
type RememberOutput struct {
	NodeID string `json:"node_id"`
	Kind   string `json:"kind"`
}

// handleRemember stores an explicit memory via MCP.
func (s *Server) handleRemember(ctx context.Context, _ *mcp.CallToolRequest, input RememberInput) (*mcp.CallToolResult, RememberOutput, error) {
	if input.Content == "" {
		return toolError("content is required"), RememberOutput{}, nil
	}

	mentions := make([]knowledge.Mention, 0, len(input.Mentions))
	for _, name := range input.Mentions {
		mentions = append(mentions, knowledge.Mention{
			Name: name,
			Type: knowledge.EntityConcept,
		})
	}

	node, err := s.config.Engine.RememberFact(ctx, input.Content, knowledge.Kind(input.Kind), mentions)
	if err != nil {
		return toolError(fmt.Sprintf("Remember failed: %v", err)), RememberOutput{}, nil
	}

	output := RememberOutput{NodeID: node.ID, Kind: string(node.Kind)}

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return toolError(fmt.Sprintf("Failed to serialize result: %v", err)), RememberOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
