// Package embeddings defines the optional embedding collaborator. When no
// embedder is configured, vector search is disabled and intent classification
// falls back to keywords; the engine negotiates this once at startup.
package embeddings

import "context"

// Embedder provides text embedding capabilities.
type Embedder interface {
	// Embed converts text into a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Close releases any resources held by the embedder.
	Close() error
}
