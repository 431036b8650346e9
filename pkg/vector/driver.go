// Package vector provides the interface and implementations for the node
// vector index. The index is derived state: it can always be rebuilt from the
// node table, so it is rebuilt rather than backed up.
package vector

import "context"

// Document is a stored item with its embedding.
type Document struct {
	// ID is the node or entity identifier the embedding belongs to.
	ID string

	// Embedding is the vector representation of the item's content.
	Embedding []float32
}

// QueryResult is a nearest-neighbor search hit.
type QueryResult struct {
	Document

	// Score is the similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings, updating on ID collision.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Delete removes documents by their IDs. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
