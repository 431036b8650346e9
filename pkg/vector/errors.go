package vector

import "errors"

var (
	// ErrNotFound is returned when a document is not found in the vector index.
	ErrNotFound = errors.New("document not found")

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrDimensions is returned when an embedding's dimensionality does not
	// match the configured index.
	ErrDimensions = errors.New("embedding dimension mismatch")
)
