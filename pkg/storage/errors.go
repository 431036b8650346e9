package storage

import "errors"

var (
	// ErrNotFound is returned when a node, edge, entity, or session does not
	// exist (or is soft-deleted and history was not requested).
	ErrNotFound = errors.New("record not found")

	// ErrMissingNode is returned when an edge references a nonexistent node.
	ErrMissingNode = errors.New("edge references missing node")

	// ErrClosed is returned for operations submitted after Close.
	ErrClosed = errors.New("store is closed")
)
