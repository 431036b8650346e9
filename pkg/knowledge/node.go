// Package knowledge defines the core graph types of the engram store: nodes,
// edges, entities, and the session ledger. The storage layer owns all
// persistence of these types; other packages hold identifiers and go through
// the storage API to read or write.
package knowledge

import (
	"fmt"
	"time"
)

// Kind classifies what a node represents.
type Kind string

const (
	// KindEpisodic is a raw dialogue turn. Episodic nodes are immutable once
	// written and never decay.
	KindEpisodic Kind = "episodic"

	// KindSemantic is a durable fact extracted from dialogue.
	KindSemantic Kind = "semantic"

	// KindProcedural is a how-to or workflow extracted from dialogue.
	KindProcedural Kind = "procedural"

	// KindOpinion is a stated preference or judgement.
	KindOpinion Kind = "opinion"
)

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	switch k {
	case KindEpisodic, KindSemantic, KindProcedural, KindOpinion:
		return true
	}
	return false
}

// Decays reports whether nodes of this kind participate in confidence decay.
// Only extracted knowledge decays; raw dialogue is permanent record.
func (k Kind) Decays() bool {
	return k != KindEpisodic
}

// Provenance records where a node came from.
type Provenance struct {
	// SourceKind is the origin class, e.g. "dialogue", "extraction", "tool".
	SourceKind string `json:"source_kind,omitempty"`

	// SourceRole is the speaker role for dialogue nodes ("user", "assistant").
	SourceRole string `json:"source_role,omitempty"`

	// SessionID is the conversation session that produced the node.
	SessionID string `json:"session_id,omitempty"`
}

// Node is the universal unit of stored knowledge.
type Node struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Content string `json:"content"`

	// Embedding is the optional vector representation of Content. It lives in
	// the vector index, not the node table; it is carried here only when a
	// caller asks for it.
	Embedding []float32 `json:"embedding,omitempty"`

	// EventTime is when the fact or occurrence happened. CreatedAt is when it
	// was recorded. They differ for retroactively extracted knowledge.
	EventTime time.Time `json:"event_time"`
	CreatedAt time.Time `json:"created_at"`

	// ValidFrom/ValidUntil bound the node's validity window. A non-nil
	// ValidUntil means the node is soft-deleted and must not appear in any
	// read-path result unless history is explicitly requested.
	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	Confidence float64 `json:"confidence"`

	// AccessCount and LastAccessed drive retrieval reinforcement.
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`

	// DecayRate scales Ebbinghaus decay. Zero means protected: the node's
	// confidence is never touched by a decay pass.
	DecayRate float64 `json:"decay_rate"`

	Provenance Provenance `json:"provenance"`
}

// Active reports whether the node is currently valid (not soft-deleted).
func (n *Node) Active() bool {
	return n.ValidUntil == nil
}

// Protected reports whether the node is exempt from decay.
func (n *Node) Protected() bool {
	return n.DecayRate == 0
}

// Validate checks the node for storage-boundary integrity.
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: node id is empty", ErrInvalid)
	}
	if !n.Kind.Valid() {
		return fmt.Errorf("%w: unknown node kind %q", ErrInvalid, n.Kind)
	}
	if n.Content == "" {
		return fmt.Errorf("%w: node content is empty", ErrInvalid)
	}
	if n.Confidence < 0 || n.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of [0,1]", ErrInvalid, n.Confidence)
	}
	if n.DecayRate < 0 {
		return fmt.Errorf("%w: negative decay rate %f", ErrInvalid, n.DecayRate)
	}
	return nil
}
