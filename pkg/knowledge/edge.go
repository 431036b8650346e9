package knowledge

import (
	"fmt"
	"time"
)

// Relation is the type of a directed edge between two nodes.
type Relation string

const (
	// RelationTemporal chains consecutive episodic nodes within one session.
	RelationTemporal Relation = "temporal"

	// RelationCausal links cause to effect; produced only by offline inference.
	RelationCausal Relation = "causal"

	// RelationEntity links knowledge that shares a real-world referent.
	RelationEntity Relation = "entity"

	// RelationDerivedFrom points from an extracted node back to its source
	// episode(s).
	RelationDerivedFrom Relation = "derived_from"

	// RelationSupersedes points from a corrected fact to the fact it replaces.
	RelationSupersedes Relation = "supersedes"
)

// Valid reports whether r is a known relation type.
func (r Relation) Valid() bool {
	switch r {
	case RelationTemporal, RelationCausal, RelationEntity, RelationDerivedFrom, RelationSupersedes:
		return true
	}
	return false
}

// Edge is a typed, directed relationship between two nodes.
type Edge struct {
	ID       string   `json:"id"`
	SourceID string   `json:"source_id"`
	TargetID string   `json:"target_id"`
	Relation Relation `json:"relation"`

	// Predicate is optional free text qualifying the relation.
	Predicate string `json:"predicate,omitempty"`

	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`

	ValidFrom  time.Time  `json:"valid_from"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`

	// Evidence is an ordered list of node ids supporting this edge.
	Evidence []string `json:"evidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the edge is currently valid.
func (e *Edge) Active() bool {
	return e.ValidUntil == nil
}

// Validate checks the edge for storage-boundary integrity. Referential
// integrity against the node table is the storage layer's job.
func (e *Edge) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: edge id is empty", ErrInvalid)
	}
	if e.SourceID == "" || e.TargetID == "" {
		return fmt.Errorf("%w: edge endpoints are required", ErrInvalid)
	}
	if e.SourceID == e.TargetID {
		return fmt.Errorf("%w: self-edge on node %s", ErrInvalid, e.SourceID)
	}
	if !e.Relation.Valid() {
		return fmt.Errorf("%w: unknown relation %q", ErrInvalid, e.Relation)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence %f out of [0,1]", ErrInvalid, e.Confidence)
	}
	return nil
}
