// Package storage defines the persistence contract for the engram knowledge
// graph. A Store owns nodes, edges, entities, node-entity links, and the
// session ledger; it is the only component permitted to mutate them.
//
// All mutating operations are serialized through a single logical writer so
// index maintenance stays consistent with the row it describes. Reads run
// concurrently and never block on the writer queue.
package storage

import (
	"context"
	"time"

	"github.com/engramlabs/engram/pkg/knowledge"
)

// Direction selects which way Traverse follows edges.
type Direction string

const (
	DirectionOut  Direction = "out"
	DirectionIn   Direction = "in"
	DirectionBoth Direction = "both"
)

// Filters narrows full-text search results.
type Filters struct {
	// Kinds restricts results to the given node kinds. Empty means all kinds.
	Kinds []knowledge.Kind

	// ExcludeSession drops nodes owned by this session, used to keep an
	// agent's just-written turns out of its own cross-session context.
	ExcludeSession string

	// IncludeDeleted includes soft-deleted nodes. Only provenance explanation
	// asks for history; every other read path leaves this false.
	IncludeDeleted bool
}

// Stats is an aggregate snapshot of the store.
type Stats struct {
	NodesByKind     map[knowledge.Kind]int `json:"nodes_by_kind"`
	ActiveNodes     int                    `json:"active_nodes"`
	DeletedNodes    int                    `json:"deleted_nodes"`
	Edges           int                    `json:"edges"`
	Entities        int                    `json:"entities"`
	PendingSessions int                    `json:"pending_sessions"`
}

// Store is the persistence contract for the knowledge graph.
type Store interface {
	// CreateNode persists a node. Fails with knowledge.ErrInvalid on a
	// malformed node; the node is absent after a failure.
	CreateNode(ctx context.Context, node *knowledge.Node) error

	// CreateEdge persists an edge. Fails with ErrMissingNode if either
	// endpoint does not exist.
	CreateEdge(ctx context.Context, edge *knowledge.Edge) error

	// ResolveOrCreateEntity maps a mention to a canonical entity. An exact
	// canonical-name or alias hit increments the mention count and merges the
	// mention as a new alias when it differs; a miss creates a new entity.
	// Race-safe under the single-writer discipline.
	ResolveOrCreateEntity(ctx context.Context, mention knowledge.Mention) (*knowledge.Entity, error)

	// LinkNodeEntity records a many-to-many association between a node and an
	// entity. Linking the same pair twice is a no-op.
	LinkNodeEntity(ctx context.Context, nodeID, entityID string) error

	// SoftDelete sets valid_until on a node, removing it from every read path
	// that does not explicitly request history.
	SoftDelete(ctx context.Context, nodeID string) error

	// RecordAccess increments access counts and stamps last_accessed for the
	// given nodes. The retrieval engine calls this on every returned node.
	RecordAccess(ctx context.Context, nodeIDs []string, at time.Time) error

	// BatchUpdateConfidence persists new confidence values keyed by node id.
	BatchUpdateConfidence(ctx context.Context, confidences map[string]float64) error

	// Protect sets decay_rate to zero and confidence to 1.0 on an active
	// node, exempting it from all future decay passes by construction.
	Protect(ctx context.Context, nodeID string) error

	// UpdateEntitySummary stores a generated profile summary for an entity.
	UpdateEntitySummary(ctx context.Context, entityID, summary string) error

	GetNode(ctx context.Context, id string) (*knowledge.Node, error)

	// SearchFulltext runs a full-text query over active node content, ranked
	// by relevance.
	SearchFulltext(ctx context.Context, query string, f Filters, limit int) ([]*knowledge.Node, error)

	// SearchEntity looks up an entity by canonical name or alias.
	SearchEntity(ctx context.Context, nameOrAlias string) (*knowledge.Entity, error)

	GetEntity(ctx context.Context, id string) (*knowledge.Entity, error)

	// EntityNodes returns active nodes linked to an entity, newest first.
	EntityNodes(ctx context.Context, entityID string, limit int) ([]*knowledge.Node, error)

	// NodeEntities returns entities linked to a node.
	NodeEntities(ctx context.Context, nodeID string) ([]*knowledge.Entity, error)

	// ListEntitiesByMentions returns entities ordered by mention count
	// descending, used by the enrichment sub-pass.
	ListEntitiesByMentions(ctx context.Context, minMentions, limit int) ([]*knowledge.Entity, error)

	// Traverse walks edges of one relation type from the seed nodes in
	// breadth-first order up to maxDepth, returning visited active nodes,
	// seeds first.
	Traverse(ctx context.Context, seedIDs []string, relation knowledge.Relation, dir Direction, maxDepth int) ([]*knowledge.Node, error)

	// Edges returns active edges touching a node, optionally filtered by
	// relation. Direction is relative to the node.
	Edges(ctx context.Context, nodeID string, relation knowledge.Relation, dir Direction) ([]*knowledge.Edge, error)

	// EpisodesForSession returns the session's episodic nodes in event-time
	// order. Paginated for long sessions.
	EpisodesForSession(ctx context.Context, sessionID string, offset, limit int) ([]*knowledge.Node, error)

	// LatestEpisode returns the most recent episodic node in a session, or
	// ErrNotFound if the session has none.
	LatestEpisode(ctx context.Context, sessionID string) (*knowledge.Node, error)

	// ListDecayable pages through active nodes with decay_rate > 0 of
	// non-episodic kinds.
	ListDecayable(ctx context.Context, offset, limit int) ([]*knowledge.Node, error)

	// ListLowConfidence returns active decayable nodes below the threshold.
	ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]*knowledge.Node, error)

	// SearchCandidateConflicts finds active stored facts that might contradict
	// new content, by shared entity links and textual overlap.
	SearchCandidateConflicts(ctx context.Context, content string, kind knowledge.Kind, limit int) ([]*knowledge.Node, error)

	Stats(ctx context.Context) (*Stats, error)

	// ObserveSession records a session in the ledger if it is new. Returns
	// true when the session was first seen by this call.
	ObserveSession(ctx context.Context, sessionID string, at time.Time) (bool, error)

	GetSession(ctx context.Context, sessionID string) (*knowledge.Session, error)

	// PendingSessions lists ledger rows with no consolidated_at, oldest first.
	PendingSessions(ctx context.Context, limit int) ([]*knowledge.Session, error)

	// MarkConsolidated transitions a session to consolidated. Returns false
	// without touching the ledger when the session was already consolidated;
	// this is the idempotency check that makes re-entry a no-op.
	MarkConsolidated(ctx context.Context, sessionID string, at time.Time) (bool, error)

	Close() error
}
