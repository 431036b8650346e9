package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

// DefaultListLimit bounds tool-style list operations when the caller passes
// no limit.
const DefaultListLimit = 20

// Search runs a full-text query over active knowledge.
func (e *Engine) Search(ctx context.Context, query string, kinds []knowledge.Kind, limit int) ([]*knowledge.Node, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return e.store.SearchFulltext(ctx, query, storage.Filters{Kinds: kinds}, limit)
}

// RememberFact explicitly stores a fact, bypassing extraction. Explicit
// memories start at full confidence with the normal decay rate for their
// kind; mentions are resolved and linked like extracted facts.
func (e *Engine) RememberFact(ctx context.Context, content string, kind knowledge.Kind, mentions []knowledge.Mention) (*knowledge.Node, error) {
	if kind == "" {
		kind = knowledge.KindSemantic
	}
	if kind == knowledge.KindEpisodic {
		return nil, fmt.Errorf("%w: episodic nodes are written by ingestion, not remembered", knowledge.ErrInvalid)
	}

	now := time.Now().UTC()
	node := &knowledge.Node{
		ID:         uuid.NewString(),
		Kind:       kind,
		Content:    content,
		EventTime:  now,
		CreatedAt:  now,
		ValidFrom:  now,
		Confidence: 1,
		DecayRate:  consolidate.DecayRateForKind(kind),
		Provenance: knowledge.Provenance{SourceKind: "tool"},
	}
	if err := e.store.CreateNode(ctx, node); err != nil {
		return nil, err
	}

	for _, mention := range mentions {
		entity, err := e.store.ResolveOrCreateEntity(ctx, mention)
		if err != nil {
			return nil, fmt.Errorf("resolving entity %q: %w", mention.Name, err)
		}
		if err := e.store.LinkNodeEntity(ctx, node.ID, entity.ID); err != nil {
			return nil, fmt.Errorf("linking entity %q: %w", mention.Name, err)
		}
	}

	e.enqueueEmbedding(node)

	return node, nil
}

// CorrectFact replaces a stored fact: the replacement is written, the old
// fact is soft-deleted, and a supersedes edge records the succession. Entity
// links carry over so the correction stays reachable by the same referents.
func (e *Engine) CorrectFact(ctx context.Context, oldID, content string) (*knowledge.Node, error) {
	old, err := e.store.GetNode(ctx, oldID)
	if err != nil {
		return nil, err
	}
	if !old.Active() {
		return nil, fmt.Errorf("%w: node %s is already retired", knowledge.ErrInvalid, oldID)
	}
	if old.Kind == knowledge.KindEpisodic {
		return nil, fmt.Errorf("%w: episodic nodes are immutable", knowledge.ErrInvalid)
	}

	now := time.Now().UTC()
	replacement := &knowledge.Node{
		ID:         uuid.NewString(),
		Kind:       old.Kind,
		Content:    content,
		EventTime:  now,
		CreatedAt:  now,
		ValidFrom:  now,
		Confidence: 1,
		DecayRate:  consolidate.DecayRateForKind(old.Kind),
		Provenance: knowledge.Provenance{SourceKind: "correction"},
	}
	if err := e.store.CreateNode(ctx, replacement); err != nil {
		return nil, err
	}

	entities, err := e.store.NodeEntities(ctx, oldID)
	if err != nil {
		return nil, fmt.Errorf("carrying over entity links: %w", err)
	}
	for _, entity := range entities {
		if err := e.store.LinkNodeEntity(ctx, replacement.ID, entity.ID); err != nil {
			return nil, fmt.Errorf("carrying over entity link: %w", err)
		}
	}

	if err := consolidate.Supersede(ctx, e.store, replacement.ID, oldID, "manual correction"); err != nil {
		return nil, err
	}

	e.enqueueEmbedding(replacement)

	return replacement, nil
}

// ConfirmFact protects a fact from decay: decay_rate goes to zero and
// confidence to 1.0. Episodic nodes cannot be confirmed; they never decay.
func (e *Engine) ConfirmFact(ctx context.Context, nodeID string) error {
	node, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}
	if node.Kind == knowledge.KindEpisodic {
		return fmt.Errorf("%w: episodic nodes do not decay", knowledge.ErrInvalid)
	}

	return e.store.Protect(ctx, nodeID)
}

// Profile is an entity with its linked knowledge.
type Profile struct {
	Entity *knowledge.Entity `json:"entity"`
	Nodes  []*knowledge.Node `json:"nodes,omitempty"`
}

// EntityProfile fetches an entity by id, canonical name, or alias, with its
// most recent linked knowledge.
func (e *Engine) EntityProfile(ctx context.Context, nameOrID string) (*Profile, error) {
	entity, err := e.store.GetEntity(ctx, nameOrID)
	if errors.Is(err, storage.ErrNotFound) {
		entity, err = e.store.SearchEntity(ctx, nameOrID)
	}
	if err != nil {
		return nil, err
	}

	nodes, err := e.store.EntityNodes(ctx, entity.ID, DefaultListLimit)
	if err != nil {
		return nil, err
	}

	return &Profile{Entity: entity, Nodes: nodes}, nil
}

// Stats returns an aggregate snapshot of the store.
func (e *Engine) Stats(ctx context.Context) (*storage.Stats, error) {
	return e.store.Stats(ctx)
}

// Explanation traces where a fact came from and where it went: its source
// episodes, the facts it superseded, and the fact that superseded it, if any.
type Explanation struct {
	Node         *knowledge.Node   `json:"node"`
	Sources      []*knowledge.Node `json:"sources,omitempty"`
	Supersedes   []*knowledge.Node `json:"supersedes,omitempty"`
	SupersededBy []*knowledge.Node `json:"superseded_by,omitempty"`
}

// Explain walks a fact's provenance. Soft-deleted nodes appear here; history
// is the whole point of the operation.
func (e *Engine) Explain(ctx context.Context, nodeID string) (*Explanation, error) {
	node, err := e.store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	explanation := &Explanation{Node: node}

	derived, err := e.store.Edges(ctx, nodeID, knowledge.RelationDerivedFrom, storage.DirectionOut)
	if err != nil {
		return nil, err
	}
	explanation.Sources, err = e.resolveTargets(ctx, derived, nodeID)
	if err != nil {
		return nil, err
	}

	superseded, err := e.store.Edges(ctx, nodeID, knowledge.RelationSupersedes, storage.DirectionOut)
	if err != nil {
		return nil, err
	}
	explanation.Supersedes, err = e.resolveTargets(ctx, superseded, nodeID)
	if err != nil {
		return nil, err
	}

	supersededBy, err := e.store.Edges(ctx, nodeID, knowledge.RelationSupersedes, storage.DirectionIn)
	if err != nil {
		return nil, err
	}
	explanation.SupersededBy, err = e.resolveTargets(ctx, supersededBy, nodeID)
	if err != nil {
		return nil, err
	}

	return explanation, nil
}

// resolveTargets fetches the far endpoint of each edge relative to nodeID.
func (e *Engine) resolveTargets(ctx context.Context, edges []*knowledge.Edge, nodeID string) ([]*knowledge.Node, error) {
	var nodes []*knowledge.Node
	for _, edge := range edges {
		farID := edge.TargetID
		if farID == nodeID {
			farID = edge.SourceID
		}

		n, err := e.store.GetNode(ctx, farID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// ListLowConfidence returns active decayable facts below the threshold,
// candidates for review before eviction takes them.
func (e *Engine) ListLowConfidence(ctx context.Context, threshold float64, limit int) ([]*knowledge.Node, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return e.store.ListLowConfidence(ctx, threshold, limit)
}
