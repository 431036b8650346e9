// Package consolidate implements the pending→consolidated pipeline over the
// session ledger: extraction, deduplication, persistence with provenance,
// entity linking, and conflict resolution, plus the decoupled enrichment and
// causal-inference sub-passes.
package consolidate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/eventstream"
	"github.com/engramlabs/engram/pkg/extract"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

const (
	// DefaultJaccardThreshold marks a candidate as a near-duplicate of a
	// stored fact.
	DefaultJaccardThreshold = 0.75

	// conflictThreshold is the textual-overlap floor for treating a stored
	// fact as contradicted. Below the duplicate threshold, above this, and
	// sharing an entity means same topic, different claim.
	conflictThreshold = 0.4

	// DefaultPageSize bounds the episode fetch per page for long sessions.
	DefaultPageSize = 200

	// conflictCandidates bounds the targeted conflict search per fact.
	conflictCandidates = 10
)

// DecayRateForKind returns the default decay rate assigned to newly extracted
// knowledge. Opinions fade fastest, procedures slowest; episodic knowledge
// never decays.
func DecayRateForKind(kind knowledge.Kind) float64 {
	switch kind {
	case knowledge.KindOpinion:
		return 0.02
	case knowledge.KindSemantic:
		return 0.01
	case knowledge.KindProcedural:
		return 0.005
	}
	return 0
}

// Config wires a consolidation Pipeline.
type Config struct {
	Store     storage.Store
	Extractor extract.Extractor

	// Publisher is optional; when present, a session-consolidated event is
	// emitted fire-and-forget after the ledger transition.
	Publisher eventstream.Publisher

	// JaccardThreshold overrides DefaultJaccardThreshold when non-zero.
	JaccardThreshold float64

	// PageSize overrides DefaultPageSize when non-zero.
	PageSize int

	Logger *zap.Logger
}

// Result summarizes one session's consolidation.
type Result struct {
	SessionID string `json:"session_id"`

	// Skipped is true when the ledger said the session was already
	// consolidated (or another run won the transition) and no work was done.
	Skipped bool `json:"skipped"`

	EpisodesRead      int `json:"episodes_read"`
	FactsCreated      int `json:"facts_created"`
	Duplicates        int `json:"duplicates"`
	EntitiesLinked    int `json:"entities_linked"`
	ConflictsResolved int `json:"conflicts_resolved"`
}

// Pipeline consolidates one session at a time.
type Pipeline struct {
	store     storage.Store
	extractor extract.Extractor
	publisher eventstream.Publisher
	threshold float64
	pageSize  int
	logger    *zap.Logger
}

// NewPipeline creates a consolidation pipeline.
func NewPipeline(c Config) (*Pipeline, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.Extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if c.JaccardThreshold == 0 {
		c.JaccardThreshold = DefaultJaccardThreshold
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}

	return &Pipeline{
		store:     c.Store,
		extractor: c.Extractor,
		publisher: c.Publisher,
		threshold: c.JaccardThreshold,
		pageSize:  c.PageSize,
		logger:    c.Logger,
	}, nil
}

// Run consolidates one session. Re-entry is a no-op: the ledger check is the
// first step, and the final state transition is guarded, so duplicate
// triggers and interrupted runs are both safe. An extraction failure leaves
// the session pending for the next scheduled attempt.
func (p *Pipeline) Run(ctx context.Context, sessionID string) (*Result, error) {
	result := &Result{SessionID: sessionID}

	sess, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session ledger: %w", err)
	}
	if !sess.Pending() {
		result.Skipped = true
		return result, nil
	}

	episodes, err := p.fetchEpisodes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	result.EpisodesRead = len(episodes)

	if len(episodes) > 0 {
		candidates, err := p.extractor.ExtractKnowledge(ctx, episodes)
		if err != nil {
			return nil, fmt.Errorf("extraction failed, session left pending: %w", err)
		}

		kept, dupes := dedupeBatch(candidates)
		result.Duplicates += dupes

		for _, cand := range kept {
			if err := ctx.Err(); err != nil {
				return result, err
			}

			created, err := p.persistCandidate(ctx, sessionID, cand, result)
			if err != nil {
				return result, err
			}
			if created {
				result.FactsCreated++
			}
		}
	}

	won, err := p.store.MarkConsolidated(ctx, sessionID, time.Now().UTC())
	if err != nil {
		return result, fmt.Errorf("marking session consolidated: %w", err)
	}
	if !won {
		// Another run consolidated concurrently; our writes were deduplicated
		// against its output, so nothing needs undoing.
		result.Skipped = true
		return result, nil
	}

	p.publish(ctx, result)

	p.logger.Info("session consolidated",
		zap.String("session_id", sessionID),
		zap.Int("episodes", result.EpisodesRead),
		zap.Int("facts", result.FactsCreated),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("conflicts", result.ConflictsResolved))

	return result, nil
}

// RunPending consolidates every pending session, oldest first. Per-session
// failures are logged and skipped so one bad session cannot starve the rest.
func (p *Pipeline) RunPending(ctx context.Context, limit int) ([]*Result, error) {
	sessions, err := p.store.PendingSessions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending sessions: %w", err)
	}

	var results []*Result
	for _, sess := range sessions {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res, err := p.Run(ctx, sess.ID)
		if err != nil {
			p.logger.Warn("consolidation failed, session left pending",
				zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		results = append(results, res)
	}

	return results, nil
}

func (p *Pipeline) fetchEpisodes(ctx context.Context, sessionID string) ([]extract.Episode, error) {
	var episodes []extract.Episode

	for offset := 0; ; offset += p.pageSize {
		nodes, err := p.store.EpisodesForSession(ctx, sessionID, offset, p.pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetching episodes: %w", err)
		}

		for _, n := range nodes {
			episodes = append(episodes, extract.Episode{
				ID:      n.ID,
				Role:    n.Provenance.SourceRole,
				Content: n.Content,
			})
		}

		if len(nodes) < p.pageSize {
			return episodes, nil
		}
	}
}

// persistCandidate writes one extracted fact with provenance and entity
// links, then runs conflict resolution against stored knowledge. Returns
// false when the candidate was dropped as a near-duplicate of a stored fact.
func (p *Pipeline) persistCandidate(ctx context.Context, sessionID string, cand extract.Candidate, result *Result) (bool, error) {
	if !cand.Kind.Valid() || cand.Kind == knowledge.KindEpisodic || cand.Content == "" {
		p.logger.Debug("dropping malformed candidate", zap.String("kind", string(cand.Kind)))
		return false, nil
	}

	stored, err := p.store.SearchCandidateConflicts(ctx, cand.Content, cand.Kind, conflictCandidates)
	if err != nil {
		return false, fmt.Errorf("searching stored facts: %w", err)
	}

	candTokens := tokenize(cand.Content)
	var conflicts []*knowledge.Node
	for _, existing := range stored {
		sim := jaccard(candTokens, tokenize(existing.Content))
		if sim >= p.threshold {
			result.Duplicates++
			return false, nil
		}
		if sim >= conflictThreshold {
			conflicts = append(conflicts, existing)
		}
	}

	now := time.Now().UTC()
	node := &knowledge.Node{
		ID:         uuid.NewString(),
		Kind:       cand.Kind,
		Content:    cand.Content,
		EventTime:  now,
		CreatedAt:  now,
		ValidFrom:  now,
		Confidence: clamp01(cand.Confidence),
		DecayRate:  DecayRateForKind(cand.Kind),
		Provenance: knowledge.Provenance{
			SourceKind: "extraction",
			SessionID:  sessionID,
		},
	}
	if err := p.store.CreateNode(ctx, node); err != nil {
		return false, fmt.Errorf("persisting extracted fact: %w", err)
	}

	for _, episodeID := range cand.SourceEpisodeIDs {
		err := p.store.CreateEdge(ctx, &knowledge.Edge{
			ID:         uuid.NewString(),
			SourceID:   node.ID,
			TargetID:   episodeID,
			Relation:   knowledge.RelationDerivedFrom,
			Weight:     1,
			Confidence: 1,
			ValidFrom:  now,
			CreatedAt:  now,
		})
		if errors.Is(err, storage.ErrMissingNode) || errors.Is(err, knowledge.ErrInvalid) {
			// The extractor referenced an episode it invented. Keep the fact,
			// drop the bogus provenance edge.
			p.logger.Debug("dropping provenance edge to unknown episode",
				zap.String("episode_id", episodeID))
			continue
		}
		if err != nil {
			return false, fmt.Errorf("linking fact to source episode: %w", err)
		}
	}

	for _, mention := range cand.Mentions {
		entity, err := p.store.ResolveOrCreateEntity(ctx, mention)
		if err != nil {
			return false, fmt.Errorf("resolving entity %q: %w", mention.Name, err)
		}
		if err := p.store.LinkNodeEntity(ctx, node.ID, entity.ID); err != nil {
			return false, fmt.Errorf("linking entity %q: %w", mention.Name, err)
		}
		result.EntitiesLinked++
	}

	for _, old := range conflicts {
		if err := Supersede(ctx, p.store, node.ID, old.ID, "consolidation conflict"); err != nil {
			return false, err
		}
		result.ConflictsResolved++
	}

	return true, nil
}

// Supersede resolves a conflict in the new fact's favor: the old fact is
// soft-deleted and a supersedes edge records the succession. The correction
// tool uses this same path directly.
func Supersede(ctx context.Context, store storage.Store, newID, oldID, predicate string) error {
	if err := store.SoftDelete(ctx, oldID); err != nil {
		return fmt.Errorf("retiring superseded fact %s: %w", oldID, err)
	}

	now := time.Now().UTC()
	err := store.CreateEdge(ctx, &knowledge.Edge{
		ID:         uuid.NewString(),
		SourceID:   newID,
		TargetID:   oldID,
		Relation:   knowledge.RelationSupersedes,
		Predicate:  predicate,
		Weight:     1,
		Confidence: 1,
		ValidFrom:  now,
		CreatedAt:  now,
	})
	if err != nil {
		return fmt.Errorf("recording supersession: %w", err)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, result *Result) {
	if p.publisher == nil {
		return
	}

	event := &eventstream.SessionConsolidatedEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeSessionConsolidated,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		SessionID:      result.SessionID,
		FactsCreated:   result.FactsCreated,
		EntitiesLinked: result.EntitiesLinked,
		ConflictsFound: result.ConflictsResolved,
	}

	if err := p.publisher.PublishSessionConsolidated(ctx, event); err != nil {
		// Fire-and-forget: the ledger, not the event stream, is the source of
		// truth for consolidation state.
		p.logger.Warn("consolidation event not published",
			zap.String("session_id", result.SessionID), zap.Error(err))
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
