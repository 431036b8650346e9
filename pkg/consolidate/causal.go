package consolidate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/extract"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

// DefaultCausalConfidence is the conservative confidence assigned to an
// inferred causal edge when the extractor offers none. Inferred causality is
// a weak signal; it should never dominate fusion over directly stated facts.
const DefaultCausalConfidence = 0.5

// CausalResult summarizes one causal-inference sub-pass.
type CausalResult struct {
	SessionID    string `json:"session_id"`
	PairsChecked int    `json:"pairs_checked"`
	EdgesCreated int    `json:"edges_created"`
}

// InferCausal examines consecutive episode pairs across a session for
// cause/effect relationships and records them as causal edges. The sub-pass
// is additive: it creates edges and never retracts facts, so it is safe to
// run on already-consolidated sessions.
func (p *Pipeline) InferCausal(ctx context.Context, sessionID string) (*CausalResult, error) {
	result := &CausalResult{SessionID: sessionID}

	episodes, err := p.fetchEpisodes(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(episodes) < 2 {
		return result, nil
	}

	known := make(map[string]bool, len(episodes))
	pairs := make([][2]extract.Episode, 0, len(episodes)-1)
	for i, ep := range episodes {
		known[ep.ID] = true
		if i > 0 {
			pairs = append(pairs, [2]extract.Episode{episodes[i-1], ep})
		}
	}
	result.PairsChecked = len(pairs)

	links, err := p.extractor.InferCausalLinks(ctx, pairs)
	if err != nil {
		return nil, fmt.Errorf("causal inference failed: %w", err)
	}

	for _, link := range links {
		if link.CauseID == link.EffectID || !known[link.CauseID] || !known[link.EffectID] {
			p.logger.Debug("dropping causal link outside session",
				zap.String("cause", link.CauseID), zap.String("effect", link.EffectID))
			continue
		}

		exists, err := p.causalEdgeExists(ctx, link.CauseID, link.EffectID)
		if err != nil {
			return result, err
		}
		if exists {
			continue
		}

		confidence := clamp01(link.Confidence)
		if confidence == 0 {
			confidence = DefaultCausalConfidence
		}

		now := time.Now().UTC()
		err = p.store.CreateEdge(ctx, &knowledge.Edge{
			ID:         uuid.NewString(),
			SourceID:   link.CauseID,
			TargetID:   link.EffectID,
			Relation:   knowledge.RelationCausal,
			Weight:     confidence,
			Confidence: confidence,
			ValidFrom:  now,
			Evidence:   []string{link.CauseID, link.EffectID},
			CreatedAt:  now,
		})
		if err != nil {
			return result, fmt.Errorf("recording causal edge: %w", err)
		}
		result.EdgesCreated++
	}

	p.logger.Info("causal inference complete",
		zap.String("session_id", sessionID),
		zap.Int("pairs", result.PairsChecked),
		zap.Int("edges", result.EdgesCreated))

	return result, nil
}

func (p *Pipeline) causalEdgeExists(ctx context.Context, causeID, effectID string) (bool, error) {
	edges, err := p.store.Edges(ctx, causeID, knowledge.RelationCausal, storage.DirectionOut)
	if err != nil {
		return false, fmt.Errorf("checking existing causal edges: %w", err)
	}

	for _, e := range edges {
		if e.TargetID == effectID {
			return true, nil
		}
	}
	return false, nil
}
