package consolidate

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const (
	// DefaultEnrichMinMentions is the mention-count floor for generating an
	// entity profile summary.
	DefaultEnrichMinMentions = 5

	// DefaultEnrichLimit bounds entities summarized per pass.
	DefaultEnrichLimit = 20

	// enrichSourceNodes bounds the knowledge sampled per entity summary.
	enrichSourceNodes = 20
)

// EnrichResult summarizes one enrichment sub-pass.
type EnrichResult struct {
	EntitiesExamined   int `json:"entities_examined"`
	SummariesGenerated int `json:"summaries_generated"`
}

// EnrichEntities generates profile summaries for frequently mentioned
// entities. The sub-pass is additive and best-effort: a failed summary skips
// the entity and leaves it for the next pass.
func (p *Pipeline) EnrichEntities(ctx context.Context, minMentions, limit int) (*EnrichResult, error) {
	if minMentions <= 0 {
		minMentions = DefaultEnrichMinMentions
	}
	if limit <= 0 {
		limit = DefaultEnrichLimit
	}

	result := &EnrichResult{}

	entities, err := p.store.ListEntitiesByMentions(ctx, minMentions, limit)
	if err != nil {
		return nil, fmt.Errorf("listing entities for enrichment: %w", err)
	}

	for _, entity := range entities {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.EntitiesExamined++

		nodes, err := p.store.EntityNodes(ctx, entity.ID, enrichSourceNodes)
		if err != nil {
			return result, fmt.Errorf("fetching knowledge for entity %s: %w", entity.ID, err)
		}
		if len(nodes) == 0 {
			continue
		}

		mentions := make([]string, 0, len(nodes))
		for _, n := range nodes {
			mentions = append(mentions, n.Content)
		}

		summary, err := p.extractor.Summarize(ctx, entity.CanonicalName, mentions)
		if err != nil {
			p.logger.Warn("entity summary skipped",
				zap.String("entity", entity.CanonicalName), zap.Error(err))
			continue
		}
		if summary == "" {
			continue
		}

		if err := p.store.UpdateEntitySummary(ctx, entity.ID, summary); err != nil {
			return result, fmt.Errorf("storing summary for entity %s: %w", entity.ID, err)
		}
		result.SummariesGenerated++
	}

	p.logger.Info("entity enrichment complete",
		zap.Int("examined", result.EntitiesExamined),
		zap.Int("summaries", result.SummariesGenerated))

	return result, nil
}
