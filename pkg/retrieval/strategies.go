package retrieval

import (
	"context"
	"errors"
	"sort"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

// causalStrategy walks causal edges breadth-first from the seed nodes, both
// directions, answering "why" queries with causes and consequences.
func causalStrategy(ctx context.Context, store storage.Store, seedIDs []string, depth, limit int) ([]*knowledge.Node, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	nodes, err := store.Traverse(ctx, seedIDs, knowledge.RelationCausal, storage.DirectionBoth, depth)
	if err != nil {
		return nil, err
	}

	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	return nodes, nil
}

// temporalStrategy finds the episode nearest to the query and walks the
// session's temporal chain around it. The result is strictly time-ordered
// regardless of how fusion later interleaves other lists.
func temporalStrategy(ctx context.Context, store storage.Store, query, excludeSession string, depth, limit int) ([]*knowledge.Node, error) {
	anchors, err := store.SearchFulltext(ctx, query, storage.Filters{
		Kinds:          []knowledge.Kind{knowledge.KindEpisodic},
		ExcludeSession: excludeSession,
	}, 1)
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, nil
	}

	nodes, err := store.Traverse(ctx, []string{anchors[0].ID},
		knowledge.RelationTemporal, storage.DirectionBoth, depth)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].EventTime.Before(nodes[j].EventTime)
	})

	if len(nodes) > limit {
		nodes = nodes[:limit]
	}

	return nodes, nil
}

// entityStrategy resolves entity mentions in the query and returns knowledge
// linked to them, answering "who/what" queries without scanning content.
func entityStrategy(ctx context.Context, store storage.Store, query, excludeSession string, limit int) ([]*knowledge.Node, error) {
	terms := extractMentionTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var nodes []*knowledge.Node

	for _, term := range terms {
		entity, err := store.SearchEntity(ctx, term)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		linked, err := store.EntityNodes(ctx, entity.ID, limit)
		if err != nil {
			return nil, err
		}

		for _, n := range linked {
			if seen[n.ID] || n.Provenance.SessionID == excludeSession {
				continue
			}
			seen[n.ID] = true
			nodes = append(nodes, n)

			if len(nodes) >= limit {
				return nodes, nil
			}
		}
	}

	return nodes, nil
}
