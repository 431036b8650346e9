package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/vector"
)

// DefaultTimeout is the hard ceiling on a whole retrieval: classification,
// searches, and fusion together.
const DefaultTimeout = 2 * time.Second

// Weights are the per-list fusion weights.
type Weights struct {
	Fulltext float64
	Vector   float64
	Graph    float64
}

// DefaultWeights weighs all strategies equally.
var DefaultWeights = Weights{Fulltext: 1, Vector: 1, Graph: 1}

// Config wires a Retriever.
type Config struct {
	Store storage.Store

	// VectorDriver and Embedder are optional; when either is absent, vector
	// search is skipped entirely.
	VectorDriver vector.Driver
	Embedder     embeddings.Embedder

	// Classifier is optional. Defaults to the exemplar classifier when an
	// embedder is configured, the keyword classifier otherwise.
	Classifier Classifier

	// RRFK is the reciprocal-rank-fusion constant. Defaults to DefaultRRFK.
	RRFK float64

	// FusionWeights are the per-list weights. Zero fields default to 1.
	FusionWeights Weights

	// Timeout is the hard retrieval ceiling. Defaults to DefaultTimeout.
	Timeout time.Duration

	Logger *zap.Logger
}

// Retriever runs the multi-strategy retrieval pipeline.
type Retriever struct {
	config     Config
	classifier Classifier
	logger     *zap.Logger
}

// NewRetriever creates a Retriever.
func NewRetriever(c Config) (*Retriever, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RRFK == 0 {
		c.RRFK = DefaultRRFK
	}

	classifier := c.Classifier
	if classifier == nil {
		if c.Embedder != nil {
			classifier = NewExemplarClassifier(c.Embedder)
		} else {
			classifier = KeywordClassifier{}
		}
	}

	return &Retriever{config: c, classifier: classifier, logger: c.Logger}, nil
}

// GetContext runs the full pipeline and assembles a token-budgeted context
// block. It returns (nil, nil) when no strategy produced a result so the
// caller can skip context injection entirely. Strategy failures degrade to
// fewer lists rather than failing the call.
func (r *Retriever) GetContext(ctx context.Context, query, sessionID string, tokenBudget int) (*ContextBlock, error) {
	if query == "" || tokenBudget <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	depth, limit := ClassifyComplexity(query).Params()

	intent, err := r.classifier.Classify(ctx, query)
	if err != nil {
		r.logger.Warn("intent classification failed, treating as general", zap.Error(err))
		intent = IntentGeneral
	}

	lists, nodeByID := r.runStrategies(ctx, query, sessionID, intent, depth, limit)

	fused := FuseRRF(r.config.RRFK, lists)
	if len(fused) == 0 {
		return nil, nil
	}

	block := r.assemble(ctx, fused, nodeByID, intent, sessionID, limit, tokenBudget)
	if block.Empty() {
		return nil, nil
	}

	r.reinforce(ctx, block)

	return block, nil
}

// runStrategies executes the configured search strategies concurrently and
// returns their ranked lists plus every node seen, keyed by id.
func (r *Retriever) runStrategies(ctx context.Context, query, sessionID string, intent Intent, depth, limit int) ([]RankedList, map[string]*knowledge.Node) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		lists    []RankedList
		nodeByID = make(map[string]*knowledge.Node)
	)

	record := func(name string, weight float64, nodes []*knowledge.Node) {
		if len(nodes) == 0 {
			return
		}

		ids := make([]string, 0, len(nodes))
		mu.Lock()
		for _, n := range nodes {
			ids = append(ids, n.ID)
			nodeByID[n.ID] = n
		}
		lists = append(lists, RankedList{Name: name, Weight: weight, IDs: ids})
		mu.Unlock()
	}

	weights := r.config.FusionWeights
	if weights == (Weights{}) {
		weights = DefaultWeights
	}

	var fulltextNodes []*knowledge.Node

	// Full-text runs first and synchronously: the causal strategy seeds from
	// its top hits.
	fulltextNodes, err := r.config.Store.SearchFulltext(ctx, query,
		storage.Filters{ExcludeSession: sessionID}, limit)
	if err != nil {
		r.logger.Warn("full-text search failed", zap.Error(err))
	}
	record("fulltext", weights.Fulltext, fulltextNodes)

	if r.config.Embedder != nil && r.config.VectorDriver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()

			nodes, err := r.vectorSearch(ctx, query, sessionID, limit)
			if err != nil {
				r.logger.Warn("vector search skipped", zap.Error(err))
				return
			}
			record("vector", weights.Vector, nodes)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		nodes, err := r.graphSearch(ctx, query, sessionID, intent, fulltextNodes, depth, limit)
		if err != nil {
			r.logger.Warn("graph strategy failed", zap.String("intent", string(intent)), zap.Error(err))
			return
		}
		record("graph", weights.Graph, nodes)
	}()

	wg.Wait()

	return lists, nodeByID
}

func (r *Retriever) vectorSearch(ctx context.Context, query, sessionID string, limit int) ([]*knowledge.Node, error) {
	embedding, err := r.config.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	results, err := r.config.VectorDriver.Query(ctx, embedding, limit)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var nodes []*knowledge.Node
	for _, res := range results {
		n, err := r.config.Store.GetNode(ctx, res.ID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !n.Active() || n.Provenance.SessionID == sessionID {
			continue
		}
		nodes = append(nodes, n)
	}

	return nodes, nil
}

func (r *Retriever) graphSearch(ctx context.Context, query, sessionID string, intent Intent, fulltextNodes []*knowledge.Node, depth, limit int) ([]*knowledge.Node, error) {
	switch intent {
	case IntentWhy:
		seeds := make([]string, 0, len(fulltextNodes))
		for _, n := range fulltextNodes {
			seeds = append(seeds, n.ID)
		}
		return causalStrategy(ctx, r.config.Store, seeds, depth, limit)

	case IntentWhen:
		return temporalStrategy(ctx, r.config.Store, query, sessionID, depth, limit)

	case IntentWhoWhat:
		return entityStrategy(ctx, r.config.Store, query, sessionID, limit)

	default:
		return nil, nil
	}
}

// assemble splits fused results into the block's budget shares: facts 40%,
// entity profiles 25%, temporal context 25%, evidence 10%.
func (r *Retriever) assemble(ctx context.Context, fused []FusedResult, nodeByID map[string]*knowledge.Node, intent Intent, sessionID string, limit, tokenBudget int) *ContextBlock {
	block := &ContextBlock{Intent: intent}

	var facts, temporal []Item
	for _, res := range fused {
		n, ok := nodeByID[res.ID]
		if !ok || !n.Active() || n.Provenance.SessionID == sessionID {
			continue
		}

		item := Item{Node: n, Score: res.Score}
		if n.Kind == knowledge.KindEpisodic {
			temporal = append(temporal, item)
		} else {
			facts = append(facts, item)
		}
	}

	// Temporal context is always presented in time order, whatever the
	// fusion scores say.
	sort.SliceStable(temporal, func(i, j int) bool {
		return temporal[i].Node.EventTime.Before(temporal[j].Node.EventTime)
	})

	entities := r.collectEntities(ctx, facts, limit)
	evidence := r.collectEvidence(ctx, facts, limit)

	var used int
	block.Facts, used = fitItems(facts, tokenBudget*factsShare/100)
	block.TokensUsed += used

	block.Entities, used = fitEntities(entities, tokenBudget*entitiesShare/100)
	block.TokensUsed += used

	block.Temporal, used = fitTemporal(temporal, tokenBudget*temporalShare/100)
	block.TokensUsed += used

	block.Evidence, used = fitItems(evidence, tokenBudget*evidenceShare/100)
	block.TokensUsed += used

	return block
}

// fitTemporal trims the timeline to budget while preserving time order,
// dropping the lowest-scored items first.
func fitTemporal(items []Item, budget int) ([]Item, int) {
	fitted, used := fitItems(items, budget)

	sort.SliceStable(fitted, func(i, j int) bool {
		return fitted[i].Node.EventTime.Before(fitted[j].Node.EventTime)
	})

	return fitted, used
}

func (r *Retriever) collectEntities(ctx context.Context, facts []Item, limit int) []*knowledge.Entity {
	seen := make(map[string]bool)
	var entities []*knowledge.Entity

	for _, item := range facts {
		linked, err := r.config.Store.NodeEntities(ctx, item.Node.ID)
		if err != nil {
			r.logger.Warn("entity lookup failed", zap.String("node_id", item.Node.ID), zap.Error(err))
			continue
		}

		for _, e := range linked {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			entities = append(entities, e)

			if len(entities) >= limit {
				return entities
			}
		}
	}

	return entities
}

func (r *Retriever) collectEvidence(ctx context.Context, facts []Item, limit int) []Item {
	seen := make(map[string]bool)
	var evidence []Item

	for _, item := range facts {
		edges, err := r.config.Store.Edges(ctx, item.Node.ID, knowledge.RelationDerivedFrom, storage.DirectionOut)
		if err != nil {
			r.logger.Warn("evidence lookup failed", zap.String("node_id", item.Node.ID), zap.Error(err))
			continue
		}

		for _, e := range edges {
			if seen[e.TargetID] {
				continue
			}
			seen[e.TargetID] = true

			source, err := r.config.Store.GetNode(ctx, e.TargetID)
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil || !source.Active() {
				continue
			}

			evidence = append(evidence, Item{Node: source, Score: item.Score * e.Confidence})
			if len(evidence) >= limit {
				return evidence
			}
		}
	}

	return evidence
}

// reinforce records access and applies the retrieval-side confidence boost:
// +0.05 × ln(1 + access_count/20), capped at 1.0. Episodic nodes get their
// access recorded but are never re-confidenced. Reinforcement failures are
// logged, not surfaced; the context block is already built.
func (r *Retriever) reinforce(ctx context.Context, block *ContextBlock) {
	ids := block.NodeIDs()
	if len(ids) == 0 {
		return
	}

	// Detach from the retrieval deadline: a slow search must not also lose
	// the reinforcement write.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	if err := r.config.Store.RecordAccess(writeCtx, ids, time.Now().UTC()); err != nil {
		r.logger.Warn("access reinforcement failed", zap.Error(err))
		return
	}

	boosts := make(map[string]float64)
	for _, section := range [][]Item{block.Facts, block.Evidence} {
		for _, item := range section {
			n := item.Node
			if !n.Kind.Decays() {
				continue
			}

			count := n.AccessCount + 1
			boosted := n.Confidence + 0.05*math.Log(1+float64(count)/20)
			boosts[n.ID] = math.Min(boosted, 1.0)
		}
	}

	if err := r.config.Store.BatchUpdateConfidence(writeCtx, boosts); err != nil {
		r.logger.Warn("confidence reinforcement failed", zap.Error(err))
	}
}
