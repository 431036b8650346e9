// Package engine wires storage, retrieval, consolidation, decay, and the
// background embedding pool into the single facade the host talks to. The
// embedder, extractor, and publisher are optional collaborators; each absent
// collaborator disables its capability and nothing else.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/decay"
	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/eventstream"
	"github.com/engramlabs/engram/pkg/extract"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/vector"
	"github.com/engramlabs/engram/pkg/worker"
)

// reactiveBudget bounds a reactive consolidation run triggered by a session
// switch. It runs in the background; the ceiling only stops a wedged
// extractor from leaking goroutines.
const reactiveBudget = 5 * time.Minute

// Config wires an Engine.
type Config struct {
	Store storage.Store

	// VectorDriver and Embedder enable vector search and background
	// embedding when both are present.
	VectorDriver vector.Driver
	Embedder     embeddings.Embedder

	// Extractor enables the consolidation pipeline and its sub-passes.
	Extractor extract.Extractor

	// Publisher receives session-consolidated events, fire-and-forget.
	Publisher eventstream.Publisher

	// RetrievalTimeout, RRFK, and FusionWeights tune the retrieval pipeline;
	// zero values take retrieval package defaults.
	RetrievalTimeout time.Duration
	RRFK             float64
	FusionWeights    retrieval.Weights

	// EvictionThreshold and JaccardThreshold tune decay and dedup; zero
	// values take package defaults.
	EvictionThreshold float64
	JaccardThreshold  float64

	// Workers and QueueSize size the embedding pool.
	Workers   uint
	QueueSize uint

	Logger *zap.Logger
}

// Engine is the long-term memory facade.
type Engine struct {
	store     storage.Store
	retriever *retrieval.Retriever
	pipeline  *consolidate.Pipeline
	decayPass *decay.Pass
	pool      *worker.Pool
	publisher eventstream.Publisher
	logger    *zap.Logger
}

// New assembles an Engine from its collaborators.
func New(c Config) (*Engine, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	retriever, err := retrieval.NewRetriever(retrieval.Config{
		Store:         c.Store,
		VectorDriver:  c.VectorDriver,
		Embedder:      c.Embedder,
		RRFK:          c.RRFK,
		FusionWeights: c.FusionWeights,
		Timeout:       c.RetrievalTimeout,
		Logger:        c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building retriever: %w", err)
	}

	decayPass, err := decay.NewPass(decay.Config{
		Store:             c.Store,
		EvictionThreshold: c.EvictionThreshold,
		Logger:            c.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building decay pass: %w", err)
	}

	e := &Engine{
		store:     c.Store,
		retriever: retriever,
		decayPass: decayPass,
		publisher: c.Publisher,
		logger:    c.Logger,
	}

	if c.Extractor != nil {
		e.pipeline, err = consolidate.NewPipeline(consolidate.Config{
			Store:            c.Store,
			Extractor:        c.Extractor,
			Publisher:        c.Publisher,
			JaccardThreshold: c.JaccardThreshold,
			Logger:           c.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building consolidation pipeline: %w", err)
		}
	}

	if c.Embedder != nil && c.VectorDriver != nil {
		e.pool, err = worker.NewPool(&worker.Config{
			VectorDriver: c.VectorDriver,
			Embedder:     c.Embedder,
			NumWorkers:   c.Workers,
			QueueSize:    c.QueueSize,
			Logger:       c.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("building embedding pool: %w", err)
		}
	}

	return e, nil
}

// Close drains the embedding pool. The store and collaborators are owned by
// the caller and closed separately.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.Close()
	}
}

// RecordEpisode is the synchronous ingestion hot path: it writes the episodic
// node, chains it temporally to the session's previous episode, and returns.
// Embedding happens in the background pool; a first sighting of the session
// id triggers reactive consolidation of older pending sessions, also in the
// background. No network call happens inline.
func (e *Engine) RecordEpisode(ctx context.Context, sessionID, role, content string) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("%w: session id is empty", knowledge.ErrInvalid)
	}
	if content == "" {
		return "", fmt.Errorf("%w: episode content is empty", knowledge.ErrInvalid)
	}

	now := time.Now().UTC()

	isNew, err := e.store.ObserveSession(ctx, sessionID, now)
	if err != nil {
		return "", fmt.Errorf("observing session: %w", err)
	}
	if isNew && e.pipeline != nil {
		go e.consolidateOthers(sessionID)
	}

	prior, err := e.store.LatestEpisode(ctx, sessionID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("finding prior episode: %w", err)
	}

	node := &knowledge.Node{
		ID:         uuid.NewString(),
		Kind:       knowledge.KindEpisodic,
		Content:    content,
		EventTime:  now,
		CreatedAt:  now,
		ValidFrom:  now,
		Confidence: 1,
		Provenance: knowledge.Provenance{
			SourceKind: "dialogue",
			SourceRole: role,
			SessionID:  sessionID,
		},
	}
	if err := e.store.CreateNode(ctx, node); err != nil {
		return "", fmt.Errorf("writing episode: %w", err)
	}

	if prior != nil {
		err := e.store.CreateEdge(ctx, &knowledge.Edge{
			ID:         uuid.NewString(),
			SourceID:   prior.ID,
			TargetID:   node.ID,
			Relation:   knowledge.RelationTemporal,
			Weight:     1,
			Confidence: 1,
			ValidFrom:  now,
			CreatedAt:  now,
		})
		if err != nil {
			return "", fmt.Errorf("chaining episode: %w", err)
		}
	}

	e.enqueueEmbedding(node)

	return node.ID, nil
}

// GetContext assembles the pre-turn memory context. A nil block with nil
// error means nothing relevant was found and the host should inject nothing.
func (e *Engine) GetContext(ctx context.Context, query, sessionID string, tokenBudget int) (*retrieval.ContextBlock, error) {
	return e.retriever.GetContext(ctx, query, sessionID, tokenBudget)
}

// consolidateOthers consolidates every pending session except the one that
// just started. Runs detached from the triggering request.
func (e *Engine) consolidateOthers(currentSession string) {
	ctx, cancel := context.WithTimeout(context.Background(), reactiveBudget)
	defer cancel()

	sessions, err := e.store.PendingSessions(ctx, 50)
	if err != nil {
		e.logger.Warn("reactive consolidation skipped", zap.Error(err))
		return
	}

	for _, sess := range sessions {
		if sess.ID == currentSession {
			continue
		}
		if _, err := e.pipeline.Run(ctx, sess.ID); err != nil {
			e.logger.Warn("reactive consolidation failed, session left pending",
				zap.String("session_id", sess.ID), zap.Error(err))
		}
	}
}

func (e *Engine) enqueueEmbedding(node *knowledge.Node) {
	if e.pool == nil {
		return
	}
	e.pool.Enqueue(worker.Job{NodeID: node.ID, Content: node.Content})
}
