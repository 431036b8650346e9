// Package worker provides the bounded background pool that generates
// embeddings for freshly written nodes. The pool decouples embedding from the
// ingestion hot path: a failed or dropped job only disables vector search for
// that node, never the write itself.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/embeddings"
	"github.com/engramlabs/engram/pkg/vector"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of embedding work: one node's content to vectorize and index.
type Job struct {
	NodeID  string
	Content string
}

// Config is the configuration options for the worker pool.
type Config struct {
	// VectorDriver is the vector index to write embeddings into.
	VectorDriver vector.Driver

	// Embedder generates text embeddings.
	Embedder embeddings.Embedder

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes embedding jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.VectorDriver == nil {
		return nil, fmt.Errorf("vector driver is required")
	}
	if c.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	p := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full and the job dropped.
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("embedding job queued", zap.String("node_id", job.NodeID))
		return true
	default:
		p.logger.Error("embedding job dropped, queue full",
			zap.String("node_id", job.NodeID),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
// Call during graceful shutdown after ingestion has stopped.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// worker continuously pulls jobs off the queue.
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

// processJob embeds the node's content and writes it to the vector index.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()

	embedding, err := p.config.Embedder.Embed(ctx, job.Content)
	if err != nil {
		p.logger.Error("async embedding failed",
			zap.String("node_id", job.NodeID),
			zap.Error(err),
		)
		return
	}

	if err := p.config.VectorDriver.Add(ctx, []vector.Document{{
		ID:        job.NodeID,
		Embedding: embedding,
	}}); err != nil {
		p.logger.Error("async vector index write failed",
			zap.String("node_id", job.NodeID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("node embedded", zap.String("node_id", job.NodeID))
}
