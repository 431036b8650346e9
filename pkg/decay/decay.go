// Package decay implements the Ebbinghaus-style confidence decay and eviction
// pass over extracted knowledge.
package decay

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
)

const (
	// DefaultEvictionThreshold is the confidence floor below which a decayed
	// node is soft-deleted.
	DefaultEvictionThreshold = 0.05

	// DefaultPageSize bounds memory per page while scanning the store.
	DefaultPageSize = 500
)

// Config wires a decay Pass.
type Config struct {
	Store storage.Store

	// EvictionThreshold overrides DefaultEvictionThreshold when non-zero.
	EvictionThreshold float64

	// PageSize overrides DefaultPageSize when non-zero.
	PageSize int

	Logger *zap.Logger
}

// Result summarizes one decay pass.
type Result struct {
	Scanned int `json:"scanned"`
	Updated int `json:"updated"`
	Evicted int `json:"evicted"`
}

// Pass applies time-based confidence decay to every decayable node.
type Pass struct {
	store     storage.Store
	threshold float64
	pageSize  int
	logger    *zap.Logger
}

// NewPass creates a decay pass.
func NewPass(c Config) (*Pass, error) {
	if c.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if c.EvictionThreshold == 0 {
		c.EvictionThreshold = DefaultEvictionThreshold
	}
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}

	return &Pass{
		store:     c.Store,
		threshold: c.EvictionThreshold,
		pageSize:  c.PageSize,
		logger:    c.Logger,
	}, nil
}

// Decayed returns the node's confidence after decaying for the time since it
// was last accessed (or created, if never accessed):
//
//	confidence × exp(−decay_rate × days^0.8)
//
// The sublinear day exponent slows forgetting for old, settled knowledge. The
// result never exceeds the current confidence, so a pass can only lower it.
func Decayed(n *knowledge.Node, now time.Time) float64 {
	since := n.LastAccessed
	if since.IsZero() {
		since = n.CreatedAt
	}

	days := now.Sub(since).Hours() / 24
	if days <= 0 {
		return n.Confidence
	}

	return n.Confidence * math.Exp(-n.DecayRate*math.Pow(days, 0.8))
}

// Run scans all decayable nodes in pages, persisting lowered confidences and
// soft-deleting nodes that fall below the eviction threshold. Protected and
// episodic nodes never reach the scan; the store filters them out. Evictions
// are deferred to the end of the scan so soft-deletes don't shift the
// pagination window mid-walk. The pass is cancellable between pages.
func (p *Pass) Run(ctx context.Context) (*Result, error) {
	now := time.Now().UTC()
	result := &Result{}

	var evict []string

	for offset := 0; ; offset += p.pageSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		nodes, err := p.store.ListDecayable(ctx, offset, p.pageSize)
		if err != nil {
			return result, fmt.Errorf("listing decayable nodes: %w", err)
		}
		if len(nodes) == 0 {
			break
		}

		updates := make(map[string]float64)

		for _, n := range nodes {
			result.Scanned++

			decayed := Decayed(n, now)
			if decayed >= n.Confidence {
				continue
			}

			if decayed < p.threshold {
				evict = append(evict, n.ID)
				continue
			}
			updates[n.ID] = decayed
		}

		if len(updates) > 0 {
			if err := p.store.BatchUpdateConfidence(ctx, updates); err != nil {
				return result, fmt.Errorf("persisting decayed confidences: %w", err)
			}
			result.Updated += len(updates)
		}

		if len(nodes) < p.pageSize {
			break
		}
	}

	for _, id := range evict {
		if err := p.store.SoftDelete(ctx, id); err != nil {
			return result, fmt.Errorf("evicting node %s: %w", id, err)
		}
		result.Evicted++
	}

	p.logger.Info("decay pass complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("updated", result.Updated),
		zap.Int("evicted", result.Evicted))

	return result, nil
}
