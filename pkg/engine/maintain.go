package engine

import (
	"context"
	"fmt"
)

// Maintenance task names, invoked by whatever scheduler the host provides.
const (
	TaskConsolidatePending = "consolidate-pending"
	TaskApplyDecay         = "apply-decay"
	TaskEnrichEntities     = "enrich-entities"
	TaskInferCausalLinks   = "infer-causal-links"
)

// maintainSessionBatch bounds sessions consolidated per maintenance run.
const maintainSessionBatch = 100

// Maintain dispatches a named maintenance task. The sessionID argument is
// only meaningful for infer-causal-links, which operates on one session; the
// other tasks ignore it. The returned value is the task's own result type,
// serializable for logging or an API response.
func (e *Engine) Maintain(ctx context.Context, task, sessionID string) (any, error) {
	switch task {
	case TaskConsolidatePending:
		if e.pipeline == nil {
			return nil, fmt.Errorf("no extractor configured, consolidation unavailable")
		}
		return e.pipeline.RunPending(ctx, maintainSessionBatch)

	case TaskApplyDecay:
		return e.decayPass.Run(ctx)

	case TaskEnrichEntities:
		if e.pipeline == nil {
			return nil, fmt.Errorf("no extractor configured, enrichment unavailable")
		}
		return e.pipeline.EnrichEntities(ctx, 0, 0)

	case TaskInferCausalLinks:
		if e.pipeline == nil {
			return nil, fmt.Errorf("no extractor configured, causal inference unavailable")
		}
		if sessionID == "" {
			return nil, fmt.Errorf("infer-causal-links requires a session id")
		}
		return e.pipeline.InferCausal(ctx, sessionID)
	}

	return nil, fmt.Errorf("unknown maintenance task %q", task)
}
