// Package extract defines the language-model-backed extraction collaborator
// used by the consolidation pipeline. Implementations are treated as slow and
// possibly failing: callers time out, degrade, and leave work for the next
// scheduled pass rather than blocking.
package extract

import (
	"context"

	"github.com/engramlabs/engram/pkg/knowledge"
)

// Candidate is a knowledge item proposed by extraction before deduplication
// and conflict resolution.
type Candidate struct {
	// Kind is semantic, procedural, or opinion. Episodic candidates are
	// rejected: raw dialogue is written by ingestion, never by extraction.
	Kind knowledge.Kind `json:"kind"`

	Content string `json:"content"`

	// Confidence is the extractor's own estimate in [0,1].
	Confidence float64 `json:"confidence"`

	// Mentions are entity references observed in the candidate.
	Mentions []knowledge.Mention `json:"mentions,omitempty"`

	// SourceEpisodeIDs are the episodes the candidate was derived from.
	SourceEpisodeIDs []string `json:"source_episode_ids,omitempty"`
}

// Episode is a raw dialogue turn handed to the extractor.
type Episode struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CausalLink is a proposed cause/effect relationship between two episodes.
type CausalLink struct {
	CauseID    string  `json:"cause_id"`
	EffectID   string  `json:"effect_id"`
	Confidence float64 `json:"confidence"`
}

// Extractor is the language-model collaborator interface.
type Extractor interface {
	// ExtractKnowledge distills candidate facts, procedures, and opinions
	// from a session's episodes.
	ExtractKnowledge(ctx context.Context, episodes []Episode) ([]Candidate, error)

	// InferCausalLinks examines consecutive episode pairs for cause/effect
	// relationships.
	InferCausalLinks(ctx context.Context, pairs [][2]Episode) ([]CausalLink, error)

	// Summarize produces a profile summary for an entity from the knowledge
	// mentioning it.
	Summarize(ctx context.Context, entityName string, mentions []string) (string, error)

	Close() error
}
