// Package mock provides a scriptable extract.Extractor for tests.
package mock

import (
	"context"
	"sync"

	"github.com/engramlabs/engram/pkg/extract"
)

// Extractor is a scriptable in-memory extractor. Zero value returns empty
// results for every call.
type Extractor struct {
	mu sync.Mutex

	// Candidates is returned by ExtractKnowledge.
	Candidates []extract.Candidate

	// Links is returned by InferCausalLinks.
	Links []extract.CausalLink

	// Summary is returned by Summarize.
	Summary string

	// Err, when set, is returned by every call.
	Err error

	// ExtractCalls counts ExtractKnowledge invocations.
	ExtractCalls int
}

func (m *Extractor) ExtractKnowledge(_ context.Context, _ []extract.Episode) ([]extract.Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExtractCalls++
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]extract.Candidate(nil), m.Candidates...), nil
}

func (m *Extractor) InferCausalLinks(_ context.Context, _ [][2]extract.Episode) ([]extract.CausalLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	return append([]extract.CausalLink(nil), m.Links...), nil
}

func (m *Extractor) Summarize(_ context.Context, _ string, _ []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	return m.Summary, nil
}

func (m *Extractor) Close() error {
	return nil
}

var _ extract.Extractor = (*Extractor)(nil)
