// Package retrieval implements the intent-aware, multi-strategy retrieval
// pipeline: classification, full-text/vector/graph search, reciprocal rank
// fusion, and token-budgeted context assembly.
package retrieval

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/engramlabs/engram/pkg/embeddings"
)

// Intent selects the graph strategy for a query.
type Intent string

const (
	// IntentWhy asks for causes; answered by causal traversal.
	IntentWhy Intent = "why"

	// IntentWhen asks about time; answered by a temporal chain walk.
	IntentWhen Intent = "when"

	// IntentWhoWhat asks about a referent; answered by entity lookup.
	IntentWhoWhat Intent = "who_what"

	// IntentGeneral uses no graph strategy.
	IntentGeneral Intent = "general"
)

// Classifier maps a query to an intent. Implementations must be swappable;
// the keyword classifier is the mandatory fallback so retrieval degrades
// gracefully when no embedder is available.
type Classifier interface {
	Classify(ctx context.Context, query string) (Intent, error)
}

var (
	whyPattern  = regexp.MustCompile(`(?i)\b(why|because|reason|cause[ds]?|how come|what (made|led))\b`)
	whenPattern = regexp.MustCompile(`(?i)\b(when|what time|what day|how long ago|before|after|yesterday|last (week|month|year)|recently|earlier)\b`)
	whoPattern  = regexp.MustCompile(`(?i)\b(who|whose|whom|what is|what's|tell me about|describe|profile)\b`)
)

// KeywordClassifier is the deterministic fallback classifier.
type KeywordClassifier struct{}

// Classify applies keyword patterns in priority order: why beats when beats
// who/what, since "why did X happen last week" is primarily causal.
func (KeywordClassifier) Classify(_ context.Context, query string) (Intent, error) {
	switch {
	case whyPattern.MatchString(query):
		return IntentWhy, nil
	case whenPattern.MatchString(query):
		return IntentWhen, nil
	case whoPattern.MatchString(query):
		return IntentWhoWhat, nil
	}
	return IntentGeneral, nil
}

// exemplars are labeled examples for embedding-similarity classification.
var exemplars = []struct {
	text   string
	intent Intent
}{
	{"why did that happen", IntentWhy},
	{"what was the reason for the outage", IntentWhy},
	{"what caused the user to switch tools", IntentWhy},
	{"when did we last discuss this", IntentWhen},
	{"what happened before the deploy", IntentWhen},
	{"how long ago was the decision made", IntentWhen},
	{"who is the project lead", IntentWhoWhat},
	{"tell me about the billing service", IntentWhoWhat},
	{"what do we know about acme corp", IntentWhoWhat},
	{"summarize our preferences", IntentGeneral},
	{"anything relevant to this task", IntentGeneral},
}

// ExemplarClassifier classifies by cosine similarity against labeled
// exemplars. Exemplar embeddings are computed once and cached for the process
// lifetime; Invalidate drops the cache if exemplars ever change.
type ExemplarClassifier struct {
	embedder embeddings.Embedder
	fallback Classifier

	mu     sync.Mutex
	cached [][]float32
}

// NewExemplarClassifier creates a classifier backed by an embedder, with the
// keyword classifier as its failure fallback.
func NewExemplarClassifier(embedder embeddings.Embedder) *ExemplarClassifier {
	return &ExemplarClassifier{
		embedder: embedder,
		fallback: KeywordClassifier{},
	}
}

// Invalidate drops the cached exemplar embeddings.
func (c *ExemplarClassifier) Invalidate() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

func (c *ExemplarClassifier) exemplarEmbeddings(ctx context.Context) ([][]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil {
		return c.cached, nil
	}

	texts := make([]string, len(exemplars))
	for i, ex := range exemplars {
		texts[i] = ex.text
	}

	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	c.cached = vecs
	return vecs, nil
}

// Classify embeds the query and picks the nearest exemplar's intent. Any
// embedding failure falls back to the keyword classifier.
func (c *ExemplarClassifier) Classify(ctx context.Context, query string) (Intent, error) {
	vecs, err := c.exemplarEmbeddings(ctx)
	if err != nil {
		return c.fallback.Classify(ctx, query)
	}

	queryVec, err := c.embedder.Embed(ctx, query)
	if err != nil {
		return c.fallback.Classify(ctx, query)
	}

	best := -1
	bestSim := float32(-1)
	for i, v := range vecs {
		if sim := cosineSimilarity(queryVec, v); sim > bestSim {
			bestSim = sim
			best = i
		}
	}
	if best < 0 {
		return c.fallback.Classify(ctx, query)
	}

	return exemplars[best].intent, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Complexity picks adaptive retrieval parameters.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityComplex
)

var complexMarkers = regexp.MustCompile(`(?i)\b(why|how|explain|compare|relationship|history|everything|all|summarize)\b`)

// ClassifyComplexity is a cheap heuristic: long or analytical queries get a
// deeper, wider search.
func ClassifyComplexity(query string) Complexity {
	if len(strings.Fields(query)) > 8 || complexMarkers.MatchString(query) {
		return ComplexityComplex
	}
	return ComplexitySimple
}

// Params returns graph depth and result limit for the complexity class.
func (c Complexity) Params() (depth, limit int) {
	if c == ComplexityComplex {
		return 4, 20
	}
	return 2, 5
}

// extractMentionTerms pulls likely entity names out of a query for the
// who/what strategy: quoted phrases first, then capitalized mid-sentence
// words.
func extractMentionTerms(query string) []string {
	var terms []string

	for _, m := range regexp.MustCompile(`"([^"]+)"`).FindAllStringSubmatch(query, -1) {
		terms = append(terms, m[1])
	}

	words := strings.Fields(query)
	for i, w := range words {
		trimmed := strings.Trim(w, `.,!?'"`)
		if trimmed == "" || i == 0 {
			continue
		}
		if r := rune(trimmed[0]); r >= 'A' && r <= 'Z' {
			terms = append(terms, trimmed)
		}
	}

	sort.Strings(terms)
	return dedupeStrings(terms)
}

func dedupeStrings(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
