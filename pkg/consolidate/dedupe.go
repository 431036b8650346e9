package consolidate

import (
	"strings"

	"github.com/engramlabs/engram/pkg/extract"
)

// dedupeBatch removes exact duplicates within a freshly extracted batch,
// keeping the first occurrence. Comparison is on normalized content; kind is
// ignored so the same sentence extracted twice under different kinds still
// collapses to one fact.
func dedupeBatch(candidates []extract.Candidate) (kept []extract.Candidate, dropped int) {
	seen := make(map[string]bool, len(candidates))

	for _, cand := range candidates {
		key := normalizeContent(cand.Content)
		if key == "" || seen[key] {
			dropped++
			continue
		}
		seen[key] = true
		kept = append(kept, cand)
	}

	return kept, dropped
}

func normalizeContent(content string) string {
	return strings.Join(strings.Fields(strings.ToLower(content)), " ")
}

// tokenize lowercases and splits content into a word set for Jaccard
// comparison. Punctuation hanging off words is trimmed so "deploys." and
// "deploys" compare equal.
func tokenize(content string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(strings.ToLower(content)) {
		word := strings.Trim(field, `.,;:!?'"()[]`)
		if word != "" {
			tokens[word] = true
		}
	}
	return tokens
}

// jaccard is |a ∩ b| / |a ∪ b| over word sets. Two empty sets are identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
