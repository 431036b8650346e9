package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/engramlabs/engram/pkg/knowledge"
)

// Budget shares per section, in percent of the total token budget.
const (
	factsShare    = 40
	entitiesShare = 25
	temporalShare = 25
	evidenceShare = 10
)

// Item is one scored node in a context block.
type Item struct {
	Node  *knowledge.Node `json:"node"`
	Score float64         `json:"score"`
}

// ContextBlock is the assembled, token-budgeted memory context injected
// before an agent turn.
type ContextBlock struct {
	Facts    []Item              `json:"facts,omitempty"`
	Entities []*knowledge.Entity `json:"entities,omitempty"`
	Temporal []Item              `json:"temporal,omitempty"`
	Evidence []Item              `json:"evidence,omitempty"`

	Intent     Intent `json:"intent"`
	TokensUsed int    `json:"tokens_used"`
}

// Empty reports whether the block carries no content at all.
func (b *ContextBlock) Empty() bool {
	return len(b.Facts) == 0 && len(b.Entities) == 0 &&
		len(b.Temporal) == 0 && len(b.Evidence) == 0
}

// NodeIDs returns every node id referenced by the block, used for access
// reinforcement.
func (b *ContextBlock) NodeIDs() []string {
	var ids []string
	for _, section := range [][]Item{b.Facts, b.Temporal, b.Evidence} {
		for _, item := range section {
			ids = append(ids, item.Node.ID)
		}
	}
	return ids
}

// Render formats the block as a text blob for prompt injection.
func (b *ContextBlock) Render() string {
	var sb strings.Builder

	writeItems := func(header string, items []Item) {
		if len(items) == 0 {
			return
		}
		sb.WriteString(header + "\n")
		for _, item := range items {
			sb.WriteString("- " + item.Node.Content + "\n")
		}
	}

	writeItems("## Relevant knowledge", b.Facts)

	if len(b.Entities) > 0 {
		sb.WriteString("## Entities\n")
		for _, e := range b.Entities {
			if e.Summary != "" {
				fmt.Fprintf(&sb, "- %s: %s\n", e.CanonicalName, e.Summary)
			} else {
				fmt.Fprintf(&sb, "- %s (%s)\n", e.CanonicalName, e.Type)
			}
		}
	}

	writeItems("## Timeline", b.Temporal)
	writeItems("## Supporting episodes", b.Evidence)

	return sb.String()
}

// estimateTokens approximates token count from byte length. Four bytes per
// token is the usual English-text rule of thumb; the budget is a soft target,
// not a hard wire-format limit.
func estimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// fitItems keeps the highest-scored items that fit in budget tokens,
// truncating lowest-scored first. When even the best item does not fit, it is
// kept with its content clipped so the caller always gets something.
func fitItems(items []Item, budget int) ([]Item, int) {
	if budget <= 0 || len(items) == 0 {
		return nil, 0
	}

	sorted := append([]Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	var kept []Item
	used := 0
	for _, item := range sorted {
		cost := estimateTokens(item.Node.Content)
		if used+cost > budget {
			continue
		}
		kept = append(kept, item)
		used += cost
	}

	if len(kept) == 0 {
		// Resource exhaustion: clip the best item rather than failing.
		top := sorted[0]
		clipped := *top.Node
		maxBytes := budget * 4
		if len(clipped.Content) > maxBytes {
			clipped.Content = clipped.Content[:maxBytes]
		}
		top.Node = &clipped
		return []Item{top}, estimateTokens(clipped.Content)
	}

	return kept, used
}

// fitEntities keeps the most-mentioned entities whose rendered profile fits.
func fitEntities(entities []*knowledge.Entity, budget int) ([]*knowledge.Entity, int) {
	if budget <= 0 || len(entities) == 0 {
		return nil, 0
	}

	sorted := append([]*knowledge.Entity(nil), entities...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MentionCount > sorted[j].MentionCount
	})

	var kept []*knowledge.Entity
	used := 0
	for _, e := range sorted {
		cost := estimateTokens(e.CanonicalName + e.Summary)
		if used+cost > budget {
			continue
		}
		kept = append(kept, e)
		used += cost
	}

	return kept, used
}
