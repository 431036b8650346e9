package retrieval

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/knowledge"
)

func scoredItem(id, content string, score float64) Item {
	return Item{
		Node:  &knowledge.Node{ID: id, Kind: knowledge.KindSemantic, Content: content},
		Score: score,
	}
}

var _ = Describe("fitItems", func() {
	It("keeps the highest-scored items that fit", func() {
		items := []Item{
			scoredItem("low", strings.Repeat("x", 40), 0.1),
			scoredItem("high", strings.Repeat("y", 40), 0.9),
		}

		kept, used := fitItems(items, 10)
		Expect(kept).To(HaveLen(1))
		Expect(kept[0].Node.ID).To(Equal("high"))
		Expect(used).To(Equal(10))
	})

	It("clips the best item when nothing fits whole", func() {
		items := []Item{scoredItem("big", strings.Repeat("z", 400), 0.9)}

		kept, used := fitItems(items, 10)
		Expect(kept).To(HaveLen(1))
		Expect(kept[0].Node.Content).To(HaveLen(40))
		Expect(used).To(Equal(10))
	})

	It("does not mutate the caller's node when clipping", func() {
		original := scoredItem("big", strings.Repeat("z", 400), 0.9)

		_, _ = fitItems([]Item{original}, 10)
		Expect(original.Node.Content).To(HaveLen(400))
	})

	It("returns nothing for a zero budget", func() {
		kept, used := fitItems([]Item{scoredItem("a", "content", 1)}, 0)
		Expect(kept).To(BeNil())
		Expect(used).To(BeZero())
	})
})

var _ = Describe("fitEntities", func() {
	It("prefers the most mentioned entities", func() {
		entities := []*knowledge.Entity{
			{ID: "rare", CanonicalName: strings.Repeat("a", 38), MentionCount: 1},
			{ID: "common", CanonicalName: strings.Repeat("b", 38), MentionCount: 9},
		}

		kept, _ := fitEntities(entities, 10)
		Expect(kept).To(HaveLen(1))
		Expect(kept[0].ID).To(Equal("common"))
	})
})

var _ = Describe("ContextBlock", func() {
	It("reports emptiness", func() {
		block := &ContextBlock{}
		Expect(block.Empty()).To(BeTrue())

		block.Facts = []Item{scoredItem("a", "content", 1)}
		Expect(block.Empty()).To(BeFalse())
	})

	It("renders sections with headers", func() {
		block := &ContextBlock{
			Facts:    []Item{scoredItem("a", "the user prefers Go", 1)},
			Entities: []*knowledge.Entity{{CanonicalName: "Acme", Type: knowledge.EntityOrganization}},
		}

		rendered := block.Render()
		Expect(rendered).To(ContainSubstring("## Relevant knowledge"))
		Expect(rendered).To(ContainSubstring("- the user prefers Go"))
		Expect(rendered).To(ContainSubstring("## Entities"))
		Expect(rendered).To(ContainSubstring("- Acme (organization)"))
		Expect(rendered).NotTo(ContainSubstring("## Timeline"))
	})

	It("prefers the entity summary when present", func() {
		block := &ContextBlock{
			Entities: []*knowledge.Entity{{CanonicalName: "Acme", Summary: "a customer"}},
		}
		Expect(block.Render()).To(ContainSubstring("- Acme: a customer"))
	})
})

var _ = Describe("extractMentionTerms", func() {
	It("pulls quoted phrases and capitalized words", func() {
		terms := extractMentionTerms(`what do we know about "billing service" and Acme`)
		Expect(terms).To(ContainElement("billing service"))
		Expect(terms).To(ContainElement("Acme"))
	})

	It("ignores the leading word's capitalization", func() {
		terms := extractMentionTerms("Tell me about the weather")
		Expect(terms).NotTo(ContainElement("Tell"))
	})

	It("dedupes repeated terms", func() {
		terms := extractMentionTerms("is Acme bigger than Acme")
		Expect(terms).To(Equal([]string{"Acme"}))
	})
})
