package consolidate

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/extract"
)

var _ = Describe("dedupeBatch", func() {
	It("keeps the first occurrence of duplicated content", func() {
		kept, dropped := dedupeBatch([]extract.Candidate{
			{Kind: "semantic", Content: "The user prefers Go", Confidence: 0.9},
			{Kind: "opinion", Content: "the user  prefers go", Confidence: 0.5},
			{Kind: "semantic", Content: "The project ships monthly", Confidence: 0.8},
		})

		Expect(dropped).To(Equal(1))
		Expect(kept).To(HaveLen(2))
		Expect(kept[0].Confidence).To(Equal(0.9))
		Expect(kept[1].Content).To(Equal("The project ships monthly"))
	})

	It("drops empty candidates", func() {
		kept, dropped := dedupeBatch([]extract.Candidate{
			{Kind: "semantic", Content: "   "},
			{Kind: "semantic", Content: "real content"},
		})

		Expect(dropped).To(Equal(1))
		Expect(kept).To(HaveLen(1))
	})

	It("passes a clean batch through unchanged", func() {
		kept, dropped := dedupeBatch([]extract.Candidate{
			{Kind: "semantic", Content: "one"},
			{Kind: "semantic", Content: "two"},
		})

		Expect(dropped).To(BeZero())
		Expect(kept).To(HaveLen(2))
	})
})

var _ = Describe("jaccard", func() {
	It("returns 1 for identical content", func() {
		a := tokenize("the deploy failed on friday")
		Expect(jaccard(a, a)).To(Equal(1.0))
	})

	It("returns 0 for disjoint content", func() {
		a := tokenize("alpha beta gamma")
		b := tokenize("delta epsilon zeta")
		Expect(jaccard(a, b)).To(BeZero())
	})

	It("ignores case and trailing punctuation", func() {
		a := tokenize("The service deploys.")
		b := tokenize("the service deploys")
		Expect(jaccard(a, b)).To(Equal(1.0))
	})

	It("treats two empty sets as identical", func() {
		Expect(jaccard(tokenize(""), tokenize("!!!"))).To(Equal(1.0))
	})

	It("scores partial overlap between 0 and 1", func() {
		a := tokenize("the deploy failed because of missing credentials")
		b := tokenize("the deploy failed because of expired certificates")
		sim := jaccard(a, b)
		Expect(sim).To(BeNumerically(">", 0.4))
		Expect(sim).To(BeNumerically("<", 0.75))
	})
})

var _ = Describe("DecayRateForKind", func() {
	It("orders opinion > semantic > procedural > episodic", func() {
		opinion := DecayRateForKind("opinion")
		semantic := DecayRateForKind("semantic")
		procedural := DecayRateForKind("procedural")
		episodic := DecayRateForKind("episodic")

		Expect(opinion).To(BeNumerically(">", semantic))
		Expect(semantic).To(BeNumerically(">", procedural))
		Expect(procedural).To(BeNumerically(">", 0))
		Expect(episodic).To(BeZero())
	})
})
