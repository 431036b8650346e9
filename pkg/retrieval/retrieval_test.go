package retrieval_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/storage/sqlite"
)

func TestRetrieval(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Retrieval Suite")
}

var _ = Describe("FuseRRF", func() {
	It("scores a node in every list above one in a single list", func() {
		lists := []retrieval.RankedList{
			{Name: "fulltext", Weight: 1, IDs: []string{"both", "only-ft"}},
			{Name: "vector", Weight: 1, IDs: []string{"both", "only-vec"}},
		}

		fused := retrieval.FuseRRF(60, lists)
		Expect(fused).To(HaveLen(3))
		Expect(fused[0].ID).To(Equal("both"))
	})

	It("weighs lists per configuration", func() {
		lists := []retrieval.RankedList{
			{Name: "fulltext", Weight: 0.1, IDs: []string{"ft"}},
			{Name: "graph", Weight: 10, IDs: []string{"graph"}},
		}

		fused := retrieval.FuseRRF(60, lists)
		Expect(fused[0].ID).To(Equal("graph"))
	})

	It("defaults zero weights to one", func() {
		lists := []retrieval.RankedList{
			{Name: "a", IDs: []string{"x"}},
		}

		fused := retrieval.FuseRRF(60, lists)
		Expect(fused[0].Score).To(BeNumerically("~", 1.0/61.0, 1e-9))
	})

	It("ranks earlier positions higher within a list", func() {
		lists := []retrieval.RankedList{
			{Name: "a", Weight: 1, IDs: []string{"first", "second", "third"}},
		}

		fused := retrieval.FuseRRF(60, lists)
		Expect(fused[0].ID).To(Equal("first"))
		Expect(fused[1].ID).To(Equal("second"))
		Expect(fused[2].ID).To(Equal("third"))
	})

	It("returns nothing for no lists", func() {
		Expect(retrieval.FuseRRF(60, nil)).To(BeEmpty())
	})
})

var _ = Describe("KeywordClassifier", func() {
	classify := func(query string) retrieval.Intent {
		intent, err := retrieval.KeywordClassifier{}.Classify(context.Background(), query)
		Expect(err).NotTo(HaveOccurred())
		return intent
	}

	It("detects why", func() {
		Expect(classify("why did the deploy fail")).To(Equal(retrieval.IntentWhy))
		Expect(classify("what caused the outage")).To(Equal(retrieval.IntentWhy))
	})

	It("detects when", func() {
		Expect(classify("when did we last discuss pricing")).To(Equal(retrieval.IntentWhen))
		Expect(classify("what happened before the migration")).To(Equal(retrieval.IntentWhen))
	})

	It("detects who/what", func() {
		Expect(classify("who is the project lead")).To(Equal(retrieval.IntentWhoWhat))
		Expect(classify("tell me about acme corp")).To(Equal(retrieval.IntentWhoWhat))
	})

	It("falls through to general", func() {
		Expect(classify("summarize recent activity")).To(Equal(retrieval.IntentGeneral))
	})

	It("gives why priority over when", func() {
		Expect(classify("why did that break last week")).To(Equal(retrieval.IntentWhy))
	})
})

var _ = Describe("ClassifyComplexity", func() {
	It("treats short lookups as simple", func() {
		depth, limit := retrieval.ClassifyComplexity("user timezone").Params()
		Expect(depth).To(Equal(2))
		Expect(limit).To(Equal(5))
	})

	It("treats analytical queries as complex", func() {
		depth, limit := retrieval.ClassifyComplexity("explain the relationship between the services").Params()
		Expect(depth).To(Equal(4))
		Expect(limit).To(Equal(20))
	})

	It("treats long queries as complex", func() {
		query := "what did the user say about the new billing flow during our planning call"
		Expect(retrieval.ClassifyComplexity(query)).To(Equal(retrieval.ComplexityComplex))
	})
})

var _ = Describe("Retriever", func() {
	var (
		store     *sqlite.Store
		retriever *retrieval.Retriever
		ctx       context.Context
	)

	storeNode := func(kind knowledge.Kind, content, sessionID string, eventTime time.Time) *knowledge.Node {
		node := &knowledge.Node{
			ID:         uuid.NewString(),
			Kind:       kind,
			Content:    content,
			EventTime:  eventTime,
			CreatedAt:  eventTime,
			ValidFrom:  eventTime,
			Confidence: 0.9,
			Provenance: knowledge.Provenance{SessionID: sessionID},
		}
		if kind.Decays() {
			node.DecayRate = 0.01
		}
		Expect(store.CreateNode(ctx, node)).To(Succeed())
		return node
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = sqlite.Open(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		retriever, err = retrieval.NewRetriever(retrieval.Config{
			Store:  store,
			Logger: zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
	})

	It("requires a store and a logger", func() {
		_, err := retrieval.NewRetriever(retrieval.Config{Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())

		_, err = retrieval.NewRetriever(retrieval.Config{Store: store})
		Expect(err).To(HaveOccurred())
	})

	It("returns nothing for an empty query or budget", func() {
		block, err := retriever.GetContext(ctx, "", "sess", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(BeNil())

		block, err = retriever.GetContext(ctx, "anything", "sess", 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(BeNil())
	})

	It("returns nothing when no strategy matches", func() {
		block, err := retriever.GetContext(ctx, "completely unknown topic", "sess", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(BeNil())
	})

	It("assembles facts from full-text matches", func() {
		now := time.Now().UTC()
		storeNode(knowledge.KindSemantic, "the user prefers dark mode in every editor", "old-sess", now)

		block, err := retriever.GetContext(ctx, "editor dark mode", "current-sess", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())
		Expect(block.Facts).NotTo(BeEmpty())
		Expect(block.Facts[0].Node.Content).To(ContainSubstring("dark mode"))
		Expect(block.TokensUsed).To(BeNumerically(">", 0))
	})

	It("excludes the current session's own knowledge", func() {
		now := time.Now().UTC()
		storeNode(knowledge.KindSemantic, "a fact from the current conversation", "current-sess", now)

		block, err := retriever.GetContext(ctx, "current conversation fact", "current-sess", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).To(BeNil())
	})

	It("orders temporal context by event time regardless of relevance", func() {
		base := time.Now().UTC().Add(-time.Hour)
		storeNode(knowledge.KindEpisodic, "later the deploy recovered fully", "old-sess", base.Add(30*time.Minute))
		storeNode(knowledge.KindEpisodic, "first the deploy started failing", "old-sess", base)

		block, err := retriever.GetContext(ctx, "deploy failing recovered", "current-sess", 2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())
		Expect(len(block.Temporal)).To(BeNumerically(">=", 2))

		for i := 1; i < len(block.Temporal); i++ {
			prior := block.Temporal[i-1].Node.EventTime
			Expect(block.Temporal[i].Node.EventTime.Before(prior)).To(BeFalse())
		}
	})

	It("reinforces returned knowledge", func() {
		now := time.Now().UTC()
		node := storeNode(knowledge.KindSemantic, "the staging cluster lives in frankfurt", "old-sess", now)

		block, err := retriever.GetContext(ctx, "staging cluster frankfurt", "current-sess", 1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())

		got, err := store.GetNode(ctx, node.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.AccessCount).To(Equal(1))
		Expect(got.Confidence).To(BeNumerically(">", 0.9))
	})

	It("includes linked entity profiles with facts", func() {
		now := time.Now().UTC()
		node := storeNode(knowledge.KindSemantic, "acme corp renewed the enterprise contract", "old-sess", now)

		entity, err := store.ResolveOrCreateEntity(ctx, knowledge.Mention{
			Name: "Acme Corp", Type: knowledge.EntityOrganization,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(store.LinkNodeEntity(ctx, node.ID, entity.ID)).To(Succeed())

		block, err := retriever.GetContext(ctx, "acme enterprise contract", "current-sess", 2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())
		Expect(block.Entities).To(HaveLen(1))
		Expect(block.Entities[0].CanonicalName).To(Equal("Acme Corp"))
	})

	It("surfaces supporting episodes through derived_from edges", func() {
		now := time.Now().UTC()
		fact := storeNode(knowledge.KindSemantic, "the user switched to postgres for analytics", "old-sess", now)
		episode := storeNode(knowledge.KindEpisodic, "I just migrated everything over", "old-sess", now.Add(-time.Minute))

		Expect(store.CreateEdge(ctx, &knowledge.Edge{
			ID:         uuid.NewString(),
			SourceID:   fact.ID,
			TargetID:   episode.ID,
			Relation:   knowledge.RelationDerivedFrom,
			Weight:     1,
			Confidence: 1,
			ValidFrom:  now,
			CreatedAt:  now,
		})).To(Succeed())

		block, err := retriever.GetContext(ctx, "postgres analytics", "current-sess", 2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())
		Expect(block.Evidence).To(HaveLen(1))
		Expect(block.Evidence[0].Node.ID).To(Equal(episode.ID))
	})

	It("walks causal chains for why queries", func() {
		now := time.Now().UTC()
		cause := storeNode(knowledge.KindEpisodic, "the certificate expired silently", "old-sess", now.Add(-2*time.Minute))
		effect := storeNode(knowledge.KindEpisodic, "the gateway outage began at noon", "old-sess", now.Add(-time.Minute))

		Expect(store.CreateEdge(ctx, &knowledge.Edge{
			ID:         uuid.NewString(),
			SourceID:   cause.ID,
			TargetID:   effect.ID,
			Relation:   knowledge.RelationCausal,
			Weight:     0.8,
			Confidence: 0.8,
			ValidFrom:  now,
			CreatedAt:  now,
		})).To(Succeed())

		block, err := retriever.GetContext(ctx, "why did the gateway outage happen", "current-sess", 2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(block).NotTo(BeNil())
		Expect(block.Intent).To(Equal(retrieval.IntentWhy))

		var contents []string
		for _, item := range block.Temporal {
			contents = append(contents, item.Node.Content)
		}
		Expect(contents).To(ContainElement(ContainSubstring("certificate expired")))
	})
})
