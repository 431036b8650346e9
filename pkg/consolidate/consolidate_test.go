package consolidate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/consolidate"
	"github.com/engramlabs/engram/pkg/extract"
	"github.com/engramlabs/engram/pkg/extract/mock"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/storage"
	"github.com/engramlabs/engram/pkg/storage/sqlite"
)

func TestConsolidate(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Consolidate Suite")
}

var _ = Describe("Pipeline", func() {
	var (
		store     *sqlite.Store
		extractor *mock.Extractor
		pipeline  *consolidate.Pipeline
		ctx       context.Context
	)

	// seedSession records a session with the given dialogue turns and returns
	// the episode ids in order.
	seedSession := func(sessionID string, turns ...string) []string {
		_, err := store.ObserveSession(ctx, sessionID, time.Now().UTC())
		Expect(err).NotTo(HaveOccurred())

		base := time.Now().UTC()
		ids := make([]string, 0, len(turns))
		for i, content := range turns {
			at := base.Add(time.Duration(i) * time.Minute)
			node := &knowledge.Node{
				ID:         uuid.NewString(),
				Kind:       knowledge.KindEpisodic,
				Content:    content,
				EventTime:  at,
				CreatedAt:  at,
				ValidFrom:  at,
				Confidence: 1,
				Provenance: knowledge.Provenance{
					SourceKind: "dialogue",
					SourceRole: "user",
					SessionID:  sessionID,
				},
			}
			Expect(store.CreateNode(ctx, node)).To(Succeed())
			ids = append(ids, node.ID)
		}
		return ids
	}

	// seedFact stores an already-consolidated fact for dedup and conflict
	// scenarios.
	seedFact := func(kind knowledge.Kind, content string) *knowledge.Node {
		now := time.Now().UTC()
		node := &knowledge.Node{
			ID:         uuid.NewString(),
			Kind:       kind,
			Content:    content,
			EventTime:  now,
			CreatedAt:  now,
			ValidFrom:  now,
			Confidence: 0.9,
			DecayRate:  consolidate.DecayRateForKind(kind),
		}
		Expect(store.CreateNode(ctx, node)).To(Succeed())
		return node
	}

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		store, err = sqlite.Open(":memory:", zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		extractor = &mock.Extractor{}
		pipeline, err = consolidate.NewPipeline(consolidate.Config{
			Store:     store,
			Extractor: extractor,
			Logger:    zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		store.Close()
	})

	Describe("Run", func() {
		It("persists extracted facts with provenance and entity links", func() {
			episodeIDs := seedSession("sess-1",
				"I moved the billing service to kubernetes last week",
				"it has been much more stable since")

			extractor.Candidates = []extract.Candidate{{
				Kind:             knowledge.KindSemantic,
				Content:          "the billing service runs on kubernetes",
				Confidence:       0.9,
				Mentions:         []knowledge.Mention{{Name: "billing service", Type: knowledge.EntityTool}},
				SourceEpisodeIDs: episodeIDs,
			}}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(BeFalse())
			Expect(result.EpisodesRead).To(Equal(2))
			Expect(result.FactsCreated).To(Equal(1))
			Expect(result.EntitiesLinked).To(Equal(1))

			facts, err := store.SearchFulltext(ctx, "billing kubernetes",
				storage.Filters{Kinds: []knowledge.Kind{knowledge.KindSemantic}}, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(facts).To(HaveLen(1))

			fact := facts[0]
			Expect(fact.Provenance.SourceKind).To(Equal("extraction"))
			Expect(fact.Provenance.SessionID).To(Equal("sess-1"))
			Expect(fact.DecayRate).To(Equal(consolidate.DecayRateForKind(knowledge.KindSemantic)))

			edges, err := store.Edges(ctx, fact.ID, knowledge.RelationDerivedFrom, storage.DirectionOut)
			Expect(err).NotTo(HaveOccurred())
			Expect(edges).To(HaveLen(2))

			entities, err := store.NodeEntities(ctx, fact.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(entities).To(HaveLen(1))
			Expect(entities[0].CanonicalName).To(Equal("billing service"))

			sess, err := store.GetSession(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Pending()).To(BeFalse())
		})

		It("is a no-op on an already consolidated session", func() {
			seedSession("sess-1", "hello there")

			_, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(extractor.ExtractCalls).To(Equal(1))

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Skipped).To(BeTrue())
			Expect(extractor.ExtractCalls).To(Equal(1))
		})

		It("leaves the session pending when extraction fails", func() {
			seedSession("sess-1", "some dialogue")
			extractor.Err = errors.New("model unavailable")

			_, err := pipeline.Run(ctx, "sess-1")
			Expect(err).To(HaveOccurred())

			sess, err := store.GetSession(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Pending()).To(BeTrue())
		})

		It("fails for a session the ledger never saw", func() {
			_, err := pipeline.Run(ctx, "ghost")
			Expect(err).To(MatchError(storage.ErrNotFound))
		})

		It("collapses exact duplicates within the extracted batch", func() {
			seedSession("sess-1", "the user said the same thing twice")

			extractor.Candidates = []extract.Candidate{
				{Kind: knowledge.KindSemantic, Content: "the user works remotely", Confidence: 0.9},
				{Kind: knowledge.KindSemantic, Content: "The user works  remotely", Confidence: 0.7},
			}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FactsCreated).To(Equal(1))
			Expect(result.Duplicates).To(Equal(1))
		})

		It("drops candidates that near-duplicate a stored fact", func() {
			stored := seedFact(knowledge.KindSemantic, "the user prefers dark mode in the editor")
			seedSession("sess-1", "as I said, dark mode")

			extractor.Candidates = []extract.Candidate{{
				Kind:       knowledge.KindSemantic,
				Content:    "the user prefers dark mode in the editor always",
				Confidence: 0.8,
			}}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FactsCreated).To(BeZero())
			Expect(result.Duplicates).To(Equal(1))

			got, err := store.GetNode(ctx, stored.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Active()).To(BeTrue())
		})

		It("supersedes a stored fact the new one contradicts", func() {
			stored := seedFact(knowledge.KindSemantic, "the deploy failed because of missing credentials")
			seedSession("sess-1", "turns out the certificates had expired")

			extractor.Candidates = []extract.Candidate{{
				Kind:       knowledge.KindSemantic,
				Content:    "the deploy failed because of expired certificates",
				Confidence: 0.9,
			}}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FactsCreated).To(Equal(1))
			Expect(result.ConflictsResolved).To(Equal(1))

			old, err := store.GetNode(ctx, stored.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(old.Active()).To(BeFalse())

			in, err := store.Edges(ctx, stored.ID, knowledge.RelationSupersedes, storage.DirectionIn)
			Expect(err).NotTo(HaveOccurred())
			Expect(in).To(HaveLen(1))
			Expect(in[0].Predicate).To(Equal("consolidation conflict"))

			winner, err := store.GetNode(ctx, in[0].SourceID)
			Expect(err).NotTo(HaveOccurred())
			Expect(winner.Content).To(Equal("the deploy failed because of expired certificates"))
		})

		It("keeps the fact when the extractor invents a source episode", func() {
			seedSession("sess-1", "real dialogue")

			extractor.Candidates = []extract.Candidate{{
				Kind:             knowledge.KindSemantic,
				Content:          "a fact with bogus provenance",
				Confidence:       0.8,
				SourceEpisodeIDs: []string{"invented-episode"},
			}}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FactsCreated).To(Equal(1))
		})

		It("drops episodic and malformed candidates", func() {
			seedSession("sess-1", "dialogue")

			extractor.Candidates = []extract.Candidate{
				{Kind: knowledge.KindEpisodic, Content: "extractors cannot write dialogue"},
				{Kind: "nonsense", Content: "bad kind"},
				{Kind: knowledge.KindSemantic, Content: ""},
			}

			result, err := pipeline.Run(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.FactsCreated).To(BeZero())
		})

		It("consolidates an empty session without extraction", func() {
			_, err := store.ObserveSession(ctx, "empty", time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())

			result, err := pipeline.Run(ctx, "empty")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EpisodesRead).To(BeZero())
			Expect(extractor.ExtractCalls).To(BeZero())

			sess, err := store.GetSession(ctx, "empty")
			Expect(err).NotTo(HaveOccurred())
			Expect(sess.Pending()).To(BeFalse())
		})
	})

	Describe("RunPending", func() {
		It("consolidates every pending session and skips failures", func() {
			seedSession("good-1", "first session dialogue")
			seedSession("good-2", "second session dialogue")

			results, err := pipeline.RunPending(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))

			pending, err := store.PendingSessions(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(pending).To(BeEmpty())
		})
	})

	Describe("InferCausal", func() {
		It("records inferred links as causal edges", func() {
			ids := seedSession("sess-1",
				"the database migration ran",
				"queries got slower",
				"we added an index")

			extractor.Links = []extract.CausalLink{
				{CauseID: ids[0], EffectID: ids[1], Confidence: 0.8},
			}

			result, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.PairsChecked).To(Equal(2))
			Expect(result.EdgesCreated).To(Equal(1))

			edges, err := store.Edges(ctx, ids[0], knowledge.RelationCausal, storage.DirectionOut)
			Expect(err).NotTo(HaveOccurred())
			Expect(edges).To(HaveLen(1))
			Expect(edges[0].TargetID).To(Equal(ids[1]))
			Expect(edges[0].Confidence).To(BeNumerically("~", 0.8, 1e-9))
			Expect(edges[0].Evidence).To(Equal([]string{ids[0], ids[1]}))
		})

		It("does not duplicate an existing causal edge on re-run", func() {
			ids := seedSession("sess-1", "cause turn", "effect turn")
			extractor.Links = []extract.CausalLink{
				{CauseID: ids[0], EffectID: ids[1], Confidence: 0.8},
			}

			first, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.EdgesCreated).To(Equal(1))

			second, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.EdgesCreated).To(BeZero())
		})

		It("drops links referencing episodes outside the session", func() {
			ids := seedSession("sess-1", "one", "two")
			extractor.Links = []extract.CausalLink{
				{CauseID: ids[0], EffectID: "some-other-node", Confidence: 0.9},
				{CauseID: ids[0], EffectID: ids[0], Confidence: 0.9},
			}

			result, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EdgesCreated).To(BeZero())
		})

		It("assigns the default confidence when the extractor offers none", func() {
			ids := seedSession("sess-1", "one", "two")
			extractor.Links = []extract.CausalLink{
				{CauseID: ids[0], EffectID: ids[1]},
			}

			_, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())

			edges, err := store.Edges(ctx, ids[0], knowledge.RelationCausal, storage.DirectionOut)
			Expect(err).NotTo(HaveOccurred())
			Expect(edges[0].Confidence).To(Equal(consolidate.DefaultCausalConfidence))
		})

		It("does nothing for a session with fewer than two episodes", func() {
			seedSession("sess-1", "only turn")

			result, err := pipeline.InferCausal(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.PairsChecked).To(BeZero())
		})
	})

	Describe("EnrichEntities", func() {
		It("summarizes frequently mentioned entities", func() {
			var entity *knowledge.Entity
			for range 5 {
				var err error
				entity, err = store.ResolveOrCreateEntity(ctx, knowledge.Mention{
					Name: "Acme Corp", Type: knowledge.EntityOrganization,
				})
				Expect(err).NotTo(HaveOccurred())
			}

			fact := seedFact(knowledge.KindSemantic, "acme corp renewed their contract")
			Expect(store.LinkNodeEntity(ctx, fact.ID, entity.ID)).To(Succeed())

			extractor.Summary = "Acme Corp is a long-standing customer."

			result, err := pipeline.EnrichEntities(ctx, 5, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EntitiesExamined).To(Equal(1))
			Expect(result.SummariesGenerated).To(Equal(1))

			got, err := store.GetEntity(ctx, entity.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Summary).To(Equal("Acme Corp is a long-standing customer."))
		})

		It("skips entities below the mention floor", func() {
			_, err := store.ResolveOrCreateEntity(ctx, knowledge.Mention{Name: "rarely seen"})
			Expect(err).NotTo(HaveOccurred())

			result, err := pipeline.EnrichEntities(ctx, 5, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.EntitiesExamined).To(BeZero())
		})

		It("leaves the entity for the next pass when summarization fails", func() {
			var entity *knowledge.Entity
			for range 5 {
				var err error
				entity, err = store.ResolveOrCreateEntity(ctx, knowledge.Mention{Name: "Flaky Inc"})
				Expect(err).NotTo(HaveOccurred())
			}
			fact := seedFact(knowledge.KindSemantic, "flaky inc keeps timing out")
			Expect(store.LinkNodeEntity(ctx, fact.ID, entity.ID)).To(Succeed())

			extractor.Err = errors.New("summarizer down")

			result, err := pipeline.EnrichEntities(ctx, 5, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.SummariesGenerated).To(BeZero())

			got, err := store.GetEntity(ctx, entity.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Summary).To(BeEmpty())
		})
	})
})
