package knowledge_test

import (
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/knowledge"
)

func TestKnowledge(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Knowledge Suite")
}

var _ = Describe("Kind", func() {
	It("knows its members", func() {
		Expect(knowledge.KindEpisodic.Valid()).To(BeTrue())
		Expect(knowledge.KindSemantic.Valid()).To(BeTrue())
		Expect(knowledge.KindProcedural.Valid()).To(BeTrue())
		Expect(knowledge.KindOpinion.Valid()).To(BeTrue())
		Expect(knowledge.Kind("declarative").Valid()).To(BeFalse())
	})

	It("exempts only episodic from decay", func() {
		Expect(knowledge.KindEpisodic.Decays()).To(BeFalse())
		Expect(knowledge.KindSemantic.Decays()).To(BeTrue())
		Expect(knowledge.KindProcedural.Decays()).To(BeTrue())
		Expect(knowledge.KindOpinion.Decays()).To(BeTrue())
	})
})

var _ = Describe("Node", func() {
	valid := func() *knowledge.Node {
		return &knowledge.Node{
			ID:         "n1",
			Kind:       knowledge.KindSemantic,
			Content:    "a fact",
			Confidence: 0.9,
		}
	}

	It("accepts a well-formed node", func() {
		Expect(valid().Validate()).To(Succeed())
	})

	It("rejects missing id, kind, and content", func() {
		n := valid()
		n.ID = ""
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))

		n = valid()
		n.Kind = "declarative"
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))

		n = valid()
		n.Content = ""
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))
	})

	It("bounds confidence to [0,1]", func() {
		n := valid()
		n.Confidence = 1.2
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))

		n.Confidence = -0.1
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))
	})

	It("rejects a negative decay rate", func() {
		n := valid()
		n.DecayRate = -0.01
		Expect(n.Validate()).To(MatchError(knowledge.ErrInvalid))
	})

	It("is active until soft-deleted", func() {
		n := valid()
		Expect(n.Active()).To(BeTrue())

		now := time.Now().UTC()
		n.ValidUntil = &now
		Expect(n.Active()).To(BeFalse())
	})

	It("is protected at zero decay rate", func() {
		n := valid()
		Expect(n.Protected()).To(BeTrue())

		n.DecayRate = 0.01
		Expect(n.Protected()).To(BeFalse())
	})
})

var _ = Describe("Edge", func() {
	valid := func() *knowledge.Edge {
		return &knowledge.Edge{
			ID:         "e1",
			SourceID:   "a",
			TargetID:   "b",
			Relation:   knowledge.RelationTemporal,
			Confidence: 1,
		}
	}

	It("accepts a well-formed edge", func() {
		Expect(valid().Validate()).To(Succeed())
	})

	It("rejects self-edges", func() {
		e := valid()
		e.TargetID = e.SourceID
		Expect(e.Validate()).To(MatchError(knowledge.ErrInvalid))
	})

	It("rejects unknown relations", func() {
		e := valid()
		e.Relation = "implies"
		Expect(e.Validate()).To(MatchError(knowledge.ErrInvalid))
	})

	It("rejects missing endpoints", func() {
		e := valid()
		e.TargetID = ""
		Expect(e.Validate()).To(MatchError(knowledge.ErrInvalid))
	})
})

var _ = Describe("Session", func() {
	It("is pending until consolidated", func() {
		s := &knowledge.Session{ID: "sess", FirstSeen: time.Now().UTC()}
		Expect(s.Pending()).To(BeTrue())

		now := time.Now().UTC()
		s.ConsolidatedAt = &now
		Expect(s.Pending()).To(BeFalse())
	})
})
