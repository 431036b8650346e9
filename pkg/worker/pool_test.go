package worker_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	testutils "github.com/engramlabs/engram/pkg/utils/test"
	"github.com/engramlabs/engram/pkg/worker"
)

func TestWorker(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Worker Suite")
}

var _ = Describe("Pool", func() {
	var (
		embedder *testutils.MockEmbedder
		driver   *testutils.MockVectorDriver
	)

	BeforeEach(func() {
		embedder = testutils.NewMockEmbedder()
		driver = testutils.NewMockVectorDriver()
	})

	newPool := func(queueSize uint) *worker.Pool {
		pool, err := worker.NewPool(&worker.Config{
			VectorDriver: driver,
			Embedder:     embedder,
			NumWorkers:   2,
			QueueSize:    queueSize,
			Logger:       zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return pool
	}

	It("requires a vector driver and an embedder", func() {
		_, err := worker.NewPool(&worker.Config{Embedder: embedder, Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())

		_, err = worker.NewPool(&worker.Config{VectorDriver: driver, Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())
	})

	It("embeds queued jobs and indexes the result", func() {
		embedder.Embeddings["remember this"] = []float32{1, 2, 3}

		pool := newPool(8)
		Expect(pool.Enqueue(worker.Job{NodeID: "node-1", Content: "remember this"})).To(BeTrue())
		pool.Close()

		docs := driver.Documents()
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].ID).To(Equal("node-1"))
		Expect(docs[0].Embedding).To(Equal([]float32{1, 2, 3}))
	})

	It("drains all in-flight jobs on close", func() {
		pool := newPool(64)
		for i := range 20 {
			Expect(pool.Enqueue(worker.Job{NodeID: string(rune('a' + i)), Content: "text"})).To(BeTrue())
		}
		pool.Close()

		Expect(driver.Documents()).To(HaveLen(20))
	})

	It("skips the index write when embedding fails", func() {
		embedder.FailOn = "unembeddable"

		pool := newPool(8)
		Expect(pool.Enqueue(worker.Job{NodeID: "node-1", Content: "unembeddable"})).To(BeTrue())
		Expect(pool.Enqueue(worker.Job{NodeID: "node-2", Content: "fine"})).To(BeTrue())
		pool.Close()

		docs := driver.Documents()
		Expect(docs).To(HaveLen(1))
		Expect(docs[0].ID).To(Equal("node-2"))
	})
})
