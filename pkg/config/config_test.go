package config_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/engramlabs/engram/pkg/config"
)

func TestConfig(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Config Suite")
}

var _ = Describe("Configer config", func() {
	var tmpDir string

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "config-test-*")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Describe("LoadConfig", func() {
		It("returns default config when no config file exists", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).NotTo(BeNil())

			defaults := config.NewDefaultConfig()
			Expect(cfg.Version).To(Equal(defaults.Version))
			Expect(cfg.API.Listen).To(Equal(defaults.API.Listen))
			Expect(cfg.Retrieval.RRFK).To(Equal(defaults.Retrieval.RRFK))
			Expect(cfg.Retrieval.TimeoutMS).To(Equal(defaults.Retrieval.TimeoutMS))
			Expect(cfg.Decay.EvictionThreshold).To(Equal(defaults.Decay.EvictionThreshold))
			Expect(cfg.Consolidation.JaccardThreshold).To(Equal(defaults.Consolidation.JaccardThreshold))
			Expect(cfg.Embedding.Provider).To(Equal(defaults.Embedding.Provider))
			Expect(cfg.Embedding.Target).To(Equal(defaults.Embedding.Target))
			Expect(cfg.Embedding.Model).To(Equal(defaults.Embedding.Model))
			Expect(cfg.Embedding.Dimensions).To(Equal(defaults.Embedding.Dimensions))
			Expect(cfg.Extraction.Provider).To(Equal(defaults.Extraction.Provider))
			Expect(cfg.Events.Provider).To(Equal(defaults.Events.Provider))
			Expect(cfg.Worker.Count).To(Equal(defaults.Worker.Count))
		})

		It("defaults storage paths into the resolved directory", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.SQLitePath).To(Equal(filepath.Join(c.GetTargetDir(), "engram.db")))
			Expect(cfg.Storage.VectorPath).To(Equal(filepath.Join(c.GetTargetDir(), "vectors.db")))
		})

		It("loads a valid config file", func() {
			data := `version = 0

[api]
listen = ":9090"

[embedding]
dimensions = 1024
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg).NotTo(BeNil())
			Expect(cfg.Version).To(Equal(0))
			Expect(cfg.API.Listen).To(Equal(":9090"))
			Expect(cfg.Embedding.Dimensions).To(Equal(uint(1024)))
		})

		It("loads all config fields", func() {
			data := `version = 0

[storage]
sqlite_path = "/tmp/engram.sqlite"
vector_path = "/tmp/engram-vectors.db"

[api]
listen = ":9091"

[retrieval]
rrf_k = 90
weight_fulltext = 1.5
weight_vector = 0.5
weight_graph = 2
timeout_ms = 500

[decay]
eviction_threshold = 0.1

[consolidation]
jaccard_threshold = 0.8

[embedding]
provider = "ollama"
target = "http://localhost:11434"
model = "nomic-embed-text"
dimensions = 1024

[extraction]
provider = "ollama"
target = "http://localhost:11434"
model = "llama3.2"

[events]
provider = "kafka"
brokers = "localhost:9092"
topic = "memory.sessions"

[worker]
count = 8
queue_size = 1024
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(cfg.Storage.SQLitePath).To(Equal("/tmp/engram.sqlite"))
			Expect(cfg.Storage.VectorPath).To(Equal("/tmp/engram-vectors.db"))
			Expect(cfg.API.Listen).To(Equal(":9091"))
			Expect(cfg.Retrieval.RRFK).To(Equal(90.0))
			Expect(cfg.Retrieval.WeightFulltext).To(Equal(1.5))
			Expect(cfg.Retrieval.WeightVector).To(Equal(0.5))
			Expect(cfg.Retrieval.WeightGraph).To(Equal(2.0))
			Expect(cfg.Retrieval.TimeoutMS).To(Equal(uint(500)))
			Expect(cfg.Decay.EvictionThreshold).To(Equal(0.1))
			Expect(cfg.Consolidation.JaccardThreshold).To(Equal(0.8))
			Expect(cfg.Extraction.Model).To(Equal("llama3.2"))
			Expect(cfg.Events.Provider).To(Equal("kafka"))
			Expect(cfg.Events.Brokers).To(Equal("localhost:9092"))
			Expect(cfg.Events.Topic).To(Equal("memory.sessions"))
			Expect(cfg.Worker.Count).To(Equal(uint(8)))
			Expect(cfg.Worker.QueueSize).To(Equal(uint(1024)))
		})

		It("fills unset fields with defaults", func() {
			data := `version = 0

[api]
listen = ":7000"
`
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(data), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())

			defaults := config.NewDefaultConfig()
			Expect(cfg.API.Listen).To(Equal(":7000"))
			Expect(cfg.Retrieval.RRFK).To(Equal(defaults.Retrieval.RRFK))
			Expect(cfg.Embedding.Model).To(Equal(defaults.Embedding.Model))
		})

		It("rejects malformed TOML", func() {
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("version = [[["), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
		})

		It("rejects an unsupported version", func() {
			err := os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("version = 7"), 0o600)
			Expect(err).NotTo(HaveOccurred())

			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			_, err = c.LoadConfig()
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("unsupported config version"))
		})
	})

	Describe("SaveConfig", func() {
		It("round-trips a config through disk", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())

			cfg := config.NewDefaultConfig()
			cfg.API.Listen = ":6000"
			Expect(c.SaveConfig(cfg)).To(Succeed())

			loaded, err := c.LoadConfig()
			Expect(err).NotTo(HaveOccurred())
			Expect(loaded.API.Listen).To(Equal(":6000"))
		})

		It("refuses a nil config", func() {
			c, err := config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
			Expect(c.SaveConfig(nil)).To(HaveOccurred())
		})
	})

	Describe("SetConfigValue and GetConfigValue", func() {
		var c *config.Configer

		BeforeEach(func() {
			var err error
			c, err = config.NewConfiger(tmpDir)
			Expect(err).NotTo(HaveOccurred())
		})

		It("round-trips a string key", func() {
			Expect(c.SetConfigValue("embedding.model", "all-minilm")).To(Succeed())

			got, err := c.GetConfigValue("embedding.model")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("all-minilm"))
		})

		It("round-trips a float key", func() {
			Expect(c.SetConfigValue("retrieval.rrf_k", "90")).To(Succeed())

			got, err := c.GetConfigValue("retrieval.rrf_k")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("90"))
		})

		It("round-trips a uint key", func() {
			Expect(c.SetConfigValue("worker.count", "8")).To(Succeed())

			got, err := c.GetConfigValue("worker.count")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal("8"))
		})

		It("rejects an unknown key", func() {
			Expect(c.SetConfigValue("bogus.key", "value")).To(HaveOccurred())

			_, err := c.GetConfigValue("bogus.key")
			Expect(err).To(HaveOccurred())
		})

		It("rejects a non-numeric value for a float key", func() {
			Expect(c.SetConfigValue("retrieval.rrf_k", "sixty")).To(HaveOccurred())
		})

		It("rejects a negative value for a uint key", func() {
			Expect(c.SetConfigValue("worker.count", "-1")).To(HaveOccurred())
		})
	})

	Describe("key validation", func() {
		It("knows its valid keys", func() {
			Expect(config.IsValidConfigKey("api.listen")).To(BeTrue())
			Expect(config.IsValidConfigKey("storage.sqlite_path")).To(BeTrue())
			Expect(config.IsValidConfigKey("nope")).To(BeFalse())
		})

		It("lists keys sorted", func() {
			keys := config.ValidConfigKeys()
			Expect(keys).To(ContainElement("retrieval.rrf_k"))
			for i := 1; i < len(keys); i++ {
				Expect(keys[i] > keys[i-1]).To(BeTrue())
			}
		})
	})
})
