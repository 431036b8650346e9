// Package bootstrap assembles an engine from resolved configuration. The
// serve, maintain, and stats commands all build the same stack through here
// so provider selection cannot drift between commands.
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/embeddings"
	embeddingsollama "github.com/engramlabs/engram/pkg/embeddings/ollama"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/eventstream"
	eventkafka "github.com/engramlabs/engram/pkg/eventstream/kafka"
	eventnop "github.com/engramlabs/engram/pkg/eventstream/nop"
	"github.com/engramlabs/engram/pkg/extract"
	extractollama "github.com/engramlabs/engram/pkg/extract/ollama"
	"github.com/engramlabs/engram/pkg/retrieval"
	"github.com/engramlabs/engram/pkg/storage/sqlite"
	"github.com/engramlabs/engram/pkg/vector"
	"github.com/engramlabs/engram/pkg/vector/sqlitevec"
)

// ConfigFromViper materializes a Config from a viper instance initialized by
// config.InitViper, honoring the flag > env > file > default precedence.
func ConfigFromViper(v *viper.Viper) *config.Config {
	return &config.Config{
		Version: v.GetInt("version"),
		Storage: config.StorageConfig{
			SQLitePath: v.GetString("storage.sqlite_path"),
			VectorPath: v.GetString("storage.vector_path"),
		},
		API: config.APIConfig{
			Listen: v.GetString("api.listen"),
		},
		Retrieval: config.RetrievalConfig{
			RRFK:           v.GetFloat64("retrieval.rrf_k"),
			WeightFulltext: v.GetFloat64("retrieval.weight_fulltext"),
			WeightVector:   v.GetFloat64("retrieval.weight_vector"),
			WeightGraph:    v.GetFloat64("retrieval.weight_graph"),
			TimeoutMS:      v.GetUint("retrieval.timeout_ms"),
		},
		Decay: config.DecayConfig{
			EvictionThreshold: v.GetFloat64("decay.eviction_threshold"),
		},
		Consolidation: config.ConsolidationConfig{
			JaccardThreshold: v.GetFloat64("consolidation.jaccard_threshold"),
		},
		Embedding: config.EmbeddingConfig{
			Provider:   v.GetString("embedding.provider"),
			Target:     v.GetString("embedding.target"),
			Model:      v.GetString("embedding.model"),
			Dimensions: v.GetUint("embedding.dimensions"),
		},
		Extraction: config.ExtractionConfig{
			Provider: v.GetString("extraction.provider"),
			Target:   v.GetString("extraction.target"),
			Model:    v.GetString("extraction.model"),
		},
		Events: config.EventsConfig{
			Provider: v.GetString("events.provider"),
			Brokers:  v.GetString("events.brokers"),
			Topic:    v.GetString("events.topic"),
		},
		Worker: config.WorkerConfig{
			Count:     v.GetUint("worker.count"),
			QueueSize: v.GetUint("worker.queue_size"),
		},
	}
}

// Build assembles the full engine stack from configuration. The returned
// cleanup function closes every collaborator in dependency order and is safe
// to call exactly once.
func Build(cfg *config.Config, logger *zap.Logger) (*engine.Engine, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	sqlitePath := cfg.Storage.SQLitePath
	if sqlitePath == "" {
		sqlitePath = ":memory:"
	}

	store, err := sqlite.Open(sqlitePath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("opening graph store: %w", err)
	}
	closers = append(closers, func() { store.Close() })
	logger.Info("graph store opened", zap.String("path", sqlitePath))

	var embedder embeddings.Embedder
	var vectorDriver vector.Driver

	switch cfg.Embedding.Provider {
	case "", "none":
		logger.Info("no embedder configured, vector search disabled")
	case "ollama":
		embedder = embeddingsollama.NewEmbedder(embeddingsollama.Config{
			BaseURL: cfg.Embedding.Target,
			Model:   cfg.Embedding.Model,
		})
		closers = append(closers, func() { embedder.Close() })

		vectorPath := cfg.Storage.VectorPath
		if vectorPath == "" {
			vectorPath = ":memory:"
		}
		vectorDriver, err = sqlitevec.NewDriver(sqlitevec.Config{
			DBPath:     vectorPath,
			Dimensions: cfg.Embedding.Dimensions,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("opening vector index: %w", err)
		}
		closers = append(closers, func() { vectorDriver.Close() })
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}

	var extractor extract.Extractor
	switch cfg.Extraction.Provider {
	case "", "none":
		logger.Info("no extractor configured, consolidation disabled")
	case "ollama":
		extractor = extractollama.NewExtractor(extractollama.Config{
			BaseURL: cfg.Extraction.Target,
			Model:   cfg.Extraction.Model,
		})
		closers = append(closers, func() { extractor.Close() })
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown extraction provider %q", cfg.Extraction.Provider)
	}

	var publisher eventstream.Publisher
	switch cfg.Events.Provider {
	case "", "nop", "none":
		publisher = eventnop.NewPublisher()
	case "kafka":
		publisher, err = eventkafka.NewPublisher(eventkafka.Config{
			Brokers: splitBrokers(cfg.Events.Brokers),
			Topic:   cfg.Events.Topic,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connecting event publisher: %w", err)
		}
		closers = append(closers, func() { publisher.Close() })
	default:
		cleanup()
		return nil, nil, fmt.Errorf("unknown events provider %q", cfg.Events.Provider)
	}

	eng, err := engine.New(engine.Config{
		Store:            store,
		VectorDriver:     vectorDriver,
		Embedder:         embedder,
		Extractor:        extractor,
		Publisher:        publisher,
		RetrievalTimeout: time.Duration(cfg.Retrieval.TimeoutMS) * time.Millisecond,
		RRFK:             cfg.Retrieval.RRFK,
		FusionWeights: retrieval.Weights{
			Fulltext: cfg.Retrieval.WeightFulltext,
			Vector:   cfg.Retrieval.WeightVector,
			Graph:    cfg.Retrieval.WeightGraph,
		},
		EvictionThreshold: cfg.Decay.EvictionThreshold,
		JaccardThreshold:  cfg.Consolidation.JaccardThreshold,
		Workers:           cfg.Worker.Count,
		QueueSize:         cfg.Worker.QueueSize,
		Logger:            logger,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("assembling engine: %w", err)
	}
	closers = append(closers, eng.Close)

	return eng, cleanup, nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
