package config

import (
	"fmt"
	"strconv"
)

// Config represents the persistent engram configuration stored as config.toml
// in the .engram/ directory. The TOML layout uses sections for logical
// grouping; every tunable named here also answers to an ENGRAM_ environment
// variable and, where registered, a CLI flag.
type Config struct {
	Version       int                 `toml:"version"`
	Storage       StorageConfig       `toml:"storage"`
	API           APIConfig           `toml:"api"`
	Retrieval     RetrievalConfig     `toml:"retrieval"`
	Decay         DecayConfig         `toml:"decay"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
	Embedding     EmbeddingConfig     `toml:"embedding"`
	Extraction    ExtractionConfig    `toml:"extraction"`
	Events        EventsConfig        `toml:"events"`
	Worker        WorkerConfig        `toml:"worker"`
}

// StorageConfig holds graph and vector store paths.
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path,omitempty"`
	VectorPath string `toml:"vector_path,omitempty"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// RetrievalConfig tunes the fusion and latency behavior of retrieval.
type RetrievalConfig struct {
	RRFK           float64 `toml:"rrf_k,omitempty"`
	WeightFulltext float64 `toml:"weight_fulltext,omitempty"`
	WeightVector   float64 `toml:"weight_vector,omitempty"`
	WeightGraph    float64 `toml:"weight_graph,omitempty"`
	TimeoutMS      uint    `toml:"timeout_ms,omitempty"`
}

// DecayConfig tunes the decay and eviction pass.
type DecayConfig struct {
	EvictionThreshold float64 `toml:"eviction_threshold,omitempty"`
}

// ConsolidationConfig tunes the consolidation pipeline.
type ConsolidationConfig struct {
	JaccardThreshold float64 `toml:"jaccard_threshold,omitempty"`
}

// EmbeddingConfig holds embedding provider settings. An empty provider
// disables vector search and exemplar intent classification.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// ExtractionConfig holds extraction collaborator settings. An empty provider
// disables consolidation.
type ExtractionConfig struct {
	Provider string `toml:"provider,omitempty"`
	Target   string `toml:"target,omitempty"`
	Model    string `toml:"model,omitempty"`
}

// EventsConfig holds event stream publisher settings. Provider "nop"
// swallows events.
type EventsConfig struct {
	Provider string `toml:"provider,omitempty"`
	Brokers  string `toml:"brokers,omitempty"`
	Topic    string `toml:"topic,omitempty"`
}

// WorkerConfig sizes the background embedding pool.
type WorkerConfig struct {
	Count     uint `toml:"count,omitempty"`
	QueueSize uint `toml:"queue_size,omitempty"`
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func floatKey(get func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.FormatFloat(*get(c), 'f', -1, 64)
		},
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid float value %q: %w", v, err)
			}
			*get(c) = f
			return nil
		},
	}
}

func uintKey(get func(c *Config) *uint) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *get(c) == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(*get(c)), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid uint value %q: %w", v, err)
			}
			*get(c) = uint(n)
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure.
var configKeys = map[string]configKeyInfo{
	"storage.sqlite_path": {
		get: func(c *Config) string { return c.Storage.SQLitePath },
		set: func(c *Config, v string) error { c.Storage.SQLitePath = v; return nil },
	},
	"storage.vector_path": {
		get: func(c *Config) string { return c.Storage.VectorPath },
		set: func(c *Config, v string) error { c.Storage.VectorPath = v; return nil },
	},
	"api.listen": {
		get: func(c *Config) string { return c.API.Listen },
		set: func(c *Config, v string) error { c.API.Listen = v; return nil },
	},
	"retrieval.rrf_k":           floatKey(func(c *Config) *float64 { return &c.Retrieval.RRFK }),
	"retrieval.weight_fulltext": floatKey(func(c *Config) *float64 { return &c.Retrieval.WeightFulltext }),
	"retrieval.weight_vector":   floatKey(func(c *Config) *float64 { return &c.Retrieval.WeightVector }),
	"retrieval.weight_graph":    floatKey(func(c *Config) *float64 { return &c.Retrieval.WeightGraph }),
	"retrieval.timeout_ms":      uintKey(func(c *Config) *uint { return &c.Retrieval.TimeoutMS }),
	"decay.eviction_threshold":  floatKey(func(c *Config) *float64 { return &c.Decay.EvictionThreshold }),
	"consolidation.jaccard_threshold": floatKey(func(c *Config) *float64 {
		return &c.Consolidation.JaccardThreshold
	}),
	"embedding.provider": {
		get: func(c *Config) string { return c.Embedding.Provider },
		set: func(c *Config, v string) error { c.Embedding.Provider = v; return nil },
	},
	"embedding.target": {
		get: func(c *Config) string { return c.Embedding.Target },
		set: func(c *Config, v string) error { c.Embedding.Target = v; return nil },
	},
	"embedding.model": {
		get: func(c *Config) string { return c.Embedding.Model },
		set: func(c *Config, v string) error { c.Embedding.Model = v; return nil },
	},
	"embedding.dimensions": uintKey(func(c *Config) *uint { return &c.Embedding.Dimensions }),
	"extraction.provider": {
		get: func(c *Config) string { return c.Extraction.Provider },
		set: func(c *Config, v string) error { c.Extraction.Provider = v; return nil },
	},
	"extraction.target": {
		get: func(c *Config) string { return c.Extraction.Target },
		set: func(c *Config, v string) error { c.Extraction.Target = v; return nil },
	},
	"extraction.model": {
		get: func(c *Config) string { return c.Extraction.Model },
		set: func(c *Config, v string) error { c.Extraction.Model = v; return nil },
	},
	"events.provider": {
		get: func(c *Config) string { return c.Events.Provider },
		set: func(c *Config, v string) error { c.Events.Provider = v; return nil },
	},
	"events.brokers": {
		get: func(c *Config) string { return c.Events.Brokers },
		set: func(c *Config, v string) error { c.Events.Brokers = v; return nil },
	},
	"events.topic": {
		get: func(c *Config) string { return c.Events.Topic },
		set: func(c *Config, v string) error { c.Events.Topic = v; return nil },
	},
	"worker.count":      uintKey(func(c *Config) *uint { return &c.Worker.Count }),
	"worker.queue_size": uintKey(func(c *Config) *uint { return &c.Worker.QueueSize }),
}
