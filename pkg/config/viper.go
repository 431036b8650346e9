package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/engramlabs/engram/pkg/dotdir"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STORAGE_SQLITE_PATH, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_API_LISTEN, ENGRAM_RETRIEVAL_RRF_K, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.vector_path", d.Storage.VectorPath)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Retrieval
	v.SetDefault("retrieval.rrf_k", d.Retrieval.RRFK)
	v.SetDefault("retrieval.weight_fulltext", d.Retrieval.WeightFulltext)
	v.SetDefault("retrieval.weight_vector", d.Retrieval.WeightVector)
	v.SetDefault("retrieval.weight_graph", d.Retrieval.WeightGraph)
	v.SetDefault("retrieval.timeout_ms", d.Retrieval.TimeoutMS)

	// Decay and consolidation
	v.SetDefault("decay.eviction_threshold", d.Decay.EvictionThreshold)
	v.SetDefault("consolidation.jaccard_threshold", d.Consolidation.JaccardThreshold)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Extraction
	v.SetDefault("extraction.provider", d.Extraction.Provider)
	v.SetDefault("extraction.target", d.Extraction.Target)
	v.SetDefault("extraction.model", d.Extraction.Model)

	// Events
	v.SetDefault("events.provider", d.Events.Provider)
	v.SetDefault("events.brokers", d.Events.Brokers)
	v.SetDefault("events.topic", d.Events.Topic)

	// Worker pool
	v.SetDefault("worker.count", d.Worker.Count)
	v.SetDefault("worker.queue_size", d.Worker.QueueSize)
}
