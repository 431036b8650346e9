package config

const (
	defaultAPIListen = ":8741"

	defaultSQLiteFile = "engram.db"
	defaultVectorFile = "vectors.db"

	defaultRRFK           = 60.0
	defaultFusionWeight   = 1.0
	defaultRetrievalMS    = 2000
	defaultEvictThreshold = 0.05
	defaultJaccard        = 0.75

	defaultEmbeddingProvider   = "ollama"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 768

	defaultExtractionProvider = "ollama"
	defaultExtractionTarget   = "http://localhost:11434"
	defaultExtractionModel    = "llama3.2"

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "engram.sessions"

	defaultWorkerCount = 3
	defaultQueueSize   = 256
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values. Storage paths are
// left empty here; they default to files inside the resolved .engram/
// directory, which is only known at load time.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Retrieval: RetrievalConfig{
			RRFK:           defaultRRFK,
			WeightFulltext: defaultFusionWeight,
			WeightVector:   defaultFusionWeight,
			WeightGraph:    defaultFusionWeight,
			TimeoutMS:      defaultRetrievalMS,
		},
		Decay: DecayConfig{
			EvictionThreshold: defaultEvictThreshold,
		},
		Consolidation: ConsolidationConfig{
			JaccardThreshold: defaultJaccard,
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
		Extraction: ExtractionConfig{
			Provider: defaultExtractionProvider,
			Target:   defaultExtractionTarget,
			Model:    defaultExtractionModel,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
		Worker: WorkerConfig{
			Count:     defaultWorkerCount,
			QueueSize: defaultQueueSize,
		},
	}
}
