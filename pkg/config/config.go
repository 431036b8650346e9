package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/engramlabs/engram/pkg/dotdir"
)

const (
	configFile = "config.toml"

	// v0 is the alpha version of the config
	v0 = 0

	// CurrentV is the currently supported version, points to v0
	CurrentV = v0
)

type Configer struct {
	ddm        *dotdir.Manager
	targetDir  string
	targetPath string
}

func NewConfiger(override string) (*Configer, error) {
	cfger := &Configer{}

	cfger.ddm = dotdir.NewManager()
	target, err := cfger.ddm.Target(override)
	if err != nil {
		return nil, err
	}

	if target == "" {
		return cfger, nil
	}
	cfger.targetDir = target

	path := filepath.Join(target, configFile)
	_, err = os.Stat(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Always set targetPath when the directory exists so SaveConfig can
	// create or overwrite the file.
	cfger.targetPath = path

	return cfger, nil
}

// ValidConfigKeys returns the sorted list of all supported configuration key names.
func ValidConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsValidConfigKey returns true if the given key is a supported configuration key.
func IsValidConfigKey(key string) bool {
	_, ok := configKeys[key]
	return ok
}

// GetTarget returns the resolved config file path, empty when no .engram/
// directory could be resolved.
func (c *Configer) GetTarget() string {
	return c.targetPath
}

// GetTargetDir returns the resolved .engram/ directory.
func (c *Configer) GetTargetDir() string {
	return c.targetDir
}

// LoadConfig loads the configuration from config.toml in the target .engram/
// directory. If the file does not exist, returns NewDefaultConfig() so
// callers always receive a fully-populated Config. Fields explicitly set in
// the file override the defaults; storage paths default to files inside the
// resolved directory.
func (c *Configer) LoadConfig() (*Config, error) {
	cfg := NewDefaultConfig()

	if c.targetPath != "" {
		data, err := os.ReadFile(c.targetPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err == nil {
			cfg, err = ParseConfigTOML(data)
			if err != nil {
				return nil, err
			}
			applyDefaults(cfg)
		}
	}

	if cfg.Storage.SQLitePath == "" && c.targetDir != "" {
		cfg.Storage.SQLitePath = filepath.Join(c.targetDir, defaultSQLiteFile)
	}
	if cfg.Storage.VectorPath == "" && c.targetDir != "" {
		cfg.Storage.VectorPath = filepath.Join(c.targetDir, defaultVectorFile)
	}

	return cfg, nil
}

// applyDefaults fills zero-value fields in cfg with values from NewDefaultConfig().
func applyDefaults(cfg *Config) {
	defaults := NewDefaultConfig()

	if cfg.Version == 0 {
		cfg.Version = defaults.Version
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Retrieval.RRFK == 0 {
		cfg.Retrieval.RRFK = defaults.Retrieval.RRFK
	}
	if cfg.Retrieval.WeightFulltext == 0 {
		cfg.Retrieval.WeightFulltext = defaults.Retrieval.WeightFulltext
	}
	if cfg.Retrieval.WeightVector == 0 {
		cfg.Retrieval.WeightVector = defaults.Retrieval.WeightVector
	}
	if cfg.Retrieval.WeightGraph == 0 {
		cfg.Retrieval.WeightGraph = defaults.Retrieval.WeightGraph
	}
	if cfg.Retrieval.TimeoutMS == 0 {
		cfg.Retrieval.TimeoutMS = defaults.Retrieval.TimeoutMS
	}

	if cfg.Decay.EvictionThreshold == 0 {
		cfg.Decay.EvictionThreshold = defaults.Decay.EvictionThreshold
	}
	if cfg.Consolidation.JaccardThreshold == 0 {
		cfg.Consolidation.JaccardThreshold = defaults.Consolidation.JaccardThreshold
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = defaults.Embedding.Provider
	}
	if cfg.Embedding.Target == "" {
		cfg.Embedding.Target = defaults.Embedding.Target
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = defaults.Embedding.Model
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = defaults.Embedding.Dimensions
	}

	if cfg.Extraction.Provider == "" {
		cfg.Extraction.Provider = defaults.Extraction.Provider
	}
	if cfg.Extraction.Target == "" {
		cfg.Extraction.Target = defaults.Extraction.Target
	}
	if cfg.Extraction.Model == "" {
		cfg.Extraction.Model = defaults.Extraction.Model
	}

	if cfg.Events.Provider == "" {
		cfg.Events.Provider = defaults.Events.Provider
	}
	if cfg.Events.Topic == "" {
		cfg.Events.Topic = defaults.Events.Topic
	}

	if cfg.Worker.Count == 0 {
		cfg.Worker.Count = defaults.Worker.Count
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = defaults.Worker.QueueSize
	}
}

// SaveConfig persists the configuration to config.toml in the target .engram/ directory.
func (c *Configer) SaveConfig(cfg *Config) error {
	if cfg == nil {
		return errors.New("cannot save nil config")
	}

	if c.targetPath == "" {
		return errors.New("cannot save empty target path")
	}

	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(c.targetPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// SetConfigValue loads the config, sets the given key to the given value, and saves it.
// Returns an error if the key is not a valid config key.
func (c *Configer) SetConfigValue(key string, value string) error {
	info, ok := configKeys[key]
	if !ok {
		return fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return err
	}

	if err := info.set(cfg, value); err != nil {
		return err
	}

	return c.SaveConfig(cfg)
}

// GetConfigValue loads the config and returns the string representation of the given key.
// Returns an error if the key is not a valid config key.
func (c *Configer) GetConfigValue(key string) (string, error) {
	info, ok := configKeys[key]
	if !ok {
		return "", fmt.Errorf("unknown config key: %q", key)
	}

	cfg, err := c.LoadConfig()
	if err != nil {
		return "", err
	}

	return info.get(cfg), nil
}

// ParseConfigTOML parses raw TOML bytes into a Config.
// Returns an error if the version field is present and not equal to CurrentV.
func ParseConfigTOML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	if cfg.Version != 0 && cfg.Version != CurrentV {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentV)
	}

	return cfg, nil
}
