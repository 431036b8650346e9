// Package configcmder provides the config command for managing persistent
// engram configuration stored in the .engram/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent engram configuration.

Configuration is stored as config.toml in the .engram/ directory and provides
default values for command flags. CLI flags always take precedence over
config file values, and environment variables with the ENGRAM_ prefix sit
between the two.

Keys use dotted notation matching the TOML section structure:
  storage.sqlite_path, storage.vector_path, api.listen,
  retrieval.rrf_k, retrieval.weight_fulltext, retrieval.weight_vector,
  retrieval.weight_graph, retrieval.timeout_ms,
  decay.eviction_threshold, consolidation.jaccard_threshold,
  embedding.provider, embedding.target, embedding.model, embedding.dimensions,
  extraction.provider, extraction.target, extraction.model,
  events.provider, events.brokers, events.topic,
  worker.count, worker.queue_size

Use subcommands to get, set, or list configuration values:
  engram config set <key> <value>   Set a configuration value
  engram config get <key>           Get a configuration value
  engram config list                List all configuration values

Examples:
  engram config set embedding.model nomic-embed-text
  engram config set retrieval.rrf_k 60
  engram config get decay.eviction_threshold
  engram config list`

const configShortDesc string = "Manage persistent engram configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
