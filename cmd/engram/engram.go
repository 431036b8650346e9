// Package engramcmder
package engramcmder

import (
	configcmder "github.com/engramlabs/engram/cmd/engram/config"
	maintaincmder "github.com/engramlabs/engram/cmd/engram/maintain"
	servecmder "github.com/engramlabs/engram/cmd/engram/serve"
	statscmder "github.com/engramlabs/engram/cmd/engram/stats"
	"github.com/spf13/cobra"
)

const engramLongDesc string = `Engram is a long-term memory engine for conversational agents.

Run services using:
  engram serve             Run the HTTP API and MCP servers
  engram maintain <task>   Run a maintenance task
  engram stats             Show store statistics
  engram config            Manage persistent configuration`

const engramShortDesc string = "Engram - Agent Long-Term Memory"

func NewEngramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "engram",
		Short: engramShortDesc,
		Long:  engramLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .engram/ directory location")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(maintaincmder.NewMaintainCmd())
	cmd.AddCommand(statscmder.NewStatsCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())

	return cmd
}
