// Package statscmder provides the stats command for inspecting the local
// store.
package statscmder

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/engramlabs/engram/pkg/bootstrap"
	"github.com/engramlabs/engram/pkg/cliui"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/knowledge"
	"github.com/engramlabs/engram/pkg/logger"
)

const statsLongDesc string = `Show aggregate statistics for the local store:
active nodes by kind, soft-deleted rows, edges, entities, and sessions still
pending consolidation.`

const statsShortDesc string = "Show store statistics"

func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Long:  statsLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			debug, err := cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}

			return run(bootstrap.ConfigFromViper(v), debug)
		},
	}

	return cmd
}

func run(cfg *config.Config, debug bool) error {
	log := logger.NewLogger(debug)
	defer log.Sync()

	eng, cleanup, err := bootstrap.Build(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := eng.Stats(context.Background())
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("  %s\n", cliui.KeyStyle.Render("Nodes by kind"))

	kinds := make([]string, 0, len(stats.NodesByKind))
	for kind := range stats.NodesByKind {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("    %-12s %d\n", kind, stats.NodesByKind[knowledge.Kind(kind)])
	}

	fmt.Println()
	fmt.Printf("  %-20s %d\n", "Active nodes", stats.ActiveNodes)
	fmt.Printf("  %-20s %d\n", "Deleted nodes", stats.DeletedNodes)
	fmt.Printf("  %-20s %d\n", "Edges", stats.Edges)
	fmt.Printf("  %-20s %d\n", "Entities", stats.Entities)
	fmt.Printf("  %-20s %d\n", "Pending sessions", stats.PendingSessions)
	fmt.Println()

	return nil
}
