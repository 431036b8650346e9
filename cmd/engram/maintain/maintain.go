// Package maintaincmder provides the maintain command for running scheduled
// maintenance tasks against the local store.
package maintaincmder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/pkg/bootstrap"
	"github.com/engramlabs/engram/pkg/cliui"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/engine"
	"github.com/engramlabs/engram/pkg/logger"
)

const maintainLongDesc string = `Run a maintenance task against the local store.

Tasks:
  consolidate   Consolidate all pending sessions into durable knowledge
  decay         Apply confidence decay and evict low-confidence facts
  enrich        Generate profile summaries for frequently mentioned entities
  causal        Infer causal links between a session's episodes (requires --session)

These tasks are designed to be invoked by an external scheduler (cron,
systemd timers) or on demand. Every task is idempotent or additive, so an
interrupted run is safe to repeat.`

const maintainShortDesc string = "Run a maintenance task"

// taskNames maps CLI task names to engine task identifiers.
var taskNames = map[string]string{
	"consolidate": engine.TaskConsolidatePending,
	"decay":       engine.TaskApplyDecay,
	"enrich":      engine.TaskEnrichEntities,
	"causal":      engine.TaskInferCausalLinks,
}

type maintainCommander struct {
	sessionID string
	asJSON    bool
	debug     bool
}

func NewMaintainCmd() *cobra.Command {
	cmder := &maintainCommander{}

	cmd := &cobra.Command{
		Use:       "maintain <task>",
		Short:     maintainShortDesc,
		Long:      maintainLongDesc,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"consolidate", "decay", "enrich", "causal"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}

			configDir, _ := cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(configDir)
			if err != nil {
				return err
			}

			return cmder.run(bootstrap.ConfigFromViper(v), args[0])
		},
	}

	cmd.Flags().StringVar(&cmder.sessionID, "session", "", "Session id for session-scoped tasks")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print the task result as JSON")

	return cmd
}

func (c *maintainCommander) run(cfg *config.Config, taskName string) error {
	task, ok := taskNames[taskName]
	if !ok {
		return fmt.Errorf("unknown task %q (available: consolidate, decay, enrich, causal)", taskName)
	}

	log := logger.NewLogger(c.debug)
	defer log.Sync()

	eng, cleanup, err := bootstrap.Build(cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	var result any
	err = cliui.Step(os.Stdout, fmt.Sprintf("Running %s", taskName), func() error {
		var taskErr error
		result, taskErr = eng.Maintain(context.Background(), task, c.sessionID)
		return taskErr
	})
	if err != nil {
		return err
	}

	if c.asJSON {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
		fmt.Println(string(out))
	} else {
		log.Info("maintenance task complete", zap.String("task", taskName), zap.Any("result", result))
	}

	return nil
}
