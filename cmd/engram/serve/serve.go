// Package servecmder provides the serve command for running the engram
// servers.
package servecmder

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/engramlabs/engram/api"
	apimcp "github.com/engramlabs/engram/api/mcp"
	"github.com/engramlabs/engram/pkg/bootstrap"
	"github.com/engramlabs/engram/pkg/config"
	"github.com/engramlabs/engram/pkg/logger"
)

type ServeCommander struct {
	listen      string
	sqlitePath  string
	vectorPath  string
	embedProv   string
	extractProv string
	eventsProv  string
	workers     uint
	disableMCP  bool
	debug       bool
	logger      *zap.Logger
}

const serveLongDesc string = `Run the Engram memory servers.

Starts the HTTP API on the configured listen address and mounts the MCP
server at /mcp on the same listener. The graph store, vector index, and
collaborators are selected via configuration, environment (ENGRAM_ prefix),
or the flags below.`

const serveShortDesc string = "Run the Engram memory servers"

var serveFlags = []string{
	config.FlagAPIListen,
	config.FlagSQLite,
	config.FlagVectorPath,
	config.FlagEmbeddingProv,
	config.FlagExtractionProv,
	config.FlagEventsProvider,
	config.FlagWorkers,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			config.BindRegisteredFlags(v, cmd, config.DefaultFlagSet, serveFlags)

			return cmder.run(bootstrap.ConfigFromViper(v))
		},
	}

	fs := config.DefaultFlagSet
	config.AddStringFlag(cmd, fs, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, fs, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, fs, config.FlagVectorPath, &cmder.vectorPath)
	config.AddStringFlag(cmd, fs, config.FlagEmbeddingProv, &cmder.embedProv)
	config.AddStringFlag(cmd, fs, config.FlagExtractionProv, &cmder.extractProv)
	config.AddStringFlag(cmd, fs, config.FlagEventsProvider, &cmder.eventsProv)
	config.AddUintFlag(cmd, fs, config.FlagWorkers, &cmder.workers)
	cmd.Flags().BoolVar(&cmder.disableMCP, "no-mcp", false, "Disable the MCP server")

	return cmd
}

func (c *ServeCommander) run(cfg *config.Config) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	eng, cleanup, err := bootstrap.Build(cfg, c.logger)
	if err != nil {
		return err
	}
	defer cleanup()

	apiServer := api.NewServer(api.Config{
		ListenAddr: cfg.API.Listen,
	}, eng, c.logger)

	mcpServer, err := apimcp.NewServer(apimcp.Config{
		Engine: eng,
		Noop:   c.disableMCP,
		Logger: c.logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	if handler := mcpServer.Handler(); handler != nil {
		apiServer.Mount("/mcp", adaptor.HTTPHandler(handler))
	}

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}
