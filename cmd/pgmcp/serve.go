// ABOUTME: CLI command for running the protocol gateway.
// ABOUTME: Wires config, pool, registry, router, and HTTP server together.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pgmcp/internal/config"
	"pgmcp/internal/pool"
	"pgmcp/internal/protocol"
	"pgmcp/internal/registry"
	"pgmcp/internal/router"
	"pgmcp/internal/server"
	"pgmcp/internal/tools"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP gateway",
	Long: `Start the gateway: connect to PostgreSQL, build the capability
registry, and serve the MCP endpoint plus info and health endpoints.

The process stops cleanly on SIGINT or SIGTERM: open streams are shut
down and pooled connections closed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		logger := log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "pgmcp",
		})

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("connecting to database", "target", cfg.Redacted(), "pool_size", cfg.PoolSize)
		p, err := pool.Open(ctx, cfg.DSN(), cfg.PoolSize, cfg.AcquireTimeout)
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.Error("close pool", "err", err)
			}
		}()

		reg := registry.New()
		tools.New(p).Register(reg)
		rt := router.New(reg, logger)

		srv := server.New(rt, reg, p, server.Options{
			DBHost:      cfg.Host,
			DBName:      cfg.Database,
			IdleTimeout: cfg.IdleTimeout,
			Logger:      logger,
		})

		color.Green("%s %s", protocol.ServerName, protocol.ServerVersion)
		logger.Info("listening", "addr", cfg.Listen, "endpoint", "/mcp", "transports", "sse,http")

		return srv.Run(ctx, cfg.Listen)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
