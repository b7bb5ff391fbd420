package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TFMV/evfeatures/api"
	"github.com/TFMV/evfeatures/logger"
)

// newServeCommand creates the serve command.
func newServeCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve feature derivation over HTTP",
		Long: `Start an HTTP server. POST a registration CSV to /derive to receive the
derived table as CSV, or to /report to receive the run report as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Features.Validate(); err != nil {
				return err
			}
			log := logger.GetLogger()
			server := api.NewServer(api.ServerOptions{
				Addr:     c.cfg.Server.Addr,
				Features: c.cfg.FeatureOptions(time.Now()),
				Logger:   log,
			})

			errc := make(chan error, 1)
			go func() { errc <- server.Start() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(quit)

			select {
			case err := <-errc:
				return err
			case <-quit:
			}
			log.Info("Received shutdown signal, stopping server...")

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Error("Error shutting down", zap.Error(err))
				return err
			}
			log.Info("Server shutdown successfully")
			return nil
		},
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	c.bind(cmd, "addr", "server.addr")
	return cmd
}
