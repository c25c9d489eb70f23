package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hrygo/pandemonium/server"
)

func newServeCmd(cfg *config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := cfg.profile()
			if err != nil {
				return err
			}
			logger, closer, err := newLogger(cmd, p)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := server.NewServer(ctx, p, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(); err != nil {
					logger.Error("failed to close server", "error", err)
				}
			}()
			return s.Run(ctx)
		},
	}
}
