package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/wabridge/internal/config"
	"github.com/xkilldash9x/wabridge/internal/observability"
)

func newServeCmd() *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  `Starts the HTTP API. Browsers are launched per account on demand and all of them are closed when the process receives SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			cfg := config.Get()
			if listen != "" {
				cfg.Server.Listen = listen
			}

			components, err := NewComponentFactory().Create(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown(ctx)

			logger.Info("Starting wabridge", zap.String("version", Version), zap.String("listen", cfg.Server.Listen))
			return components.Server.ListenAndServe(ctx, cfg.Server, cfg.Timeouts.Shutdown)
		},
	}
	serveCmd.Flags().StringVarP(&listen, "listen", "l", "", "listen address (overrides server.listen)")
	return serveCmd
}
