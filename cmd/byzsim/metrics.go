package main

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/byzantine-arq/api"
)

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Serve /metrics and /health until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			server := api.NewMetricsServer(shared.cfg.Metrics.Addr, nil)
			log := shared.logger.Sugar()
			log.Infof("starting metrics server on %s", shared.cfg.Metrics.Addr)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
				log.Info("shutting down metrics server")
				return server.Stop()
			}
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", name, api.Version)
			return err
		},
	}
}
