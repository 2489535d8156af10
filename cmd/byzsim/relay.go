package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

var errUnknownTopology = errors.New("unknown topology")

func relayCmd() *cobra.Command {
	var settle time.Duration
	cmd := &cobra.Command{
		Use:       "relay [line|circle|star]",
		Short:     "Run the point-to-point relay scenario on a predefined topology",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"line", "circle", "star"},
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "line"
			if len(args) == 1 {
				name = args[0]
			}
			topo, ok := network.RelayTopologyByName(name)
			if !ok {
				return errors.Wrapf(errUnknownTopology, "%q", name)
			}

			report, err := network.RunRelayScenario(cmd.Context(), topo, network.RelayScenarioConfig{
				Link:         linkConfig(),
				Medium:       shared.cfg.Medium(),
				Settle:       settle,
				PollInterval: shared.cfg.Network.PollInterval,
				Logger:       shared.logger.Sugar(),
				Observer:     shared.metrics,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %d topology broadcasts, disconnected %v, %d forwards\n",
				report.Topology, len(report.Broadcasts), report.Disconnected, report.Forwarded)
			for _, d := range report.Deliveries {
				fmt.Fprintf(out, "  router %d received from %d via %v\n", d.Router, d.Src, d.Path)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&settle, "settle", time.Second, "pause between scenario phases")
	return cmd
}
