package main

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/consensus"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

func byzantineCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "byzantine [scenario...]",
		Short: "Run Byzantine Generals scenarios (default: all reference scenarios)",
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := selectScenarios(args)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, s := range scenarios {
				res, err := consensus.RunScenario(cmd.Context(), s, scenarioConfig())
				if err != nil {
					return errors.Wrapf(err, "scenario %s", s.Name)
				}
				recordResult(res)

				if asJSON {
					b, err := json.Marshal(res)
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(b))
					continue
				}
				fmt.Fprintf(out, "%s (%s): general=%v lieutenants=%v\n", s.Name, res.Elapsed.Round(1e6), res.GeneralValue(), res.Values[1:])
				for _, v := range res.Verdicts {
					fmt.Fprintf(out, "  %s\n", v)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print one JSON result per scenario")
	return cmd
}

func selectScenarios(names []string) ([]consensus.Scenario, error) {
	if len(names) == 0 {
		return consensus.DefaultScenarios(), nil
	}
	scenarios := make([]consensus.Scenario, 0, len(names))
	for _, n := range names {
		s, ok := consensus.ScenarioByName(n)
		if !ok {
			return nil, errors.Wrapf(consensus.ErrInvalidScenario, "unknown scenario %q", n)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func linkConfig() network.LinkConfig {
	link := shared.cfg.LinkConfig()
	link.ARQ.Observer = shared.metrics.ARQObserver(link.Protocol)
	return link
}

func scenarioConfig() consensus.ScenarioConfig {
	return consensus.ScenarioConfig{
		Link:         linkConfig(),
		Medium:       shared.cfg.Medium(),
		PollInterval: shared.cfg.Network.PollInterval,
		Logger:       shared.logger.Sugar(),
		Observer:     shared.metrics,
	}
}

func recordResult(res *consensus.Result) {
	for i := 1; i < len(res.Values); i++ {
		shared.metrics.RecordDecision(res.Scenario, res.Values[i])
	}
	shared.metrics.RecordVerdicts(res.Scenario, res.Verdicts)
}
