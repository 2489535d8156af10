package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/VanDung-dev/byzantine-arq/api"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/monitoring"
	"github.com/VanDung-dev/byzantine-arq/config"
)

const name = "byzsim"

// env is the state shared by every subcommand once flags are parsed.
type env struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *api.Metrics
	server  *api.MetricsServer
}

var (
	configPath  string
	logLevel    string
	metricsAddr string

	shared env
)

// The main command describes the simulator and defaults to printing help.
var mainCmd = &cobra.Command{
	Use:   name,
	Short: "Lossy-network ARQ simulator running the Byzantine Generals algorithm",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
	SilenceUsage: true,
}

func init() {
	flags := mainCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "configuration file (yaml, json or toml)")
	flags.StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	mainCmd.AddCommand(byzantineCmd())
	mainCmd.AddCommand(relayCmd())
	mainCmd.AddCommand(metricsCmd())
	mainCmd.AddCommand(versionCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// On failure Cobra prints the error string, so we only need to exit
	// with a non-0 status.
	if mainCmd.ExecuteContext(ctx) != nil {
		stop()
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = metricsAddr
	}

	logger, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	shared = env{cfg: cfg, logger: logger, metrics: api.DefaultMetrics}
	if cfg.Metrics.Enabled && cmd.Name() != "metrics" {
		shared.server = api.NewMetricsServer(cfg.Metrics.Addr, nil)
		shared.server.StartAsync()
		logger.Sugar().Infof("serving metrics on %s", cfg.Metrics.Addr)
	}
	return nil
}

func teardown() {
	if shared.server != nil {
		_ = shared.server.Stop()
	}
	if shared.logger != nil {
		_ = shared.logger.Sync()
	}
}
