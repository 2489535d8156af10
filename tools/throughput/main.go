package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"

	"github.com/VanDung-dev/byzantine-arq/api"
	"github.com/VanDung-dev/byzantine-arq/arrow"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/monitoring"
	"github.com/VanDung-dev/byzantine-arq/engine"
)

// ThroughputConfig holds configuration for the experiment.
type ThroughputConfig struct {
	Output      string
	ReportFile  string
	Workers     int
	Timeout     time.Duration
	Stalled     time.Duration
	MaxWindow   int
	WindowLoss  float64
	LossWindow  int
	LossSteps   int
	MaxLoss     float64
	Message     string
	MetricsAddr string
	Verbose     bool
}

func main() {
	config := parseFlags()

	fmt.Println("=== ARQ Throughput Experiment ===")
	fmt.Printf("Window sweep: 1..%d at loss %.2f\n", config.MaxWindow, config.WindowLoss)
	fmt.Printf("Loss sweep:   %d steps in [0, %.2f] at window %d\n", config.LossSteps, config.MaxLoss, config.LossWindow)
	fmt.Printf("Workers:      %d\n", config.Workers)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	trials, err := runExperiment(ctx, config)
	if err != nil {
		log.Fatalf("Experiment failed: %v", err)
	}

	printResults(trials)

	if err := writeArrow(config.Output, trials); err != nil {
		log.Fatalf("Failed to write %s: %v", config.Output, err)
	}
	fmt.Printf("Trials saved to: %s\n", config.Output)

	if config.ReportFile != "" {
		saveReport(config, trials)
	}
}

func parseFlags() ThroughputConfig {
	config := ThroughputConfig{}

	flag.StringVar(&config.Output, "o", "throughput.arrow", "Output Arrow IPC file")
	flag.StringVar(&config.ReportFile, "report", "", "Summary report file (JSON)")
	flag.IntVar(&config.Workers, "c", 4, "Number of concurrent trials")
	flag.DurationVar(&config.Timeout, "timeout", 200*time.Millisecond, "Retransmission timeout")
	flag.DurationVar(&config.Stalled, "stalled", 10*time.Second, "Timeout before the first acknowledgment")
	flag.IntVar(&config.MaxWindow, "max-window", 25, "Largest window size of the window sweep")
	flag.Float64Var(&config.WindowLoss, "window-loss", 0.3, "Loss probability of the window sweep")
	flag.IntVar(&config.LossWindow, "loss-window", 3, "Window size of the loss sweep")
	flag.IntVar(&config.LossSteps, "loss-steps", 20, "Number of loss probabilities")
	flag.Float64Var(&config.MaxLoss, "max-loss", 0.9, "Largest loss probability")
	flag.StringVar(&config.Message, "m", engine.DefaultMessage, "Message to transfer")
	flag.StringVar(&config.MetricsAddr, "metrics", "", "Serve Prometheus metrics on this address")
	flag.BoolVar(&config.Verbose, "v", false, "Log every trial")

	flag.Parse()

	return config
}

func runExperiment(ctx context.Context, config ThroughputConfig) ([]engine.Trial, error) {
	logCfg := monitoring.DefaultLogConfig()
	if config.Verbose {
		logCfg.Level = "debug"
	}
	logger, err := monitoring.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()

	metrics := api.DefaultMetrics
	if config.MetricsAddr != "" {
		server := api.NewMetricsServer(config.MetricsAddr, nil)
		server.StartAsync()
		defer server.Stop()
	}

	sc := engine.DefaultSweep()
	sc.Windows = sc.Windows[:0]
	for w := 1; w <= config.MaxWindow; w++ {
		sc.Windows = append(sc.Windows, w)
	}
	sc.WindowLoss = config.WindowLoss
	sc.LossWindow = config.LossWindow
	sc.Losses = engine.Linspace(0, config.MaxLoss, config.LossSteps)
	sc.Base.Timeout = config.Timeout
	sc.Base.StalledTimeout = config.Stalled
	sc.Message = config.Message
	sc.Workers = config.Workers
	sc.Logger = logger.Sugar()
	sc.PoolStats = metrics.UpdateWorkerPool
	sc.OnTrial = func(t engine.Trial) {
		metrics.RecordTrial(string(t.Protocol), t.Sweep, t.Efficiency)
	}

	return engine.RunSweep(ctx, sc)
}

func printResults(trials []engine.Trial) {
	fmt.Println("=== Results ===")
	fmt.Printf("%-7s %-17s %6s %6s %8s %8s %10s\n", "Sweep", "Protocol", "Window", "Loss", "Packets", "k", "Elapsed")
	for _, t := range trials {
		fmt.Printf("%-7s %-17s %6d %6.3f %8d %8.3f %10v\n",
			t.Sweep, t.Protocol, t.WindowSize, t.Loss, t.PacketsSent, t.Efficiency, t.Elapsed.Round(time.Millisecond))
	}
}

func writeArrow(path string, trials []engine.Trial) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := arrow.NewIPCWriter().WriteTrials(f, engine.Rows(trials)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func saveReport(config ThroughputConfig, trials []engine.Trial) {
	best := map[string]float64{}
	for _, t := range trials {
		key := string(t.Protocol) + "/" + t.Sweep
		if t.Efficiency > best[key] {
			best[key] = t.Efficiency
		}
	}

	report := map[string]interface{}{
		"config": map[string]interface{}{
			"max_window":  config.MaxWindow,
			"window_loss": config.WindowLoss,
			"loss_window": config.LossWindow,
			"loss_steps":  config.LossSteps,
			"protocols":   linklayer.Protocols(),
		},
		"results": map[string]interface{}{
			"trials":          len(trials),
			"best_efficiency": best,
			"arrow_output":    config.Output,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
