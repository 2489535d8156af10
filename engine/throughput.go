package engine

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VanDung-dev/byzantine-arq/arrow"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// DefaultMessage is the sentence pushed through the channel by every trial.
const DefaultMessage = "It is a very long long message to send throw channel in bytes with pickle transformation"

// Sweep names.
const (
	SweepWindow = "window"
	SweepLoss   = "loss"
)

// Trial is the outcome of one transfer.
type Trial struct {
	Sweep       string
	Protocol    linklayer.Protocol
	WindowSize  int
	Loss        float64
	Bytes       int
	PacketsSent int
	Efficiency  float64
	Elapsed     time.Duration
	Intact      bool
}

// Row converts the trial for Arrow serialization.
func (t Trial) Row() arrow.TrialRow {
	return arrow.TrialRow{
		Sweep:           t.Sweep,
		Protocol:        string(t.Protocol),
		WindowSize:      int64(t.WindowSize),
		LossProbability: t.Loss,
		PayloadBytes:    int64(t.Bytes),
		PacketsSent:     int64(t.PacketsSent),
		Efficiency:      t.Efficiency,
		ElapsedSeconds:  t.Elapsed.Seconds(),
		Intact:          t.Intact,
	}
}

// Rows converts trials for Arrow serialization.
func Rows(trials []Trial) []arrow.TrialRow {
	rows := make([]arrow.TrialRow, len(trials))
	for i, t := range trials {
		rows[i] = t.Row()
	}
	return rows
}

// EncodeMessage serializes text as a DATA message, the payload every trial
// transfers.
func EncodeMessage(text string) ([]byte, error) {
	msg, err := network.NewMessage(0, network.To(1), network.Data, text)
	if err != nil {
		return nil, err
	}
	return msg.Marshal()
}

// runTrial is swapped out by tests.
var runTrial = RunTrial

// RunTrial transfers payload once over a fresh memory channel.
func RunTrial(ctx context.Context, proto linklayer.Protocol, payload []byte, cfg linklayer.Config) (Trial, error) {
	send, err := linklayer.SenderFor(proto)
	if err != nil {
		return Trial{}, err
	}
	recv, err := linklayer.ReceiverFor(proto)
	if err != nil {
		return Trial{}, err
	}

	conn := linklayer.NewMemoryChannel()
	defer conn.Close()

	type received struct {
		data []byte
		err  error
	}
	done := make(chan received, 1)
	go func() {
		data, err := recv(ctx, conn, cfg)
		done <- received{data, err}
	}()

	start := time.Now()
	sent, err := send(ctx, conn, 1, payload, cfg)
	if err != nil {
		return Trial{}, errors.Wrapf(err, "%s send", proto)
	}
	out := <-done
	elapsed := time.Since(start)
	if out.err != nil {
		return Trial{}, errors.Wrapf(out.err, "%s receive", proto)
	}

	t := Trial{
		Protocol:    proto,
		WindowSize:  cfg.WindowSize,
		Loss:        cfg.LossProbability,
		Bytes:       len(payload),
		PacketsSent: sent,
		Elapsed:     elapsed,
		Intact:      bytes.Equal(out.data, payload),
	}
	if sent > 0 {
		t.Efficiency = float64(len(payload)) / float64(sent)
	}
	return t, nil
}

// Linspace returns n evenly spaced values from start to stop inclusive.
func Linspace(start, stop float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	step := (stop - start) / float64(n-1)
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}

// SweepConfig describes the two experiment sweeps.
type SweepConfig struct {
	Protocols []linklayer.Protocol
	// Windows are tried at WindowLoss.
	Windows    []int
	WindowLoss float64
	// Losses are tried at LossWindow.
	Losses     []float64
	LossWindow int
	// Base supplies the timers; its window and loss are overridden per trial.
	Base    linklayer.Config
	Message string
	Workers int
	Logger  *zap.SugaredLogger
	// OnTrial is called for every completed trial.
	OnTrial func(Trial)
	// PoolStats receives worker pool activity.
	PoolStats StatsHook
}

// DefaultSweep returns the reference experiment: windows 1..25 at loss 0.3
// and 20 loss values in [0, 0.9] at window 3, for both protocols.
func DefaultSweep() SweepConfig {
	windows := make([]int, 25)
	for i := range windows {
		windows[i] = i + 1
	}
	return SweepConfig{
		Protocols:  linklayer.Protocols(),
		Windows:    windows,
		WindowLoss: 0.3,
		Losses:     Linspace(0, 0.9, 20),
		LossWindow: 3,
		Base:       linklayer.DefaultConfig(),
		Message:    DefaultMessage,
		Workers:    4,
	}
}

type trialSpec struct {
	sweep string
	proto linklayer.Protocol
	cfg   linklayer.Config
}

// RunSweep runs every trial of sc on a worker pool. Trials are returned
// sorted by sweep, protocol and the swept parameter.
func RunSweep(ctx context.Context, sc SweepConfig) ([]Trial, error) {
	if sc.Logger == nil {
		sc.Logger = zap.NewNop().Sugar()
	}
	if sc.Message == "" {
		sc.Message = DefaultMessage
	}
	payload, err := EncodeMessage(sc.Message)
	if err != nil {
		return nil, err
	}

	var specs []trialSpec
	for _, proto := range sc.Protocols {
		for _, w := range sc.Windows {
			cfg := sc.Base
			cfg.WindowSize, cfg.LossProbability = w, sc.WindowLoss
			specs = append(specs, trialSpec{SweepWindow, proto, cfg})
		}
		for _, p := range sc.Losses {
			cfg := sc.Base
			cfg.WindowSize, cfg.LossProbability = sc.LossWindow, p
			specs = append(specs, trialSpec{SweepLoss, proto, cfg})
		}
	}
	for _, s := range specs {
		if err := s.cfg.Validate(); err != nil {
			return nil, err
		}
	}

	var opts []PoolOption
	if sc.PoolStats != nil {
		opts = append(opts, WithStatsHook(sc.PoolStats))
	}
	opts = append(opts, WithQueueSize(len(specs)+1))

	// Trials still queued or running stop once the sweep returns.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := NewWorkerPool("throughput", sc.Workers, opts...)
	defer pool.Shutdown()

	for i, s := range specs {
		task := NewTask(ctx, fmt.Sprintf("%s-%s-%d", s.sweep, s.proto, i), func(ctx context.Context) (any, error) {
			t, err := runTrial(ctx, s.proto, payload, s.cfg)
			t.Sweep = s.sweep
			return t, err
		})
		if err := pool.Submit(task); err != nil {
			return nil, err
		}
	}
	pool.Close()

	trials := make([]Trial, 0, len(specs))
	for res := range pool.Results() {
		if res.Error != nil {
			return nil, errors.Wrapf(res.Error, "trial %s", res.TaskID)
		}
		t := res.Data.(Trial)
		sc.Logger.Debugf("%s %s window=%d loss=%.3f k=%.3f", t.Sweep, t.Protocol, t.WindowSize, t.Loss, t.Efficiency)
		if sc.OnTrial != nil {
			sc.OnTrial(t)
		}
		trials = append(trials, t)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sortTrials(trials)
	sc.Logger.Infof("completed %d trials", len(trials))
	return trials, nil
}

func sortTrials(trials []Trial) {
	sort.Slice(trials, func(i, j int) bool {
		a, b := trials[i], trials[j]
		if a.Sweep != b.Sweep {
			return a.Sweep < b.Sweep
		}
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		if a.Sweep == SweepWindow {
			return a.WindowSize < b.WindowSize
		}
		return a.Loss < b.Loss
	})
}
