// Package config loads simulator settings from defaults, an optional file
// and BYZSIM_* environment variables.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/monitoring"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// Prefix is the environment variable prefix.
const Prefix = "BYZSIM"

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Transport  TransportConfig      `mapstructure:"transport" json:"transport"`
	Network    NetworkConfig        `mapstructure:"network" json:"network"`
	Log        monitoring.LogConfig `mapstructure:"log" json:"log"`
	Metrics    MetricsConfig        `mapstructure:"metrics" json:"metrics"`
	Experiment ExperimentConfig     `mapstructure:"experiment" json:"experiment"`
}

// TransportConfig holds the ARQ parameters of every link.
type TransportConfig struct {
	Protocol        string        `mapstructure:"protocol" json:"protocol"`
	WindowSize      int           `mapstructure:"window_size" json:"window_size"`
	Timeout         time.Duration `mapstructure:"timeout" json:"timeout"`
	StalledTimeout  time.Duration `mapstructure:"stalled_timeout" json:"stalled_timeout"`
	LossProbability float64       `mapstructure:"loss_probability" json:"loss_probability"`
	PollInterval    time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
	Medium          string        `mapstructure:"medium" json:"medium"`
}

// NetworkConfig holds router settings.
type NetworkConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval" json:"poll_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" json:"addr"`
}

// ExperimentConfig parameterizes the throughput sweeps.
type ExperimentConfig struct {
	Workers int    `mapstructure:"workers" json:"workers"`
	Message string `mapstructure:"message" json:"message"`
}

const defaultMessage = "It is a very long long message to send throw channel in bytes with pickle transformation"

// Default returns the reference configuration.
func Default() Config {
	arq := linklayer.DefaultConfig()
	return Config{
		Transport: TransportConfig{
			Protocol:        string(linklayer.SelectiveRepeat),
			WindowSize:      arq.WindowSize,
			Timeout:         arq.Timeout,
			StalledTimeout:  arq.StalledTimeout,
			LossProbability: arq.LossProbability,
			PollInterval:    arq.PollInterval,
			Medium:          string(network.MediumMemory),
		},
		Network: NetworkConfig{PollInterval: 10 * time.Millisecond},
		Log:     monitoring.DefaultLogConfig(),
		Metrics: MetricsConfig{Enabled: false, Addr: ":9102"},
		Experiment: ExperimentConfig{
			Workers: 4,
			Message: defaultMessage,
		},
	}
}

// Load reads path when it is non-empty, applies BYZSIM_* overrides on top
// of the defaults and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(Prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("transport.protocol", d.Transport.Protocol)
	v.SetDefault("transport.window_size", d.Transport.WindowSize)
	v.SetDefault("transport.timeout", d.Transport.Timeout)
	v.SetDefault("transport.stalled_timeout", d.Transport.StalledTimeout)
	v.SetDefault("transport.loss_probability", d.Transport.LossProbability)
	v.SetDefault("transport.poll_interval", d.Transport.PollInterval)
	v.SetDefault("transport.medium", d.Transport.Medium)
	v.SetDefault("network.poll_interval", d.Network.PollInterval)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("experiment.workers", d.Experiment.Workers)
	v.SetDefault("experiment.message", d.Experiment.Message)
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Transport.ARQ().Validate(); err != nil {
		return errors.Wrapf(ErrInvalid, "transport: %v", err)
	}
	if _, err := linklayer.ParseProtocol(c.Transport.Protocol); err != nil {
		return errors.Wrapf(ErrInvalid, "transport: %v", err)
	}
	if _, err := network.ParseMedium(c.Transport.Medium); err != nil {
		return errors.Wrapf(ErrInvalid, "transport: %v", err)
	}
	if c.Transport.PollInterval <= 0 || c.Network.PollInterval <= 0 {
		return errors.Wrap(ErrInvalid, "poll intervals must be positive")
	}
	if c.Experiment.Workers < 1 {
		return errors.Wrapf(ErrInvalid, "experiment workers %d", c.Experiment.Workers)
	}
	switch c.Log.Encoding {
	case "console", "json":
	default:
		return errors.Wrapf(ErrInvalid, "log encoding %q", c.Log.Encoding)
	}
	return nil
}

// ARQ converts the transport section to sender/receiver parameters.
func (t TransportConfig) ARQ() linklayer.Config {
	cfg := linklayer.DefaultConfig()
	cfg.WindowSize = t.WindowSize
	cfg.Timeout = t.Timeout
	cfg.StalledTimeout = t.StalledTimeout
	cfg.LossProbability = t.LossProbability
	cfg.PollInterval = t.PollInterval
	return cfg
}

// LinkConfig returns the settings for every link.
func (c Config) LinkConfig() network.LinkConfig {
	return network.LinkConfig{
		Protocol:     linklayer.Protocol(c.Transport.Protocol),
		ARQ:          c.Transport.ARQ(),
		PollInterval: c.Network.PollInterval,
	}
}

// Medium returns the configured link medium.
func (c Config) Medium() network.Medium {
	return network.Medium(c.Transport.Medium)
}
