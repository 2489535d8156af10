package linklayer

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/pkg/errors"
)

// Protocol names an ARQ variant.
type Protocol string

const (
	GoBackN         Protocol = "go_back_n"
	SelectiveRepeat Protocol = "selective_repeat"
)

// Common errors for protocol configuration
var (
	ErrUnknownProtocol = errors.New("unknown ARQ protocol")
	ErrInvalidConfig   = errors.New("invalid ARQ configuration")
)

// Protocols lists the supported variants in a stable order.
func Protocols() []Protocol {
	return []Protocol{GoBackN, SelectiveRepeat}
}

// ParseProtocol converts a configuration string into a Protocol.
func ParseProtocol(name string) (Protocol, error) {
	switch p := Protocol(name); p {
	case GoBackN, SelectiveRepeat:
		return p, nil
	default:
		return "", errors.Wrapf(ErrUnknownProtocol, "%q", name)
	}
}

// Sender transmits data as one stream and returns the number of packets
// put on the channel, retransmissions included.
type Sender func(ctx context.Context, conn Channel, stream uint64, data []byte, cfg Config) (int, error)

// Receiver reassembles one stream and returns its bytes once the sentinel
// arrives.
type Receiver func(ctx context.Context, conn Channel, cfg Config) ([]byte, error)

// SenderFor returns the sender implementing p.
func SenderFor(p Protocol) (Sender, error) {
	switch p {
	case GoBackN:
		return GoBackNSend, nil
	case SelectiveRepeat:
		return SelectiveRepeatSend, nil
	default:
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", string(p))
	}
}

// ReceiverFor returns the receiver implementing p.
func ReceiverFor(p Protocol) (Receiver, error) {
	switch p {
	case GoBackN:
		return GoBackNReceive, nil
	case SelectiveRepeat:
		return SelectiveRepeatReceive, nil
	default:
		return nil, errors.Wrapf(ErrUnknownProtocol, "%q", string(p))
	}
}

// Observer is notified of transport events. Implementations must be safe
// for concurrent use.
type Observer interface {
	PacketSent(retransmit bool)
	PacketDropped()
	AckSent()
}

type nopObserver struct{}

func (nopObserver) PacketSent(bool) {}
func (nopObserver) PacketDropped()  {}
func (nopObserver) AckSent()        {}

// Config holds ARQ parameters shared by senders and receivers.
type Config struct {
	WindowSize      int           `json:"window_size"`
	Timeout         time.Duration `json:"timeout"`
	StalledTimeout  time.Duration `json:"stalled_timeout"`
	LossProbability float64       `json:"loss_probability"`
	PollInterval    time.Duration `json:"poll_interval"`
	Filler          byte          `json:"filler"`

	// Rand returns uniform values in [0, 1) for loss draws.
	Rand func() float64 `json:"-"`
	// Observer receives transport events; nil means none.
	Observer Observer `json:"-"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		WindowSize:      25,
		Timeout:         200 * time.Millisecond,
		StalledTimeout:  10 * time.Second,
		LossProbability: 0.3,
		PollInterval:    time.Millisecond,
		Filler:          ' ',
	}
}

// Validate checks parameter ranges.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 1:
		return errors.Wrapf(ErrInvalidConfig, "window size %d", c.WindowSize)
	case c.Timeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "timeout %s", c.Timeout)
	case c.StalledTimeout <= 0:
		return errors.Wrapf(ErrInvalidConfig, "stalled timeout %s", c.StalledTimeout)
	case c.LossProbability < 0 || c.LossProbability >= 1:
		return errors.Wrapf(ErrInvalidConfig, "loss probability %v", c.LossProbability)
	}
	return nil
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.WindowSize < 1 {
		c.WindowSize = d.WindowSize
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.StalledTimeout <= 0 {
		c.StalledTimeout = d.StalledTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.Filler == 0 {
		c.Filler = d.Filler
	}
	if c.Rand == nil {
		c.Rand = rand.Float64
	}
	if c.Observer == nil {
		c.Observer = nopObserver{}
	}
	return c
}

// lost draws once against the loss probability.
func (c Config) lost() bool {
	return c.Rand() < c.LossProbability
}

// idle waits one poll interval.
func (c Config) idle(ctx context.Context) error {
	timer := time.NewTimer(c.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func packet(stream uint64, data []byte, id int) Packet {
	return Packet{Stream: stream, ID: id, Data: data[id : id+1]}
}

// packetRange builds packets for ids first..last inclusive.
func packetRange(stream uint64, data []byte, first, last int) []Packet {
	if last < first {
		return nil
	}
	packets := make([]Packet, 0, last-first+1)
	for id := first; id <= last; id++ {
		packets = append(packets, packet(stream, data, id))
	}
	return packets
}

func sentinel(stream uint64) Packet {
	return Packet{Stream: stream, ID: SentinelID}
}
