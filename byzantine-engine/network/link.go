package network

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
)

// ErrLinkStopped is returned by Receive once the receive loop has stopped
// and no message is left.
var ErrLinkStopped = errors.New("link is stopped")

// MessageObserver is notified of whole-message traffic.
type MessageObserver interface {
	MessageSent(msgType string, packets int, d time.Duration)
	MessageReceived(msgType string)
}

type nopMessageObserver struct{}

func (nopMessageObserver) MessageSent(string, int, time.Duration) {}
func (nopMessageObserver) MessageReceived(string)                 {}

// LinkConfig selects the ARQ protocol and its parameters.
type LinkConfig struct {
	Protocol     linklayer.Protocol `json:"protocol"`
	ARQ          linklayer.Config   `json:"arq"`
	PollInterval time.Duration      `json:"poll_interval"`
}

// DefaultLinkConfig returns the reference link settings.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Protocol:     linklayer.SelectiveRepeat,
		ARQ:          linklayer.DefaultConfig(),
		PollInterval: 10 * time.Millisecond,
	}
}

// pumpInterval is how often an idle receive loop checks its channel.
func (c LinkConfig) pumpInterval() time.Duration {
	if c.ARQ.PollInterval > 0 {
		return c.ARQ.PollInterval
	}
	return linklayer.DefaultConfig().PollInterval
}

// LinkOption customizes a link pair.
type LinkOption func(*linkOptions)

type linkOptions struct {
	conn     linklayer.Channel
	logger   *zap.SugaredLogger
	observer MessageObserver
}

// WithChannel carries the link over conn instead of a fresh memory channel.
func WithChannel(conn linklayer.Channel) LinkOption {
	return func(o *linkOptions) { o.conn = conn }
}

// WithLogger sets the logger used by both link ends.
func WithLogger(l *zap.SugaredLogger) LinkOption {
	return func(o *linkOptions) { o.logger = l }
}

// WithMessageObserver reports message traffic to obs.
func WithMessageObserver(obs MessageObserver) LinkOption {
	return func(o *linkOptions) { o.observer = obs }
}

// NewLink creates a connected output/input pair sharing one Channel.
func NewLink(cfg LinkConfig, opts ...LinkOption) (*LinkOutput, *LinkInput, error) {
	o := linkOptions{
		logger:   zap.NewNop().Sugar(),
		observer: nopMessageObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.conn == nil {
		o.conn = linklayer.NewMemoryChannel()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultLinkConfig().PollInterval
	}

	send, err := linklayer.SenderFor(cfg.Protocol)
	if err != nil {
		return nil, nil, err
	}
	recv, err := linklayer.ReceiverFor(cfg.Protocol)
	if err != nil {
		return nil, nil, err
	}

	out := &LinkOutput{
		conn:     o.conn,
		send:     send,
		cfg:      cfg,
		queue:    linklayer.NewQueue[*Message](),
		logger:   o.logger,
		observer: o.observer,
	}
	in := &LinkInput{
		conn:     o.conn,
		recv:     recv,
		cfg:      cfg,
		queue:    linklayer.NewQueue[*Message](),
		logger:   o.logger,
		observer: o.observer,
	}
	return out, in, nil
}

// loop is the start/stop lifecycle shared by both link ends.
type loop struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (l *loop) start(parent context.Context, run func(ctx, loopCtx context.Context)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	loopCtx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.running = true

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		run(parent, loopCtx)
	}()
}

func (l *loop) stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()
}

func (l *loop) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// LinkOutput is the sending end of a link.
type LinkOutput struct {
	conn     linklayer.Channel
	send     linklayer.Sender
	cfg      LinkConfig
	queue    *linklayer.Queue[*Message]
	stream   uint64
	inFlight atomic.Bool
	logger   *zap.SugaredLogger
	observer MessageObserver
	loop     loop
}

// StartSending launches the send loop. Transfers run under ctx, so
// cancelling ctx aborts a transfer in progress.
func (l *LinkOutput) StartSending(ctx context.Context) {
	l.loop.start(ctx, l.runSending)
}

// StopSending stops taking new messages from the queue and waits for the
// loop to exit. A transfer already in progress completes first.
func (l *LinkOutput) StopSending() {
	l.loop.stop()
}

// Send enqueues msg without blocking.
func (l *LinkOutput) Send(msg *Message) {
	l.queue.Push(msg)
}

// NotEmpty reports whether messages are queued or in flight.
func (l *LinkOutput) NotEmpty() bool {
	return !l.queue.Empty() || l.inFlight.Load()
}

func (l *LinkOutput) runSending(ctx, loopCtx context.Context) {
	for {
		msg, err := l.queue.Pop(loopCtx)
		if err != nil {
			return
		}
		l.inFlight.Store(true)
		err = l.transmit(ctx, msg)
		l.inFlight.Store(false)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Warnf("failed to send %s message: %v", msg.Type, err)
		}
	}
}

func (l *LinkOutput) transmit(ctx context.Context, msg *Message) error {
	payload, err := msg.Marshal()
	if err != nil {
		return err
	}
	l.stream++
	start := time.Now()
	sent, err := l.send(ctx, l.conn, l.stream, payload, l.cfg.ARQ)
	if err != nil {
		return errors.Wrapf(err, "stream %d", l.stream)
	}
	l.observer.MessageSent(string(msg.Type), sent, time.Since(start))
	l.logger.Debugf("sent %s in %d packets (%d bytes)", msg.Type, sent, len(payload))
	return nil
}

// LinkInput is the receiving end of a link.
type LinkInput struct {
	conn     linklayer.Channel
	recv     linklayer.Receiver
	cfg      LinkConfig
	queue    *linklayer.Queue[*Message]
	logger   *zap.SugaredLogger
	observer MessageObserver
	loop     loop
}

// StartReceiving launches the receive loop.
func (l *LinkInput) StartReceiving(ctx context.Context) {
	l.loop.start(ctx, l.runReceiving)
}

// StopReceiving signals the receive loop to exit and waits for it. A message
// already being reassembled completes first.
func (l *LinkInput) StopReceiving() {
	l.loop.stop()
}

// NotEmpty reports whether a received message is waiting.
func (l *LinkInput) NotEmpty() bool {
	return !l.queue.Empty()
}

// TryReceive returns the next received message without blocking.
func (l *LinkInput) TryReceive() (*Message, bool) {
	return l.queue.TryPop()
}

// Receive blocks until a message arrives, ctx is done, or the link stops
// with nothing left to deliver.
func (l *LinkInput) Receive(ctx context.Context) (*Message, error) {
	for {
		if msg, ok := l.queue.TryPop(); ok {
			return msg, nil
		}
		if !l.loop.isRunning() {
			return nil, ErrLinkStopped
		}
		timer := time.NewTimer(l.cfg.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *LinkInput) runReceiving(ctx, loopCtx context.Context) {
	for {
		if loopCtx.Err() != nil {
			return
		}
		if !l.conn.HasPending() {
			timer := time.NewTimer(l.cfg.pumpInterval())
			select {
			case <-loopCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		payload, err := l.recv(ctx, l.conn, l.cfg.ARQ)
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warnf("failed to receive message: %v", err)
			}
			return
		}
		msg, err := UnmarshalMessage(payload)
		if err != nil {
			l.logger.Warnf("dropping undecodable message (%d bytes): %v", len(payload), err)
			continue
		}
		l.observer.MessageReceived(string(msg.Type))
		l.queue.Push(msg)
	}
}
