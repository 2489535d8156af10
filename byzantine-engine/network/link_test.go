package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
)

func fastLinkConfig(loss float64) LinkConfig {
	arq := linklayer.DefaultConfig()
	arq.WindowSize = 8
	arq.Timeout = 5 * time.Millisecond
	arq.StalledTimeout = 2 * time.Second
	arq.PollInterval = 200 * time.Microsecond
	arq.LossProbability = loss
	return LinkConfig{
		Protocol:     linklayer.SelectiveRepeat,
		ARQ:          arq,
		PollInterval: time.Millisecond,
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	sent     map[string]int
	received map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{sent: map[string]int{}, received: map[string]int{}}
}

func (o *recordingObserver) MessageSent(msgType string, packets int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent[msgType]++
}

func (o *recordingObserver) MessageReceived(msgType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.received[msgType]++
}

func (o *recordingObserver) counts(msgType string) (int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sent[msgType], o.received[msgType]
}

func TestLinkDeliversMessagesInOrder(t *testing.T) {
	for _, proto := range linklayer.Protocols() {
		t.Run(string(proto), func(t *testing.T) {
			cfg := fastLinkConfig(0.2)
			cfg.Protocol = proto
			obs := newRecordingObserver()

			out, in, err := NewLink(cfg, WithMessageObserver(obs))
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			out.StartSending(ctx)
			in.StartReceiving(ctx)
			defer out.StopSending()
			defer in.StopReceiving()

			for i := 0; i < 5; i++ {
				msg, err := NewMessage(i, To(9), Data, []int{i})
				require.NoError(t, err)
				out.Send(msg)
			}

			for i := 0; i < 5; i++ {
				msg, err := in.Receive(ctx)
				require.NoError(t, err)
				assert.Equal(t, i, msg.Src)
				var path []int
				require.NoError(t, msg.Decode(&path))
				assert.Equal(t, []int{i}, path)
			}

			require.Eventually(t, func() bool { return !out.NotEmpty() }, 5*time.Second, time.Millisecond)
			sent, received := obs.counts(string(Data))
			assert.Equal(t, 5, sent)
			assert.Equal(t, 5, received)
		})
	}
}

func TestLinkReceiveAfterStop(t *testing.T) {
	_, in, err := NewLink(fastLinkConfig(0))
	require.NoError(t, err)

	in.StartReceiving(context.Background())
	in.StopReceiving()

	_, err = in.Receive(context.Background())
	assert.ErrorIs(t, err, ErrLinkStopped)

	_, ok := in.TryReceive()
	assert.False(t, ok)
	assert.False(t, in.NotEmpty())
}

func TestLinkReceiveHonorsContext(t *testing.T) {
	_, in, err := NewLink(fastLinkConfig(0))
	require.NoError(t, err)
	in.StartReceiving(context.Background())
	defer in.StopReceiving()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = in.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLinkStartIsIdempotent(t *testing.T) {
	out, in, err := NewLink(fastLinkConfig(0))
	require.NoError(t, err)

	ctx := context.Background()
	out.StartSending(ctx)
	out.StartSending(ctx)
	in.StartReceiving(ctx)
	in.StartReceiving(ctx)

	msg, err := NewMessage(1, nil, Disconnect, nil)
	require.NoError(t, err)
	out.Send(msg)

	got, err := in.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, Disconnect, got.Type)

	out.StopSending()
	out.StopSending()
	in.StopReceiving()
}

func TestLinkRejectsUnknownProtocol(t *testing.T) {
	cfg := fastLinkConfig(0)
	cfg.Protocol = "stop_and_wait"
	_, _, err := NewLink(cfg)
	assert.ErrorIs(t, err, linklayer.ErrUnknownProtocol)
}

func TestLinkLogsUndecodablePayload(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	conn := linklayer.NewMemoryChannel()
	cfg := fastLinkConfig(0)

	_, in, err := NewLink(cfg, WithChannel(conn), WithLogger(zap.New(core).Sugar()))
	require.NoError(t, err)
	in.StartReceiving(context.Background())
	defer in.StopReceiving()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = linklayer.SelectiveRepeatSend(ctx, conn, 1, []byte("not json"), cfg.ARQ)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return logs.FilterMessageSnippet("dropping undecodable message").Len() == 1
	}, 5*time.Second, time.Millisecond)
	assert.False(t, in.NotEmpty())
}
