package linklayer

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryChannelQueuesAreIndependentFIFOs(t *testing.T) {
	c := NewMemoryChannel()
	ctx := context.Background()

	require.False(t, c.HasPending())
	require.False(t, c.HasPendingAck())

	require.NoError(t, c.Send(Packet{ID: 0, Data: []byte("a")}))
	require.NoError(t, c.SendBatch([]Packet{{ID: 1}, {ID: 2}}))
	require.NoError(t, c.Ack(Ack{ID: 7}))

	assert.True(t, c.HasPending())
	assert.True(t, c.HasPendingAck())

	for want := 0; want < 3; want++ {
		p, err := c.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, p.ID)
	}
	a, err := c.ReceiveAck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, a.ID)
}

func TestMemoryChannelClose(t *testing.T) {
	c := NewMemoryChannel()
	require.NoError(t, c.Send(Packet{ID: 0}))
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(Packet{ID: 1}), ErrChannelClosed)
	assert.ErrorIs(t, c.Ack(Ack{ID: 1}), ErrChannelClosed)

	p, err := c.Receive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, p.ID)
}

func TestSentinel(t *testing.T) {
	assert.True(t, sentinel(4).IsSentinel())
	assert.False(t, Packet{ID: 0}.IsSentinel())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, time.Millisecond)
}

func TestZmqChannelRoundTrip(t *testing.T) {
	c := NewZmqChannel("test-" + uuid.NewString())
	require.NoError(t, c.Start())
	defer c.Close()

	require.NoError(t, c.SendBatch([]Packet{
		{Stream: 1, ID: 0, Data: []byte("x")},
		{Stream: 1, ID: 1, Data: []byte("y")},
	}))
	require.NoError(t, c.Ack(Ack{Stream: 1, ID: 0}))

	waitFor(t, c.HasPending)
	waitFor(t, c.HasPendingAck)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, Packet{Stream: 1, ID: 0, Data: []byte("x")}, p)
	p, err = c.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)

	a, err := c.ReceiveAck(ctx)
	require.NoError(t, err)
	assert.Equal(t, Ack{Stream: 1, ID: 0}, a)
}

func TestZmqChannelCarriesARQ(t *testing.T) {
	c := NewZmqChannel("arq-" + uuid.NewString())
	require.NoError(t, c.Start())
	defer c.Close()

	payload := randomPayload(120)
	for _, proto := range Protocols() {
		res := transfer(t, proto, c, payload, fastConfig(0.2))
		assert.Equal(t, payload, res.received, proto)
	}
}

func TestZmqChannelClosedRejectsSends(t *testing.T) {
	c := NewZmqChannel("closed-" + uuid.NewString())
	require.NoError(t, c.Start())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Send(Packet{ID: 0}), ErrChannelClosed)
	assert.ErrorIs(t, c.Ack(Ack{ID: 0}), ErrChannelClosed)
	assert.NoError(t, c.Close())
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("go_back_n")
	require.NoError(t, err)
	assert.Equal(t, GoBackN, p)

	p, err = ParseProtocol("selective_repeat")
	require.NoError(t, err)
	assert.Equal(t, SelectiveRepeat, p)

	_, err = ParseProtocol("stop_and_wait")
	assert.ErrorIs(t, err, ErrUnknownProtocol)

	_, err = SenderFor("bogus")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
	_, err = ReceiverFor("bogus")
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 25, cfg.WindowSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 10*time.Second, cfg.StalledTimeout)
	assert.Equal(t, 0.3, cfg.LossProbability)

	bad := cfg
	bad.WindowSize = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.LossProbability = 1
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	bad = cfg
	bad.Timeout = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)
}
