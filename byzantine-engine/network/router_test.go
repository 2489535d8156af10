package network

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type handshakeNet struct {
	mesh    *Mesh
	routers []*Router
	dr      *DesignatedRouter
}

func newHandshakeNet(t *testing.T, adjacency [][]int, opts ...DesignatedRouterOption) *handshakeNet {
	t.Helper()
	cfg := fastLinkConfig(0.1)
	mesh := NewMesh(cfg)
	t.Cleanup(func() { mesh.Close() })

	wiring, err := mesh.Wire(adjacency)
	require.NoError(t, err)

	net := &handshakeNet{mesh: mesh}
	for i := range adjacency {
		net.routers = append(net.routers, NewRouter(i, wiring.Ports[i], WithPollInterval(time.Millisecond)))
	}
	opts = append(opts, WithDesignatedRouterPollInterval(time.Millisecond))
	net.dr = NewDesignatedRouter(wiring.DRInputs, wiring.DROutputs, opts...)
	return net
}

// handshake runs every router's handshake against the designated router and
// leaves the designated router serving until the returned stop is called.
func (n *handshakeNet) handshake(t *testing.T, trigger <-chan struct{}) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	var drWG sync.WaitGroup
	drWG.Add(1)
	go func() {
		defer drWG.Done()
		assert.NoError(t, n.dr.Run(ctx, trigger))
	}()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range n.routers {
		r.StartLinks(ctx)
		g.Go(func() error { return r.Handshake(gctx) })
	}
	require.NoError(t, g.Wait())

	return func() {
		cancel()
		drWG.Wait()
		for _, r := range n.routers {
			r.StopLinks()
		}
	}
}

func TestHandshakeDistributesNeighborsAndTopology(t *testing.T) {
	// 0 -> 1, 1 -> 0, 1 -> 2, 2 -> 0
	net := newHandshakeNet(t, [][]int{{1}, {0, 2}, {0}})
	stop := net.handshake(t, nil)
	defer stop()

	assert.Equal(t, Neighbors{1: 0}, net.routers[0].Neighbors())
	assert.Equal(t, Neighbors{0: 0, 2: 1}, net.routers[1].Neighbors())
	assert.Equal(t, Neighbors{0: 0}, net.routers[2].Neighbors())

	for _, r := range net.routers {
		topo := r.Topology()
		require.NotNil(t, topo)
		assert.Equal(t, []int{0, 1, 2}, topo.Nodes())
		assert.True(t, topo.HasEdge(0, 1))
		assert.True(t, topo.HasEdge(1, 0))
		assert.True(t, topo.HasEdge(1, 2))
		assert.True(t, topo.HasEdge(2, 0))
		assert.False(t, topo.HasEdge(0, 2))
	}

	assert.Equal(t, []int{0, 2}, net.routers[1].ActiveNeighbors())
	assert.Equal(t, []int{0, 1, 2}, net.routers[0].Ways()[2])
	assert.Equal(t, []int{2, 0, 1}, net.routers[2].Ways()[1])
	assert.Equal(t, []int{0, 1, 2}, net.dr.ActiveNodes())
}

func TestSendToUnknownNeighbor(t *testing.T) {
	net := newHandshakeNet(t, [][]int{{1}, {0}})
	stop := net.handshake(t, nil)
	defer stop()

	msg, err := NewMessage(0, To(5), Data, []int{0})
	require.NoError(t, err)
	assert.ErrorIs(t, net.routers[0].SendTo(5, msg), ErrUnknownNeighbor)
	assert.NoError(t, net.routers[0].SendTo(1, msg))
}

func TestDesignatedRouterDisconnectsFirstEligibleNode(t *testing.T) {
	var mu sync.Mutex
	var broadcasts []*Topology
	hook := WithTopologyHook(func(index int, topo *Topology) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, len(broadcasts), index)
		broadcasts = append(broadcasts, topo)
	})

	net := newHandshakeNet(t, [][]int{{1}, {0, 2}, {1}},
		hook,
		WithDisconnectProbabilities(map[int]float64{0: 0, 1: 0.5, 2: 0.9}),
		WithRand(func() float64 { return 0.4 }),
	)
	trigger := make(chan struct{}, 1)
	stop := net.handshake(t, trigger)
	defer stop()

	trigger <- struct{}{}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(broadcasts) == 2
	}, 10*time.Second, time.Millisecond)

	mu.Lock()
	last := broadcasts[1]
	mu.Unlock()
	assert.Equal(t, []int{0, 2}, last.Nodes())
	assert.Empty(t, last.Edges())

	// Node 1 is the first node whose draw falls below its probability.
	assert.Eventually(t, func() bool {
		msg, ok := net.routers[1].Ports().DRInput.TryReceive()
		return ok && msg.Type == Disconnect
	}, 10*time.Second, time.Millisecond)
}
