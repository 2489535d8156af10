package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func relayConfig(medium Medium) RelayScenarioConfig {
	return RelayScenarioConfig{
		Link:           fastLinkConfig(0),
		Medium:         medium,
		Settle:         300 * time.Millisecond,
		PollInterval:   time.Millisecond,
		DisconnectRand: func() float64 { return 0.5 },
		Pick:           func(n int) int { return n - 1 },
	}
}

func TestRelayTopologies(t *testing.T) {
	names := []string{}
	for _, topo := range RelayTopologies() {
		names = append(names, topo.Name)
		assert.Len(t, topo.Nodes, 5)
	}
	assert.Equal(t, []string{"line", "circle", "star"}, names)

	star, ok := RelayTopologyByName("star")
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3, 4}, star.Nodes[0].Neighbors)

	_, ok = RelayTopologyByName("mesh")
	assert.False(t, ok)
}

func TestRelayScenarioOnLine(t *testing.T) {
	topo, _ := RelayTopologyByName("line")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := RunRelayScenario(ctx, topo, relayConfig(MediumMemory))
	require.NoError(t, err)

	// Draws of 0.5 disconnect node 0, the first with probability above it.
	assert.Equal(t, []int{0}, report.Disconnected)
	require.Len(t, report.Broadcasts, 2)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, report.Broadcasts[0].Nodes())
	assert.Equal(t, []int{1, 2, 3, 4}, report.Broadcasts[1].Nodes())

	// Each router sends to its highest-numbered destination. Before the
	// disconnect node 4 targets 3; afterwards it still targets 3, and the
	// others target 4.
	byRouter := map[int][]Delivery{}
	for _, d := range report.Deliveries {
		byRouter[d.Router] = append(byRouter[d.Router], d)
	}
	assert.Len(t, byRouter[4], 7)
	assert.Len(t, byRouter[3], 2)
	assert.Empty(t, byRouter[0])

	for _, d := range byRouter[4] {
		require.NotEmpty(t, d.Path)
		assert.Equal(t, d.Src, d.Path[0])
		for i := 1; i < len(d.Path); i++ {
			assert.Equal(t, d.Path[i-1]+1, d.Path[i], "line hops are consecutive: %v", d.Path)
		}
	}
	assert.Greater(t, report.Forwarded, 0)
}

func TestRelayScenarioOnStarOverZmq(t *testing.T) {
	topo, _ := RelayTopologyByName("star")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := relayConfig(MediumZmq)
	cfg.DisconnectRand = func() float64 { return 0.05 }
	report, err := RunRelayScenario(ctx, topo, cfg)
	require.NoError(t, err)

	// The hub goes first and isolates every leaf, so only the first round
	// of traffic arrives: everyone targets 4 except 4 itself, which targets 3.
	assert.Equal(t, []int{0}, report.Disconnected)
	require.Len(t, report.Broadcasts, 2)
	assert.Empty(t, report.Broadcasts[1].Edges())

	counts := map[int]int{}
	for _, d := range report.Deliveries {
		counts[d.Router]++
	}
	assert.Equal(t, map[int]int{3: 1, 4: 4}, counts)
}

func TestRelayScenarioCancelled(t *testing.T) {
	topo, _ := RelayTopologyByName("circle")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunRelayScenario(ctx, topo, relayConfig(MediumMemory))
	assert.ErrorIs(t, err, context.Canceled)
}
