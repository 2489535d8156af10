package network

import (
	"context"
	"maps"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DesignatedRouterID is the id the coordinator uses as message source.
const DesignatedRouterID = -1

// TopologyHook receives every topology the designated router broadcasts,
// numbered from zero.
type TopologyHook func(index int, topology *Topology)

// DesignatedRouterOption customizes a DesignatedRouter.
type DesignatedRouterOption func(*DesignatedRouter)

// WithDisconnectProbabilities sets per-node disconnection probabilities.
func WithDisconnectProbabilities(p map[int]float64) DesignatedRouterOption {
	return func(d *DesignatedRouter) { d.disconnect = maps.Clone(p) }
}

// WithTopologyHook registers a callback for each topology broadcast.
func WithTopologyHook(hook TopologyHook) DesignatedRouterOption {
	return func(d *DesignatedRouter) { d.hook = hook }
}

// WithDesignatedRouterLogger sets the coordinator's logger.
func WithDesignatedRouterLogger(l *zap.SugaredLogger) DesignatedRouterOption {
	return func(d *DesignatedRouter) { d.logger = l }
}

// WithDesignatedRouterPollInterval sets the idle sleep of the main loop.
func WithDesignatedRouterPollInterval(p time.Duration) DesignatedRouterOption {
	return func(d *DesignatedRouter) {
		if p > 0 {
			d.pollInterval = p
		}
	}
}

// WithRand sets the source of disconnection draws.
func WithRand(fn func() float64) DesignatedRouterOption {
	return func(d *DesignatedRouter) { d.rand = fn }
}

// DesignatedRouter collects every router's inbound neighbor report,
// assembles the topology, and tells each router its peers and the graph.
type DesignatedRouter struct {
	inputs  []*LinkInput
	outputs []*LinkOutput

	nodes       map[int]int // node id -> link index
	activeNodes map[int]struct{}
	topology    *Topology
	disconnect  map[int]float64

	hook         TopologyHook
	rand         func() float64
	pollInterval time.Duration
	logger       *zap.SugaredLogger

	broadcasts int
}

// NewDesignatedRouter creates a coordinator. inputs[i] and outputs[i] must
// connect to the same router.
func NewDesignatedRouter(inputs []*LinkInput, outputs []*LinkOutput, opts ...DesignatedRouterOption) *DesignatedRouter {
	d := &DesignatedRouter{
		inputs:       inputs,
		outputs:      outputs,
		nodes:        make(map[int]int),
		activeNodes:  make(map[int]struct{}),
		topology:     NewTopology(),
		disconnect:   map[int]float64{},
		rand:         rand.Float64,
		pollInterval: DefaultLinkConfig().PollInterval,
		logger:       zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Topology returns a snapshot of the current topology.
func (d *DesignatedRouter) Topology() *Topology {
	return d.topology.Clone()
}

// ActiveNodes returns the connected routers in ascending order.
func (d *DesignatedRouter) ActiveNodes() []int {
	return slices.Sorted(maps.Keys(d.activeNodes))
}

// Run performs discovery, broadcasts the topology, and then serves
// disconnect triggers until ctx is done. A nil trigger channel disables
// disconnections. It returns nil on cancellation.
func (d *DesignatedRouter) Run(ctx context.Context, trigger <-chan struct{}) error {
	d.startLinks(ctx)
	defer d.stopLinks()

	if err := d.initTopology(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := d.broadcastTopology(); err != nil {
		return err
	}

	pending := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
			pending = true
		case <-time.After(d.pollInterval):
		}

		if pending && d.disconnectOne() {
			pending = false
			if err := d.broadcastTopology(); err != nil {
				return err
			}
		}
	}
}

func (d *DesignatedRouter) startLinks(ctx context.Context) {
	for _, link := range d.inputs {
		link.StartReceiving(ctx)
	}
	for _, link := range d.outputs {
		link.StartSending(ctx)
	}
}

func (d *DesignatedRouter) stopLinks() {
	for _, link := range d.outputs {
		link.StopSending()
	}
	for _, link := range d.inputs {
		link.StopReceiving()
	}
}

func (d *DesignatedRouter) idle(ctx context.Context) error {
	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// initTopology asks every router for its inbound neighbors and answers each
// with its outbound neighbor map.
func (d *DesignatedRouter) initTopology(ctx context.Context) error {
	for _, link := range d.outputs {
		msg, err := NewMessage(DesignatedRouterID, nil, GetNeighbors, nil)
		if err != nil {
			return err
		}
		link.Send(msg)
	}

	neighbors := make(map[int]Neighbors)
	for len(d.nodes) != len(d.outputs) {
		received := false
		for i, link := range d.inputs {
			msg, ok := link.TryReceive()
			if !ok {
				continue
			}
			received = true
			if msg.Type != SetNeighbors {
				d.logger.Debugf("ignoring %s from %d during discovery", msg.Type, msg.Src)
				continue
			}
			var reported InputNeighbors
			if err := msg.Decode(&reported); err != nil {
				d.logger.Warnf("bad neighbor report from %d: %v", msg.Src, err)
				continue
			}
			d.nodes[msg.Src] = i
			d.topology.AddNode(msg.Src)
			for neighbor, link := range reported {
				d.topology.AddEdge(neighbor, msg.Src, link.Weight)
				if neighbors[neighbor] == nil {
					neighbors[neighbor] = Neighbors{}
				}
				neighbors[neighbor][msg.Src] = link.LinkID
			}
			d.logger.Infof("received neighbours of %d", msg.Src)
		}
		if !received {
			if err := d.idle(ctx); err != nil {
				return err
			}
		}
	}

	for node := range d.nodes {
		d.activeNodes[node] = struct{}{}
	}
	for _, node := range d.ActiveNodes() {
		peers := neighbors[node]
		if peers == nil {
			peers = Neighbors{}
		}
		msg, err := NewMessage(DesignatedRouterID, To(node), SetNeighbors, peers)
		if err != nil {
			return err
		}
		d.outputs[d.nodes[node]].Send(msg)
	}
	return nil
}

// broadcastTopology sends the current graph to every active router.
func (d *DesignatedRouter) broadcastTopology() error {
	for _, node := range d.ActiveNodes() {
		msg, err := NewMessage(DesignatedRouterID, To(node), SetTopology, d.topology)
		if err != nil {
			return errors.Wrapf(err, "topology for %d", node)
		}
		d.outputs[d.nodes[node]].Send(msg)
	}
	if d.hook != nil {
		d.hook(d.broadcasts, d.topology.Clone())
	}
	d.logger.Infof("sent topology %d to %d routers", d.broadcasts, len(d.activeNodes))
	d.broadcasts++
	return nil
}

// disconnectOne drops the first active router, in id order, whose draw falls
// below its disconnection probability.
func (d *DesignatedRouter) disconnectOne() bool {
	for _, node := range d.ActiveNodes() {
		if d.rand() >= d.disconnect[node] {
			continue
		}
		d.topology.RemoveNode(node)
		delete(d.activeNodes, node)
		msg, err := NewMessage(DesignatedRouterID, To(node), Disconnect, nil)
		if err != nil {
			d.logger.Errorf("build disconnect for %d: %v", node, err)
			return false
		}
		d.outputs[d.nodes[node]].Send(msg)
		d.logger.Infof("lost connection to node %d", node)
		return true
	}
	return false
}
