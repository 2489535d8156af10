package network

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ErrUnknownNeighbor is returned when no output link reaches a peer.
var ErrUnknownNeighbor = errors.New("unknown neighbor")

// Ports groups the links a router owns. Inputs and Outputs are indexed by
// link position; HELLO payloads carry the output index.
type Ports struct {
	DRInput  *LinkInput
	DROutput *LinkOutput
	Inputs   []*LinkInput
	Outputs  []*LinkOutput
}

// Handshaker is implemented by every node that takes part in discovery.
type Handshaker interface {
	Handshake(ctx context.Context) error
}

// RouterOption customizes a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the router's logger.
func WithRouterLogger(l *zap.SugaredLogger) RouterOption {
	return func(r *Router) { r.logger = l }
}

// WithPollInterval sets the idle sleep of the router's polling loops.
func WithPollInterval(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// Router is a network node with neighbor links and a link to the designated
// router. It performs the discovery handshake; roles built on it supply
// their own main loop.
type Router struct {
	id    int
	ports Ports

	neighbors       Neighbors
	activeNeighbors map[int]struct{}
	topology        *Topology
	ways            map[int][]int

	pollInterval time.Duration
	logger       *zap.SugaredLogger
}

// NewRouter creates a router owning ports.
func NewRouter(id int, ports Ports, opts ...RouterOption) *Router {
	r := &Router{
		id:              id,
		ports:           ports,
		neighbors:       Neighbors{},
		activeNeighbors: map[int]struct{}{},
		pollInterval:    DefaultLinkConfig().PollInterval,
		logger:          zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ID returns the router id.
func (r *Router) ID() int { return r.id }

// Ports returns the router's links.
func (r *Router) Ports() Ports { return r.ports }

// Logger returns the router's logger.
func (r *Router) Logger() *zap.SugaredLogger { return r.logger }

// Neighbors returns a copy of the peer -> output link map.
func (r *Router) Neighbors() Neighbors { return maps.Clone(r.neighbors) }

// NeighborIDs returns the peers in ascending order.
func (r *Router) NeighborIDs() []int { return slices.Sorted(maps.Keys(r.neighbors)) }

// Topology returns the last topology received, or nil.
func (r *Router) Topology() *Topology { return r.topology }

// Ways returns the shortest paths computed from the last topology.
func (r *Router) Ways() map[int][]int { return r.ways }

// ActiveNeighbors returns the successors of this node in the topology.
func (r *Router) ActiveNeighbors() []int { return slices.Sorted(maps.Keys(r.activeNeighbors)) }

// StartLinks launches every link loop under ctx.
func (r *Router) StartLinks(ctx context.Context) {
	for _, link := range r.ports.Inputs {
		link.StartReceiving(ctx)
	}
	for _, link := range r.ports.Outputs {
		link.StartSending(ctx)
	}
	if r.ports.DRInput != nil {
		r.ports.DRInput.StartReceiving(ctx)
	}
	if r.ports.DROutput != nil {
		r.ports.DROutput.StartSending(ctx)
	}
}

// StopLinks stops every link loop and waits for them.
func (r *Router) StopLinks() {
	for _, link := range r.ports.Outputs {
		link.StopSending()
	}
	for _, link := range r.ports.Inputs {
		link.StopReceiving()
	}
	if r.ports.DROutput != nil {
		r.ports.DROutput.StopSending()
	}
	if r.ports.DRInput != nil {
		r.ports.DRInput.StopReceiving()
	}
}

// Idle sleeps one poll interval unless ctx ends first.
func (r *Router) Idle(ctx context.Context) error {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Drain waits until no output link has queued or in-flight messages.
func (r *Router) Drain(ctx context.Context) error {
	for r.pending() {
		if err := r.Idle(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) pending() bool {
	for _, link := range r.ports.Outputs {
		if link.NotEmpty() {
			return true
		}
	}
	return r.ports.DROutput != nil && r.ports.DROutput.NotEmpty()
}

// SendTo enqueues msg on the output link that reaches peer.
func (r *Router) SendTo(peer int, msg *Message) error {
	idx, ok := r.neighbors[peer]
	if !ok || idx < 0 || idx >= len(r.ports.Outputs) {
		return errors.Wrapf(ErrUnknownNeighbor, "router %d has no link to %d", r.id, peer)
	}
	r.ports.Outputs[idx].Send(msg)
	return nil
}

// Handshake greets every neighbor and then serves the designated router
// until both the neighbor map and the topology have been received.
func (r *Router) Handshake(ctx context.Context) error {
	if err := r.sendHello(); err != nil {
		return err
	}
	inputNeighbors, err := r.receiveHello(ctx)
	if err != nil {
		return errors.Wrap(err, "receive hello")
	}
	return errors.Wrap(r.initTopology(ctx, inputNeighbors), "init topology")
}

func (r *Router) sendHello() error {
	now := time.Now()
	for i, link := range r.ports.Outputs {
		msg, err := NewMessage(r.id, nil, Hello, HelloData{LinkID: i, StartTime: now})
		if err != nil {
			return err
		}
		link.Send(msg)
	}
	return nil
}

func (r *Router) receiveHello(ctx context.Context) (InputNeighbors, error) {
	inputNeighbors := InputNeighbors{}

	for len(inputNeighbors) != len(r.ports.Inputs) {
		if err := ctx.Err(); err != nil {
			return inputNeighbors, err
		}
		received := false
		for _, link := range r.ports.Inputs {
			msg, ok := link.TryReceive()
			if !ok {
				continue
			}
			received = true
			if msg.Type != Hello {
				r.logger.Debugf("ignoring %s from %d during hello stage", msg.Type, msg.Src)
				continue
			}
			var hello HelloData
			if err := msg.Decode(&hello); err != nil {
				r.logger.Warnf("bad hello from %d: %v", msg.Src, err)
				continue
			}
			inputNeighbors[msg.Src] = NeighborLink{
				LinkID: hello.LinkID,
				Weight: time.Since(hello.StartTime).Seconds(),
			}
			r.logger.Infof("received hello from %d", msg.Src)
		}
		if !received {
			if err := r.Idle(ctx); err != nil {
				return inputNeighbors, err
			}
		}
	}
	return inputNeighbors, nil
}

func (r *Router) initTopology(ctx context.Context, inputNeighbors InputNeighbors) error {
	topologySet, neighborsSet := false, false

	for !(topologySet && neighborsSet) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, ok := r.ports.DRInput.TryReceive()
		if !ok {
			if err := r.Idle(ctx); err != nil {
				return err
			}
			continue
		}

		switch msg.Type {
		case GetNeighbors:
			reply, err := NewMessage(r.id, To(msg.Src), SetNeighbors, inputNeighbors)
			if err != nil {
				return err
			}
			r.ports.DROutput.Send(reply)
		case SetTopology:
			if err := r.ApplyTopology(msg); err != nil {
				return err
			}
			topologySet = true
		case SetNeighbors:
			var neighbors Neighbors
			if err := msg.Decode(&neighbors); err != nil {
				return err
			}
			r.neighbors = neighbors
			neighborsSet = true
			r.logger.Infof("received neighbours: %v", r.NeighborIDs())
		default:
			r.logger.Debugf("ignoring %s from designated router", msg.Type)
		}
	}
	return nil
}

// ApplyTopology installs the graph carried by a SET_TOPOLOGY message and
// recomputes shortest ways and active neighbors.
func (r *Router) ApplyTopology(msg *Message) error {
	topology := NewTopology()
	if err := msg.Decode(topology); err != nil {
		return err
	}
	r.topology = topology
	r.ways = topology.ShortestWays(r.id)
	r.activeNeighbors = make(map[int]struct{})
	for _, n := range topology.Neighbors(r.id) {
		r.activeNeighbors[n] = struct{}{}
	}
	r.logger.Infof("received topology, new shortest ways: %v", r.ways)
	return nil
}
