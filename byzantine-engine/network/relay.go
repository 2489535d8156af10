package network

import (
	"context"
	"fmt"
	"maps"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Delivery records a DATA message that reached its destination.
type Delivery struct {
	Router int   `json:"router"`
	Src    int   `json:"src"`
	Path   []int `json:"path"`
}

// RelayOption customizes a RelayRouter.
type RelayOption func(*RelayRouter)

// WithPicker sets how a destination is chosen among n candidates.
func WithPicker(pick func(n int) int) RelayOption {
	return func(r *RelayRouter) { r.pick = pick }
}

// RelayRouter forwards DATA messages along shortest ways and originates one
// message to a random destination on every send trigger.
type RelayRouter struct {
	*Router

	trigger chan struct{}
	pick    func(n int) int
	ready   atomic.Bool
	active  atomic.Bool

	mu         sync.Mutex
	deliveries []Delivery
	forwarded  int
}

// NewRelayRouter wraps router with forwarding behavior.
func NewRelayRouter(router *Router, opts ...RelayOption) *RelayRouter {
	r := &RelayRouter{
		Router:  router,
		trigger: make(chan struct{}, 1),
		pick:    rand.IntN,
	}
	r.active.Store(true)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TriggerSend asks the router to originate one message. Triggers coalesce
// until the router handles them.
func (r *RelayRouter) TriggerSend() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Ready reports whether the handshake has finished.
func (r *RelayRouter) Ready() bool { return r.ready.Load() }

// Active reports whether the router is still connected.
func (r *RelayRouter) Active() bool { return r.active.Load() }

// Deliveries returns the messages addressed to this router.
func (r *RelayRouter) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.deliveries)
}

// Forwarded returns how many messages this router relayed.
func (r *RelayRouter) Forwarded() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forwarded
}

// Run performs the handshake and then relays traffic until ctx is done.
func (r *RelayRouter) Run(ctx context.Context) error {
	r.StartLinks(ctx)
	defer r.StopLinks()

	if err := r.Handshake(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.Wrapf(err, "router %d", r.ID())
	}
	r.ready.Store(true)

	for ctx.Err() == nil {
		busy := false

		for _, link := range r.ports.Inputs {
			if msg, ok := link.TryReceive(); ok {
				busy = true
				if msg.Type == Data && r.Active() {
					r.handleData(msg)
				}
			}
		}

		select {
		case <-r.trigger:
			if r.Active() {
				r.originate()
			}
		default:
		}

		if msg, ok := r.ports.DRInput.TryReceive(); ok {
			busy = true
			switch msg.Type {
			case SetTopology:
				if err := r.ApplyTopology(msg); err != nil {
					r.logger.Warnf("bad topology: %v", err)
				}
			case Disconnect:
				r.active.Store(false)
				r.logger.Info("disconnected by designated router")
			}
		}

		if !busy {
			if err := r.Idle(ctx); err != nil {
				break
			}
		}
	}
	return nil
}

func (r *RelayRouter) handleData(msg *Message) {
	var path []int
	if err := msg.Decode(&path); err != nil {
		r.logger.Warnf("bad data from %d: %v", msg.Src, err)
		return
	}

	if msg.HasDst(r.ID()) {
		r.mu.Lock()
		r.deliveries = append(r.deliveries, Delivery{Router: r.ID(), Src: msg.Src, Path: path})
		r.mu.Unlock()
		r.logger.Infof("received message from %d: %v", msg.Src, path)
		return
	}

	if msg.Dst == nil {
		r.logger.Infof("cannot transfer message from %d without destination", msg.Src)
		return
	}
	dst := *msg.Dst
	way := r.ways[dst]
	if len(way) < 2 {
		r.logger.Infof("cannot transfer message from %d to %d", msg.Src, dst)
		return
	}

	path = append(path, r.ID())
	fwd, err := NewMessage(msg.Src, msg.Dst, Data, path)
	if err != nil {
		r.logger.Errorf("re-encode data: %v", err)
		return
	}
	if err := r.SendTo(way[1], fwd); err != nil {
		r.logger.Warnf("forward to %d: %v", way[1], err)
		return
	}
	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
	r.logger.Infof("transferred message from %d to %d: %v", msg.Src, dst, path)
}

func (r *RelayRouter) originate() {
	nodes := slices.Sorted(maps.Keys(r.ways))
	if len(nodes) == 0 {
		r.logger.Info("no destinations known")
		return
	}
	dst := nodes[r.pick(len(nodes))]
	way := r.ways[dst]
	if len(way) < 2 {
		r.logger.Infof("cannot send message to %d", dst)
		return
	}
	msg, err := NewMessage(r.ID(), To(dst), Data, []int{r.ID()})
	if err != nil {
		r.logger.Errorf("encode data: %v", err)
		return
	}
	if err := r.SendTo(way[1], msg); err != nil {
		r.logger.Warnf("send to %d: %v", dst, err)
		return
	}
	r.logger.Infof("sent message to %d", dst)
}

// RelayNode is one router of a relay topology: the peers it has output links
// to and its chance of being disconnected.
type RelayNode struct {
	Neighbors             []int   `json:"neighbors"`
	DisconnectProbability float64 `json:"disconnect_probability"`
}

// RelayTopology is a named list of relay nodes indexed by id.
type RelayTopology struct {
	Name  string      `json:"name"`
	Nodes []RelayNode `json:"nodes"`
}

// RelayTopologies returns the line, circle and star topologies.
func RelayTopologies() []RelayTopology {
	return []RelayTopology{
		{Name: "line", Nodes: []RelayNode{
			{[]int{1}, 0.9}, {[]int{0, 2}, 0.1}, {[]int{1, 3}, 0.9}, {[]int{2, 4}, 0.9}, {[]int{3}, 0.9},
		}},
		{Name: "circle", Nodes: []RelayNode{
			{[]int{1}, 0.9}, {[]int{2}, 0.1}, {[]int{3}, 0.9}, {[]int{4}, 0.9}, {[]int{0}, 0.9},
		}},
		{Name: "star", Nodes: []RelayNode{
			{[]int{1, 2, 3, 4}, 0.1}, {[]int{0}, 0.9}, {[]int{0}, 0.9}, {[]int{0}, 0.9}, {[]int{0}, 0.9},
		}},
	}
}

// RelayTopologyByName looks up one of RelayTopologies.
func RelayTopologyByName(name string) (RelayTopology, bool) {
	for _, t := range RelayTopologies() {
		if t.Name == name {
			return t, true
		}
	}
	return RelayTopology{}, false
}

// RelayScenarioConfig parameterizes RunRelayScenario.
type RelayScenarioConfig struct {
	Link         LinkConfig
	Medium       Medium
	Settle       time.Duration
	PollInterval time.Duration
	Logger       *zap.SugaredLogger
	Observer     MessageObserver

	// DisconnectRand and Pick replace the random sources when set.
	DisconnectRand func() float64
	Pick           func(n int) int
}

// RelayReport is the outcome of a relay scenario.
type RelayReport struct {
	Topology     string          `json:"topology"`
	Broadcasts   []*Topology     `json:"broadcasts"`
	Deliveries   []Delivery      `json:"deliveries"`
	Forwarded    int             `json:"forwarded"`
	Disconnected []int           `json:"disconnected"`
	Ways         map[int][][]int `json:"-"`
}

// RunRelayScenario wires the topology to a designated router and runs the
// phases: wait for every handshake, send, settle, disconnect one router,
// settle, send again, settle, stop.
func RunRelayScenario(ctx context.Context, topo RelayTopology, cfg RelayScenarioConfig) (*RelayReport, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Medium == "" {
		cfg.Medium = MediumMemory
	}
	if cfg.Settle <= 0 {
		cfg.Settle = time.Second
	}
	logger := cfg.Logger.With("topology", topo.Name)

	meshOpts := []MeshOption{WithMedium(cfg.Medium), WithMeshLogger(logger.Named("link"))}
	if cfg.Observer != nil {
		meshOpts = append(meshOpts, WithMeshObserver(cfg.Observer))
	}
	mesh := NewMesh(cfg.Link, meshOpts...)
	defer mesh.Close()

	n := len(topo.Nodes)
	adjacency := make([][]int, n)
	probabilities := make(map[int]float64, n)
	for i, node := range topo.Nodes {
		adjacency[i] = node.Neighbors
		probabilities[i] = node.DisconnectProbability
	}
	wiring, err := mesh.Wire(adjacency)
	if err != nil {
		return nil, errors.Wrapf(err, "wire %s", topo.Name)
	}

	report := &RelayReport{Topology: topo.Name}
	var hookMu sync.Mutex
	drOpts := []DesignatedRouterOption{
		WithDisconnectProbabilities(probabilities),
		WithDesignatedRouterLogger(logger.Named("DR").With("id", DesignatedRouterID)),
		WithDesignatedRouterPollInterval(cfg.PollInterval),
		WithTopologyHook(func(_ int, t *Topology) {
			hookMu.Lock()
			report.Broadcasts = append(report.Broadcasts, t)
			hookMu.Unlock()
		}),
	}
	if cfg.DisconnectRand != nil {
		drOpts = append(drOpts, WithRand(cfg.DisconnectRand))
	}
	dr := NewDesignatedRouter(wiring.DRInputs, wiring.DROutputs, drOpts...)

	routers := make([]*RelayRouter, n)
	for i := range topo.Nodes {
		base := NewRouter(i, wiring.Ports[i],
			WithRouterLogger(logger.Named(fmt.Sprintf("R_%d", i)).With("id", i)),
			WithPollInterval(cfg.PollInterval))
		var relayOpts []RelayOption
		if cfg.Pick != nil {
			relayOpts = append(relayOpts, WithPicker(cfg.Pick))
		}
		routers[i] = NewRelayRouter(base, relayOpts...)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	disconnect := make(chan struct{}, 1)

	g.Go(func() error { return dr.Run(gctx, disconnect) })
	for _, r := range routers {
		g.Go(func() error { return r.Run(gctx) })
	}

	phases := func() error {
		if err := waitReady(gctx, routers, cfg.PollInterval); err != nil {
			return err
		}
		logger.Info("all routers ready")
		sendAll(routers)
		if err := sleepCtx(gctx, cfg.Settle); err != nil {
			return err
		}
		disconnect <- struct{}{}
		if err := sleepCtx(gctx, cfg.Settle); err != nil {
			return err
		}
		sendAll(routers)
		return sleepCtx(gctx, cfg.Settle)
	}
	phaseErr := phases()
	cancel()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if phaseErr != nil {
		return nil, phaseErr
	}

	report.Ways = make(map[int][][]int, n)
	for _, r := range routers {
		report.Deliveries = append(report.Deliveries, r.Deliveries()...)
		report.Forwarded += r.Forwarded()
		if !r.Active() {
			report.Disconnected = append(report.Disconnected, r.ID())
		}
		for _, dst := range slices.Sorted(maps.Keys(r.Ways())) {
			report.Ways[r.ID()] = append(report.Ways[r.ID()], r.Ways()[dst])
		}
	}
	return report, nil
}

func sendAll(routers []*RelayRouter) {
	for _, r := range routers {
		r.TriggerSend()
	}
}

func waitReady(ctx context.Context, routers []*RelayRouter, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultLinkConfig().PollInterval
	}
	for {
		ready := true
		for _, r := range routers {
			ready = ready && r.Ready()
		}
		if ready {
			return nil
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
