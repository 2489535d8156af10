package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// ErrInvalidScenario is returned for scenarios that cannot be wired.
var ErrInvalidScenario = errors.New("invalid scenario")

// Verdicts reported by Evaluate.
const (
	VerdictLoyalAgree     = "all loyal lieutenants have the same values"
	VerdictFollowsGeneral = "all loyal lieutenants have the same value as a loyal general"
	VerdictTraitorsWon    = "traitors have won"
)

// Scenario describes one agreement run. Traitors is indexed by node id:
// entry 0 is the General and entries 1..N-1 are the lieutenants.
type Scenario struct {
	Name     string `json:"name"`
	N        int    `json:"n"`
	M        int    `json:"m"`
	Traitors []bool `json:"traitors"`
}

// Validate checks the scenario shape.
func (s Scenario) Validate() error {
	switch {
	case s.N < 2:
		return errors.Wrapf(ErrInvalidScenario, "%s: need a general and at least one lieutenant, got %d nodes", s.Name, s.N)
	case s.M < 0:
		return errors.Wrapf(ErrInvalidScenario, "%s: negative recursion bound %d", s.Name, s.M)
	case len(s.Traitors) != s.N:
		return errors.Wrapf(ErrInvalidScenario, "%s: %d traitor flags for %d nodes", s.Name, len(s.Traitors), s.N)
	}
	return nil
}

// TraitorCount returns how many nodes are traitors.
func (s Scenario) TraitorCount() int {
	count := 0
	for _, t := range s.Traitors {
		if t {
			count++
		}
	}
	return count
}

// DefaultScenarios returns the reference scenarios.
func DefaultScenarios() []Scenario {
	return []Scenario{
		{Name: "4_1_0-t", N: 4, M: 1, Traitors: []bool{true, false, false, false}},
		{Name: "4_1_1-t", N: 4, M: 1, Traitors: []bool{false, true, false, false}},
		{Name: "7_2_0-t_4-t", N: 7, M: 2, Traitors: []bool{true, false, false, false, true, false, false}},
		{Name: "7_2_1-t_4-t", N: 7, M: 2, Traitors: []bool{false, true, false, false, true, false, false}},
	}
}

// ScenarioByName looks up one of DefaultScenarios.
func ScenarioByName(name string) (Scenario, bool) {
	for _, s := range DefaultScenarios() {
		if s.Name == name {
			return s, true
		}
	}
	return Scenario{}, false
}

// ScenarioConfig parameterizes RunScenario.
type ScenarioConfig struct {
	Link         network.LinkConfig
	Medium       network.Medium
	PollInterval time.Duration
	Logger       *zap.SugaredLogger
	Observer     network.MessageObserver
	// Coin replaces the random boolean source of every role when set.
	Coin func() bool
}

// Result is the outcome of one scenario run.
type Result struct {
	RunID          string        `json:"run_id"`
	Scenario       string        `json:"scenario"`
	Values         []bool        `json:"values"`
	Traitors       []bool        `json:"traitors"`
	LoyalAgree     bool          `json:"loyal_agree"`
	FollowsGeneral bool          `json:"follows_general"`
	Verdicts       []string      `json:"verdicts"`
	Elapsed        time.Duration `json:"elapsed"`
}

// GeneralValue returns the General's chosen value.
func (r *Result) GeneralValue() bool { return r.Values[0] }

// Evaluate checks the agreement properties for values indexed by node id.
// LoyalAgree holds when every loyal lieutenant decided the same value.
// FollowsGeneral additionally requires a loyal General whose value they share.
func Evaluate(traitors, values []bool) (loyalAgree, followsGeneral bool, verdicts []string) {
	var loyal []bool
	for i := 1; i < len(values); i++ {
		if !traitors[i] {
			loyal = append(loyal, values[i])
		}
	}

	loyalAgree = true
	for _, v := range loyal {
		if v != loyal[0] {
			loyalAgree = false
			break
		}
	}
	if !loyalAgree {
		return false, false, []string{VerdictTraitorsWon}
	}

	verdicts = []string{VerdictLoyalAgree}
	if !traitors[0] {
		if len(loyal) == 0 || values[0] == loyal[0] {
			followsGeneral = true
			verdicts = append(verdicts, VerdictFollowsGeneral)
		} else {
			verdicts = append(verdicts, VerdictTraitorsWon)
		}
	}
	return loyalAgree, followsGeneral, verdicts
}

// RunScenario wires the General, the lieutenants and a designated router,
// runs OM(s.M) to completion and evaluates the decisions.
func RunScenario(ctx context.Context, s Scenario, cfg ScenarioConfig) (*Result, error) {
	res, _, err := playScenario(ctx, s, cfg)
	return res, err
}

// playScenario is RunScenario that also hands back the finished roles,
// indexed by node id.
func playScenario(ctx context.Context, s Scenario, cfg ScenarioConfig) (*Result, []Role, error) {
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.Medium == "" {
		cfg.Medium = network.MediumMemory
	}

	runID := uuid.NewString()
	logger := cfg.Logger.With("scenario", s.Name, "run", runID)
	start := time.Now()

	meshOpts := []network.MeshOption{network.WithMedium(cfg.Medium), network.WithMeshLogger(logger.Named("link"))}
	if cfg.Observer != nil {
		meshOpts = append(meshOpts, network.WithMeshObserver(cfg.Observer))
	}
	mesh := network.NewMesh(cfg.Link, meshOpts...)
	defer mesh.Close()

	wiring, err := mesh.Wire(agreementAdjacency(s.N))
	if err != nil {
		return nil, nil, err
	}

	var roleOpts []RoleOption
	if cfg.Coin != nil {
		roleOpts = append(roleOpts, WithCoin(cfg.Coin))
	}
	roles := make([]Role, s.N)
	for i := range s.N {
		router := network.NewRouter(i, wiring.Ports[i],
			network.WithRouterLogger(logger.Named(fmt.Sprintf("R_%d", i)).With("id", i)),
			network.WithPollInterval(cfg.PollInterval))
		if i == 0 {
			roles[i] = NewGeneral(router, s.Traitors[i], roleOpts...)
		} else {
			roles[i] = NewLieutenant(router, s.Traitors[i], roleOpts...)
		}
	}

	dr := network.NewDesignatedRouter(wiring.DRInputs, wiring.DROutputs,
		network.WithDesignatedRouterLogger(logger.Named("DR").With("id", network.DesignatedRouterID)),
		network.WithDesignatedRouterPollInterval(cfg.PollInterval))

	drCtx, stopDR := context.WithCancel(ctx)
	defer stopDR()
	drDone := make(chan error, 1)
	go func() { drDone <- dr.Run(drCtx, nil) }()

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range roles {
		g.Go(func() error { return role.Run(gctx, s.M) })
	}
	roleErr := g.Wait()
	stopDR()
	drErr := <-drDone

	if roleErr != nil {
		return nil, nil, roleErr
	}
	if drErr != nil {
		return nil, nil, errors.Wrap(drErr, "designated router")
	}

	values := make([]bool, s.N)
	for i, role := range roles {
		values[i] = role.Value()
	}
	agree, follows, verdicts := Evaluate(s.Traitors, values)
	res := &Result{
		RunID:          runID,
		Scenario:       s.Name,
		Values:         values,
		Traitors:       append([]bool(nil), s.Traitors...),
		LoyalAgree:     agree,
		FollowsGeneral: follows,
		Verdicts:       verdicts,
		Elapsed:        time.Since(start),
	}
	for _, v := range verdicts {
		logger.Info(v)
	}
	return res, roles, nil
}

// agreementAdjacency connects the General to every lieutenant and every
// lieutenant to each other. Wire appends inputs in sender order, so each
// lieutenant's input 0 is the General's link.
func agreementAdjacency(n int) [][]int {
	adjacency := make([][]int, n)
	for l := 1; l < n; l++ {
		adjacency[0] = append(adjacency[0], l)
		for peer := 1; peer < n; peer++ {
			if peer != l {
				adjacency[l] = append(adjacency[l], peer)
			}
		}
	}
	return adjacency
}
