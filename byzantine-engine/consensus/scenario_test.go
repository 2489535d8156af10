package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

func fastScenarioConfig(proto linklayer.Protocol, loss float64) ScenarioConfig {
	arq := linklayer.DefaultConfig()
	arq.WindowSize = 16
	arq.Timeout = 5 * time.Millisecond
	arq.StalledTimeout = 2 * time.Second
	arq.PollInterval = 200 * time.Microsecond
	arq.LossProbability = loss
	return ScenarioConfig{
		Link: network.LinkConfig{
			Protocol:     proto,
			ARQ:          arq,
			PollInterval: time.Millisecond,
		},
		PollInterval: time.Millisecond,
	}
}

func runScenario(t *testing.T, s Scenario, cfg ScenarioConfig) *Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := RunScenario(ctx, s, cfg)
	require.NoError(t, err)
	require.Len(t, res.Values, s.N)
	return res
}

func TestDefaultScenariosReachAgreement(t *testing.T) {
	for _, s := range DefaultScenarios() {
		t.Run(s.Name, func(t *testing.T) {
			res := runScenario(t, s, fastScenarioConfig(linklayer.SelectiveRepeat, 0.1))

			assert.True(t, res.LoyalAgree, "values %v", res.Values)
			assert.Contains(t, res.Verdicts, VerdictLoyalAgree)
			assert.NotContains(t, res.Verdicts, VerdictTraitorsWon)
			if !s.Traitors[0] {
				assert.True(t, res.FollowsGeneral, "values %v", res.Values)
			}
		})
	}
}

func TestLieutenantTraitorsByPosition(t *testing.T) {
	s := Scenario{Name: "7_2_l1-t_l5-t", N: 7, M: 2, Traitors: []bool{false, true, false, false, false, true, false}}
	res := runScenario(t, s, fastScenarioConfig(linklayer.SelectiveRepeat, 0.1))

	assert.True(t, res.LoyalAgree)
	assert.True(t, res.FollowsGeneral)
	for i, v := range res.Values {
		if !s.Traitors[i] {
			assert.Equal(t, res.GeneralValue(), v, "node %d", i)
		}
	}
}

func TestScenarioOverGoBackN(t *testing.T) {
	s, ok := ScenarioByName("4_1_1-t")
	require.True(t, ok)
	cfg := fastScenarioConfig(linklayer.GoBackN, 0.2)
	cfg.Coin = func() bool { return true }

	res := runScenario(t, s, cfg)
	assert.True(t, res.GeneralValue())
	assert.Equal(t, []bool{true, true, true, true}, res.Values)
	assert.Equal(t, []string{VerdictLoyalAgree, VerdictFollowsGeneral}, res.Verdicts)
	assert.NotEmpty(t, res.RunID)
}

func TestScenarioOverZmq(t *testing.T) {
	s, _ := ScenarioByName("4_1_0-t")
	cfg := fastScenarioConfig(linklayer.SelectiveRepeat, 0.1)
	cfg.Medium = network.MediumZmq

	res := runScenario(t, s, cfg)
	assert.True(t, res.LoyalAgree)
}

func TestBaseCaseTakesGeneralValue(t *testing.T) {
	s := Scenario{Name: "3_0", N: 3, M: 0, Traitors: []bool{false, false, false}}
	cfg := fastScenarioConfig(linklayer.SelectiveRepeat, 0)
	cfg.Coin = func() bool { return false }

	res := runScenario(t, s, cfg)
	assert.Equal(t, []bool{false, false, false}, res.Values)
	assert.True(t, res.FollowsGeneral)
}

func TestScenarioLogsRoles(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s, _ := ScenarioByName("4_1_1-t")
	cfg := fastScenarioConfig(linklayer.SelectiveRepeat, 0)
	cfg.Logger = zap.New(core).Sugar()

	runScenario(t, s, cfg)

	assert.Equal(t, 1, logs.FilterMessage("I'm a traitor").Len())
	assert.Equal(t, 3, logs.FilterMessage("I'm not a traitor").Len())
	assert.Equal(t, 3, logs.FilterMessage("received all messages").Len())
	assert.Equal(t, 3, logs.FilterMessageSnippet("calculated value").Len())
}

func TestScenarioValidation(t *testing.T) {
	bad := []Scenario{
		{Name: "tiny", N: 1, M: 0, Traitors: []bool{false}},
		{Name: "negative", N: 4, M: -1, Traitors: make([]bool, 4)},
		{Name: "mismatch", N: 4, M: 1, Traitors: make([]bool, 3)},
	}
	for _, s := range bad {
		_, err := RunScenario(context.Background(), s, ScenarioConfig{})
		assert.ErrorIs(t, err, ErrInvalidScenario, s.Name)
	}
	_, ok := ScenarioByName("nope")
	assert.False(t, ok)
}

func TestScenarioCancelled(t *testing.T) {
	s, _ := ScenarioByName("4_1_0-t")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunScenario(ctx, s, fastScenarioConfig(linklayer.SelectiveRepeat, 0))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate(t *testing.T) {
	agree, follows, verdicts := Evaluate([]bool{true, false, false}, []bool{false, true, true})
	assert.True(t, agree)
	assert.False(t, follows)
	assert.Equal(t, []string{VerdictLoyalAgree}, verdicts)

	agree, follows, verdicts = Evaluate([]bool{false, false, false}, []bool{false, true, true})
	assert.True(t, agree)
	assert.False(t, follows)
	assert.Equal(t, []string{VerdictLoyalAgree, VerdictTraitorsWon}, verdicts)

	agree, _, verdicts = Evaluate([]bool{false, true, false, false}, []bool{true, false, true, false})
	assert.False(t, agree)
	assert.Equal(t, []string{VerdictTraitorsWon}, verdicts)
}

func TestLieutenantsReceiveExactRelayCount(t *testing.T) {
	for _, name := range []string{"4_1_0-t", "4_1_1-t", "7_2_0-t_4-t", "7_2_1-t_4-t"} {
		t.Run(name, func(t *testing.T) {
			s, ok := ScenarioByName(name)
			require.True(t, ok)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			res, roles, err := playScenario(ctx, s, fastScenarioConfig(linklayer.SelectiveRepeat, 0.2))
			require.NoError(t, err)
			require.True(t, res.LoyalAgree)
			require.Len(t, roles, s.N)

			for _, role := range roles[1:] {
				l, ok := role.(*Lieutenant)
				require.True(t, ok)

				k := len(l.NeighborIDs())
				assert.Equal(t, s.N-2, k, "lieutenant %d", l.ID())
				assert.True(t, l.Decided(), "lieutenant %d", l.ID())
				assert.Equal(t, ExpectedMessages(k, s.M), l.Received(), "lieutenant %d", l.ID())

				tree := l.Tree()
				require.NotNil(t, tree, "lieutenant %d", l.ID())
				assert.Equal(t, l.ID(), tree.Self())
				assert.Equal(t, l.Value(), tree.Fold(), "lieutenant %d", l.ID())
				for _, peer := range l.NeighborIDs() {
					_, ok := tree.Lookup(peer)
					assert.True(t, ok, "lieutenant %d is missing the relay from %d", l.ID(), peer)
				}

				for i, in := range l.Ports().Inputs {
					for {
						msg, ok := in.TryReceive()
						if !ok {
							break
						}
						assert.NotEqual(t, network.Data, msg.Type,
							"lieutenant %d input %d has a leftover relay from %d", l.ID(), i, msg.Src)
					}
				}
			}
		})
	}
}
