package consensus

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// General originates the value every lieutenant must agree on.
type General struct {
	*network.Router

	traitor bool
	coin    func() bool
	value   atomic.Bool
}

// NewGeneral creates a General on router. Its outputs must lead to the
// lieutenants.
func NewGeneral(router *network.Router, traitor bool, opts ...RoleOption) *General {
	o := newRoleOptions(opts)
	g := &General{Router: router, traitor: traitor, coin: o.coin}
	g.Logger().Infof("I'm%sa traitor", traitorTag(traitor))
	return g
}

// Traitor reports whether the General lies.
func (g *General) Traitor() bool { return g.traitor }

// Value returns the value the General chose. A traitor still has one; it
// just does not send it consistently.
func (g *General) Value() bool { return g.value.Load() }

// Run performs discovery, picks a value and sends MessageData(m-1, v, [G, L])
// to every lieutenant L. A traitor draws v afresh per lieutenant. Run returns
// once every message has been transferred.
func (g *General) Run(ctx context.Context, m int) error {
	g.StartLinks(ctx)
	defer g.StopLinks()

	if err := g.Handshake(ctx); err != nil {
		return errors.Wrapf(err, "general %d", g.ID())
	}

	value := g.coin()
	g.value.Store(value)
	g.Logger().Infof("my value is %v", value)

	for _, lieutenant := range g.NeighborIDs() {
		v := value
		if g.traitor {
			v = g.coin()
		}
		data := MessageData{M: m - 1, Value: v, Path: []int{g.ID(), lieutenant}}
		msg, err := network.NewMessage(g.ID(), network.To(lieutenant), network.Data, data)
		if err != nil {
			return err
		}
		if err := g.SendTo(lieutenant, msg); err != nil {
			return err
		}
		g.Logger().Infof("sent %v to lieutenant %d", v, lieutenant)
	}

	return g.Drain(ctx)
}
