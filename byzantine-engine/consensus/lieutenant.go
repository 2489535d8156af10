package consensus

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// Lieutenant runs OM(m): it relays what it hears to its peers, collects the
// relays addressed to it into a Tree, and decides by folding the tree.
//
// Input 0 must be the link from the General; the remaining inputs and all
// outputs connect the peer lieutenants.
type Lieutenant struct {
	*network.Router

	traitor  bool
	coin     func() bool
	value    atomic.Bool
	decided  atomic.Bool
	received atomic.Int64
	tree     *Tree
}

// NewLieutenant creates a Lieutenant on router.
func NewLieutenant(router *network.Router, traitor bool, opts ...RoleOption) *Lieutenant {
	o := newRoleOptions(opts)
	l := &Lieutenant{Router: router, traitor: traitor, coin: o.coin}
	l.Logger().Infof("I'm%sa traitor", traitorTag(traitor))
	return l
}

// Traitor reports whether the lieutenant lies when relaying.
func (l *Lieutenant) Traitor() bool { return l.traitor }

// Value returns the decision. It is false until Decided.
func (l *Lieutenant) Value() bool { return l.value.Load() }

// Decided reports whether Run reached a decision.
func (l *Lieutenant) Decided() bool { return l.decided.Load() }

// Received returns how many relay messages have been collected.
func (l *Lieutenant) Received() int { return int(l.received.Load()) }

// Tree returns the agreement tree after Run, or nil when m was 0.
func (l *Lieutenant) Tree() *Tree { return l.tree }

// Run performs discovery and OM(m), then waits for its own relays to be
// transferred before returning.
func (l *Lieutenant) Run(ctx context.Context, m int) error {
	l.StartLinks(ctx)
	defer l.StopLinks()

	if err := l.Handshake(ctx); err != nil {
		return errors.Wrapf(err, "lieutenant %d", l.ID())
	}

	generalID, generalValue, err := l.receiveGeneralValue(ctx)
	if err != nil {
		return errors.Wrapf(err, "lieutenant %d", l.ID())
	}

	if m == 0 || len(l.NeighborIDs()) == 0 {
		l.decide(generalValue)
		return nil
	}

	tree, err := l.createTree(ctx, m, generalID, generalValue)
	if err != nil {
		return errors.Wrapf(err, "lieutenant %d", l.ID())
	}
	l.tree = tree

	l.Logger().Info("started to calculate value")
	value := tree.Fold()
	l.Logger().Debugf("calculated tree:\n%s", tree)
	l.decide(value)

	return l.Drain(ctx)
}

func (l *Lieutenant) decide(value bool) {
	l.value.Store(value)
	l.decided.Store(true)
	l.Logger().Infof("calculated value %v", value)
}

func (l *Lieutenant) receiveGeneralValue(ctx context.Context) (int, bool, error) {
	inputs := l.Ports().Inputs
	if len(inputs) == 0 {
		return 0, false, errors.New("no link from the general")
	}
	for {
		msg, err := inputs[0].Receive(ctx)
		if err != nil {
			return 0, false, err
		}
		if msg.Type != network.Data {
			continue
		}
		data, err := decodeData(msg)
		if err != nil {
			l.Logger().Warn(err)
			continue
		}
		l.Logger().Infof("received value from general: %v", data.Value)
		return msg.Src, data.Value, nil
	}
}

func (l *Lieutenant) createTree(ctx context.Context, m, generalID int, generalValue bool) (*Tree, error) {
	tree := NewTree(generalID, l.ID(), generalValue)
	expected := ExpectedMessages(len(l.NeighborIDs()), m)

	if err := l.relay(m-2, generalValue, []int{generalID, l.ID()}); err != nil {
		return nil, err
	}

	inputs := l.Ports().Inputs[1:]
	for l.Received() < expected {
		busy := false
		for _, link := range inputs {
			msg, ok := link.TryReceive()
			if !ok {
				continue
			}
			busy = true
			if msg.Type != network.Data {
				continue
			}
			n := l.received.Add(1)

			data, err := decodeData(msg)
			if err != nil {
				l.Logger().Warn(err)
				continue
			}
			l.Logger().Infof("received message (%d) from %d: %v, %v", n, msg.Src, data.Value, data.Path)
			if err := tree.Insert(data.Path, data.Value); err != nil {
				l.Logger().Warnf("message from %d: %v", msg.Src, err)
			}
			if data.M >= 0 {
				if err := l.relay(data.M-1, data.Value, data.Path); err != nil {
					return nil, err
				}
			}
		}
		if !busy {
			if err := l.Idle(ctx); err != nil {
				return nil, err
			}
		}
	}

	l.Logger().Info("received all messages")
	return tree, nil
}

// relay sends value to every peer not yet on path. A traitor draws a fresh
// value for each peer.
func (l *Lieutenant) relay(m int, value bool, path []int) error {
	received := MessageData{Path: path}
	for _, peer := range l.NeighborIDs() {
		if received.Visited(peer) {
			continue
		}
		v := value
		if l.traitor {
			v = l.coin()
		}
		data := MessageData{M: m, Value: v, Path: extend(path, peer)}
		msg, err := network.NewMessage(l.ID(), network.To(peer), network.Data, data)
		if err != nil {
			return err
		}
		if err := l.SendTo(peer, msg); err != nil {
			return err
		}
		l.Logger().Infof("sent message to %d: %v, %v", peer, v, data.Path)
	}
	return nil
}
