package consensus

import (
	"context"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/network"
)

// Role is an agreement participant: a router that performs discovery and
// then runs OM(m).
type Role interface {
	network.Handshaker
	ID() int
	Traitor() bool
	Run(ctx context.Context, m int) error
	Value() bool
}

// RoleOption customizes a General or Lieutenant.
type RoleOption func(*roleOptions)

type roleOptions struct {
	coin func() bool
}

// WithCoin replaces the random boolean source used for the General's value
// and for every traitor lie.
func WithCoin(coin func() bool) RoleOption {
	return func(o *roleOptions) { o.coin = coin }
}

func newRoleOptions(opts []RoleOption) roleOptions {
	o := roleOptions{coin: func() bool { return rand.IntN(2) == 1 }}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func decodeData(msg *network.Message) (MessageData, error) {
	var data MessageData
	if err := msg.Decode(&data); err != nil {
		return data, errors.Wrapf(err, "agreement data from %d", msg.Src)
	}
	return data, nil
}

func traitorTag(traitor bool) string {
	if traitor {
		return " "
	}
	return " not "
}
