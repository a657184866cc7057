package raffle

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

func getHeader(ctx *chain.Context) (*header, error) {
	buf, ok := ctx.Get(keyHeader)
	if !ok {
		return nil, xerrors.New("missing raffle header")
	}
	h := &header{}
	if err := protobuf.Decode(buf, h); err != nil {
		return nil, xerrors.Errorf("couldn't decode header: %v", err)
	}
	return h, nil
}

func putHeader(ctx *chain.Context, h *header) error {
	buf, err := protobuf.Encode(h)
	if err != nil {
		return xerrors.Errorf("couldn't encode header: %v", err)
	}
	return ctx.Put(keyHeader, buf)
}

func getPlayers(ctx *chain.Context) (*players, error) {
	ps := &players{}
	buf, ok := ctx.Get(keyPlayers)
	if !ok {
		return ps, nil
	}
	if err := protobuf.Decode(buf, ps); err != nil {
		return nil, xerrors.Errorf("couldn't decode players: %v", err)
	}
	return ps, nil
}

func putPlayers(ctx *chain.Context, ps *players) error {
	if len(ps.Data) == 0 {
		return ctx.Delete(keyPlayers)
	}
	buf, err := protobuf.Encode(ps)
	if err != nil {
		return xerrors.Errorf("couldn't encode players: %v", err)
	}
	return ctx.Put(keyPlayers, buf)
}

func (ps *players) addresses() []common.Address {
	out := make([]common.Address, len(ps.Data))
	for i, p := range ps.Data {
		out[i] = p.Address
	}
	return out
}

// EncodeParams encodes raffle constructor parameters.
func EncodeParams(p *Params) ([]byte, error) {
	if p.EntranceFee == nil || p.EntranceFee.Sign() <= 0 {
		return nil, xerrors.New("entrance fee must be positive")
	}
	if p.SubscriptionID == nil {
		return nil, xerrors.New("missing subscription id")
	}
	for _, v := range []*big.Int{p.EntranceFee, p.SubscriptionID} {
		if err := chain.CheckAmount(v); err != nil {
			return nil, err
		}
	}
	buf, err := protobuf.Encode(&encodedParams{
		EntranceFee:         chain.BigToHash(p.EntranceFee),
		Coordinator:         p.Coordinator,
		GasLane:             p.GasLane,
		SubscriptionID:      chain.BigToHash(p.SubscriptionID),
		CallbackGasLimit:    p.CallbackGasLimit,
		EnableNativePayment: p.EnableNativePayment,
		Interval:            p.Interval,
	})
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode raffle params: %v", err)
	}
	return buf, nil
}

// DecodeParams decodes raffle constructor parameters.
func DecodeParams(buf []byte) (*Params, error) {
	ep := &encodedParams{}
	if err := protobuf.Decode(buf, ep); err != nil {
		return nil, xerrors.Errorf("couldn't decode raffle params: %v", err)
	}
	return &Params{
		EntranceFee:         ep.EntranceFee.Big(),
		Coordinator:         ep.Coordinator,
		GasLane:             ep.GasLane,
		SubscriptionID:      ep.SubscriptionID.Big(),
		CallbackGasLimit:    ep.CallbackGasLimit,
		EnableNativePayment: ep.EnableNativePayment,
		Interval:            ep.Interval,
	}, nil
}

// ParseEnter decodes a RaffleEnter log.
func ParseEnter(lg *chain.Log) (*RaffleEnter, error) {
	ev := &RaffleEnter{}
	return ev, parse(lg, EventRaffleEnter, ev)
}

// ParseRequestedWinner decodes a RequestedRaffleWinner log.
func ParseRequestedWinner(lg *chain.Log) (*RequestedRaffleWinner, error) {
	ev := &RequestedRaffleWinner{}
	return ev, parse(lg, EventRequestedRaffleWinner, ev)
}

// ParseWinnerPicked decodes a WinnerPicked log.
func ParseWinnerPicked(lg *chain.Log) (*WinnerPicked, error) {
	ev := &WinnerPicked{}
	return ev, parse(lg, EventWinnerPicked, ev)
}

func parse(lg *chain.Log, name string, v interface{}) error {
	if lg.Name != name {
		return xerrors.Errorf("expected %s log, got %s", name, lg.Name)
	}
	return lg.Decode(v)
}
