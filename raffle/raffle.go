// Package raffle implements a time-gated lottery contract. Players pay an
// entrance fee while the round is open; once the interval has elapsed a
// keeper closes the round and asks the randomness coordinator for a word,
// and the coordinator's callback picks and pays the winner.
package raffle

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// ContractRaffleID is the contract id of the raffle.
const ContractRaffleID = "raffle"

func init() {
	log.ErrFatal(chain.RegisterContract(ContractRaffleID, contractRaffleFromBytes))
}

type contractRaffle struct {
	params *Params
}

func contractRaffleFromBytes(in []byte) (chain.Contract, error) {
	p, err := DecodeParams(in)
	if err != nil {
		return nil, err
	}
	return &contractRaffle{params: p}, nil
}

func (c *contractRaffle) ContractID() string {
	return ContractRaffleID
}

func (c *contractRaffle) Init(ctx *chain.Context) error {
	return putHeader(ctx, &header{
		State:         uint32(StateOpen),
		LastTimestamp: ctx.Now(),
	})
}

// Enter adds the sender to the current round. The attached value must cover
// the entrance fee; any excess stays in the pot.
func (c *contractRaffle) Enter(ctx *chain.Context) error {
	if v := ctx.Value(); v.Cmp(c.params.EntranceFee) < 0 {
		return xerrors.Errorf("sent %s, fee is %s: %w", v, c.params.EntranceFee,
			ErrNotEnoughPayment)
	}
	h, err := getHeader(ctx)
	if err != nil {
		return err
	}
	if State(h.State) != StateOpen {
		return ErrRaffleNotOpen
	}
	ps, err := getPlayers(ctx)
	if err != nil {
		return err
	}
	ps.Data = append(ps.Data, Player{Address: ctx.Sender()})
	if err := putPlayers(ctx, ps); err != nil {
		return err
	}
	log.Lvlf3("%s entered the raffle (%d players)", ctx.Sender().Hex(), len(ps.Data))
	return ctx.Emit(EventRaffleEnter, &RaffleEnter{Player: ctx.Sender()})
}

// CheckUpkeep reports whether the round can be closed: the raffle is open,
// the interval has elapsed, and there are players and a positive balance.
// It never writes.
func (c *contractRaffle) CheckUpkeep(ctx *chain.Context, _ []byte) (bool, []byte, error) {
	h, err := getHeader(ctx)
	if err != nil {
		return false, nil, err
	}
	ps, err := getPlayers(ctx)
	if err != nil {
		return false, nil, err
	}
	return c.upkeepNeeded(ctx, h, ps), []byte{}, nil
}

func (c *contractRaffle) upkeepNeeded(ctx *chain.Context, h *header, ps *players) bool {
	isOpen := State(h.State) == StateOpen
	now := ctx.Now()
	timePassed := now >= h.LastTimestamp && now-h.LastTimestamp >= c.params.Interval
	hasPlayers := len(ps.Data) > 0
	hasBalance := ctx.Balance(ctx.Self()).Sign() > 0
	return isOpen && timePassed && hasPlayers && hasBalance
}

// PerformUpkeep closes the round and requests a random word from the
// coordinator. It returns the request id.
func (c *contractRaffle) PerformUpkeep(ctx *chain.Context, _ []byte) (uint64, error) {
	h, err := getHeader(ctx)
	if err != nil {
		return 0, err
	}
	ps, err := getPlayers(ctx)
	if err != nil {
		return 0, err
	}
	if !c.upkeepNeeded(ctx, h, ps) {
		return 0, &UpkeepNotNeededError{
			Balance: ctx.Balance(ctx.Self()),
			Players: len(ps.Data),
			State:   State(h.State),
		}
	}

	h.State = uint32(StateCalculating)
	if err := putHeader(ctx, h); err != nil {
		return 0, err
	}

	var requestID uint64
	err = ctx.CallContract(c.params.Coordinator, nil, func(cc *chain.Context) error {
		req, ok := cc.Contract().(vrf.Requester)
		if !ok {
			return xerrors.Errorf("%s is not a coordinator", c.params.Coordinator.Hex())
		}
		var err error
		requestID, err = req.RequestRandomWords(cc, &base.RandomWordsRequest{
			KeyHash:              c.params.GasLane,
			SubID:                c.params.SubscriptionID,
			RequestConfirmations: RequestConfirmations,
			CallbackGasLimit:     c.params.CallbackGasLimit,
			NumWords:             NumWords,
			NativePayment:        c.params.EnableNativePayment,
		})
		return err
	})
	if err != nil {
		return 0, xerrors.Errorf("couldn't request randomness: %w", err)
	}
	log.Lvlf2("round closed with %d players, request %d", len(ps.Data), requestID)
	return requestID, ctx.Emit(EventRequestedRaffleWinner,
		&RequestedRaffleWinner{RequestID: requestID})
}

// RawFulfillRandomWords is the coordinator callback. The round is reset and
// committed before the pot is sent to the winner.
func (c *contractRaffle) RawFulfillRandomWords(ctx *chain.Context, requestID uint64, words []*big.Int) error {
	if ctx.Sender() != c.params.Coordinator {
		return &OnlyCoordinatorCanFulfillError{Have: ctx.Sender(), Want: c.params.Coordinator}
	}
	h, err := getHeader(ctx)
	if err != nil {
		return err
	}
	if State(h.State) != StateCalculating {
		return ErrRaffleNotCalculating
	}
	if len(words) == 0 {
		return ErrNoRandomWords
	}
	ps, err := getPlayers(ctx)
	if err != nil {
		return err
	}
	if len(ps.Data) == 0 {
		return ErrNoPlayers
	}

	idx := new(big.Int).Mod(words[0], big.NewInt(int64(len(ps.Data)))).Int64()
	winner := ps.Data[idx].Address

	h.State = uint32(StateOpen)
	h.LastTimestamp = ctx.Now()
	h.RecentWinner = winner
	if err := putHeader(ctx, h); err != nil {
		return err
	}
	if err := putPlayers(ctx, &players{}); err != nil {
		return err
	}
	if err := ctx.Emit(EventWinnerPicked, &WinnerPicked{Winner: winner}); err != nil {
		return err
	}

	pot := ctx.Balance(ctx.Self())
	if err := ctx.Transfer(winner, pot); err != nil {
		return &TransferFailedError{To: winner, Amount: pot, Err: err}
	}
	log.Lvlf2("request %d: %s won %s", requestID, winner.Hex(), pot)
	return nil
}

// RaffleState returns the current state of the round.
func (c *contractRaffle) RaffleState(ctx *chain.Context) (State, error) {
	h, err := getHeader(ctx)
	if err != nil {
		return 0, err
	}
	return State(h.State), nil
}

// Player returns the i-th entrant of the current round.
func (c *contractRaffle) Player(ctx *chain.Context, i int) (common.Address, error) {
	ps, err := getPlayers(ctx)
	if err != nil {
		return common.Address{}, err
	}
	if i < 0 || i >= len(ps.Data) {
		return common.Address{}, xerrors.Errorf("index %d of %d: %w", i, len(ps.Data),
			ErrPlayerIndexOutOfRange)
	}
	return ps.Data[i].Address, nil
}

// Status returns the mutable state of the raffle.
func (c *contractRaffle) Status(ctx *chain.Context) (*Status, error) {
	h, err := getHeader(ctx)
	if err != nil {
		return nil, err
	}
	ps, err := getPlayers(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		State:         State(h.State),
		Players:       ps.addresses(),
		Balance:       ctx.Balance(ctx.Self()),
		LastTimestamp: h.LastTimestamp,
		RecentWinner:  h.RecentWinner,
	}, nil
}

// Params returns a copy of the construction parameters.
func (c *contractRaffle) Params() *Params {
	p := *c.params
	p.EntranceFee = new(big.Int).Set(c.params.EntranceFee)
	p.SubscriptionID = new(big.Int).Set(c.params.SubscriptionID)
	return &p
}
