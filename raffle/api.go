package raffle

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/xerrors"
)

// Client sends transactions and calls to a deployed raffle.
type Client struct {
	ledger *chain.Ledger
	addr   common.Address
}

// NewClient returns a client for the raffle deployed at addr.
func NewClient(l *chain.Ledger, addr common.Address) *Client {
	return &Client{ledger: l, addr: addr}
}

// Deploy creates a raffle owned by from.
func Deploy(l *chain.Ledger, from *chain.Account, p *Params) (*Client, *chain.Receipt, error) {
	buf, err := EncodeParams(p)
	if err != nil {
		return nil, nil, err
	}
	addr, r, err := l.Deploy(from, ContractRaffleID, buf, nil)
	if err != nil {
		return nil, r, xerrors.Errorf("couldn't deploy raffle: %v", err)
	}
	return NewClient(l, addr), r, nil
}

// Address returns the raffle address.
func (c *Client) Address() common.Address {
	return c.addr
}

func (c *Client) execute(from *chain.Account, value *big.Int, method string,
	fn func(ctx *chain.Context, r *contractRaffle) error) (*chain.Receipt, error) {
	return c.ledger.Execute(from, c.addr, value, method, func(ctx *chain.Context) error {
		r, ok := ctx.Contract().(*contractRaffle)
		if !ok {
			return xerrors.Errorf("%s is not a raffle", c.addr.Hex())
		}
		return fn(ctx, r)
	})
}

func (c *Client) call(fn func(ctx *chain.Context, r *contractRaffle) error) error {
	return c.ledger.Call(common.Address{}, c.addr, func(ctx *chain.Context) error {
		r, ok := ctx.Contract().(*contractRaffle)
		if !ok {
			return xerrors.Errorf("%s is not a raffle", c.addr.Hex())
		}
		return fn(ctx, r)
	})
}

// Enter buys a ticket for from, paying value.
func (c *Client) Enter(from *chain.Account, value *big.Int) (*chain.Receipt, error) {
	return c.execute(from, value, "enterRaffle", func(ctx *chain.Context, r *contractRaffle) error {
		return r.Enter(ctx)
	})
}

// CheckUpkeep runs the upkeep check as a static call.
func (c *Client) CheckUpkeep(data []byte) (bool, []byte, error) {
	var needed bool
	var perform []byte
	err := c.call(func(ctx *chain.Context, r *contractRaffle) error {
		var err error
		needed, perform, err = r.CheckUpkeep(ctx, data)
		return err
	})
	return needed, perform, err
}

// PerformUpkeep closes the round from from's account and returns the id of
// the randomness request.
func (c *Client) PerformUpkeep(from *chain.Account, data []byte) (uint64, *chain.Receipt, error) {
	var id uint64
	r, err := c.execute(from, nil, "performUpkeep", func(ctx *chain.Context, r *contractRaffle) error {
		var err error
		id, err = r.PerformUpkeep(ctx, data)
		return err
	})
	return id, r, err
}

func (c *Client) params() (*Params, error) {
	var p *Params
	err := c.call(func(ctx *chain.Context, r *contractRaffle) error {
		p = r.Params()
		return nil
	})
	return p, err
}

// EntranceFee returns the minimum value accepted by Enter.
func (c *Client) EntranceFee() (*big.Int, error) {
	p, err := c.params()
	if err != nil {
		return nil, err
	}
	return p.EntranceFee, nil
}

// GasLane returns the key hash sent with randomness requests.
func (c *Client) GasLane() (common.Hash, error) {
	p, err := c.params()
	if err != nil {
		return common.Hash{}, err
	}
	return p.GasLane, nil
}

// CallbackGasLimit returns the gas limit requested for the fulfillment.
func (c *Client) CallbackGasLimit() (uint32, error) {
	p, err := c.params()
	if err != nil {
		return 0, err
	}
	return p.CallbackGasLimit, nil
}

// Interval returns the minimum length of a round in seconds.
func (c *Client) Interval() (uint64, error) {
	p, err := c.params()
	if err != nil {
		return 0, err
	}
	return p.Interval, nil
}

// EnableNativePayment tells whether requests are paid in native currency.
func (c *Client) EnableNativePayment() (bool, error) {
	p, err := c.params()
	if err != nil {
		return false, err
	}
	return p.EnableNativePayment, nil
}

// SubscriptionID returns the subscription billed for randomness.
func (c *Client) SubscriptionID() (*big.Int, error) {
	p, err := c.params()
	if err != nil {
		return nil, err
	}
	return p.SubscriptionID, nil
}

// Coordinator returns the address of the randomness coordinator.
func (c *Client) Coordinator() (common.Address, error) {
	p, err := c.params()
	if err != nil {
		return common.Address{}, err
	}
	return p.Coordinator, nil
}

// RaffleState returns whether the raffle is open or calculating.
func (c *Client) RaffleState() (State, error) {
	var st State
	err := c.call(func(ctx *chain.Context, r *contractRaffle) error {
		var err error
		st, err = r.RaffleState(ctx)
		return err
	})
	return st, err
}

// Player returns the i-th entrant, or ErrPlayerIndexOutOfRange.
func (c *Client) Player(i int) (common.Address, error) {
	var addr common.Address
	err := c.call(func(ctx *chain.Context, r *contractRaffle) error {
		var err error
		addr, err = r.Player(ctx, i)
		return err
	})
	return addr, err
}

// Status returns the mutable state of the raffle in one call.
func (c *Client) Status() (*Status, error) {
	var st *Status
	err := c.call(func(ctx *chain.Context, r *contractRaffle) error {
		var err error
		st, err = r.Status(ctx)
		return err
	})
	return st, err
}

// NumPlayers returns the number of entrants of the current round.
func (c *Client) NumPlayers() (int, error) {
	st, err := c.Status()
	if err != nil {
		return 0, err
	}
	return len(st.Players), nil
}

// RecentWinner is the zero address until the first round completes.
func (c *Client) RecentWinner() (common.Address, error) {
	st, err := c.Status()
	if err != nil {
		return common.Address{}, err
	}
	return st.RecentWinner, nil
}

// LatestTimestamp returns the time the current round started.
func (c *Client) LatestTimestamp() (uint64, error) {
	st, err := c.Status()
	if err != nil {
		return 0, err
	}
	return st.LastTimestamp, nil
}

// RequestConfirmations returns the confirmations asked of the coordinator.
func (c *Client) RequestConfirmations() uint16 {
	return RequestConfirmations
}

// NumWords returns the number of random words requested per round.
func (c *Client) NumWords() uint32 {
	return NumWords
}
