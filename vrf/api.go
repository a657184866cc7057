package vrf

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/kyber/v3"
	"golang.org/x/xerrors"
)

// Client sends transactions and calls to a deployed coordinator.
type Client struct {
	ledger *chain.Ledger
	addr   common.Address
}

// NewClient returns a client for the coordinator deployed at addr.
func NewClient(l *chain.Ledger, addr common.Address) *Client {
	return &Client{ledger: l, addr: addr}
}

// Deploy creates a coordinator with the given fees and a fresh proving key.
func Deploy(l *chain.Ledger, from *chain.Account, baseFee, gasPriceLink,
	weiPerUnitLink *big.Int) (*Client, error) {
	sk, err := NewProvingKey()
	if err != nil {
		return nil, xerrors.Errorf("couldn't generate proving key: %v", err)
	}
	buf, err := EncodeParams(&Params{
		BaseFee:        baseFee,
		GasPriceLink:   gasPriceLink,
		WeiPerUnitLink: weiPerUnitLink,
		ProvingKey:     sk,
	})
	if err != nil {
		return nil, err
	}
	addr, _, err := l.Deploy(from, ContractCoordinatorID, buf, nil)
	if err != nil {
		return nil, xerrors.Errorf("couldn't deploy coordinator: %v", err)
	}
	return NewClient(l, addr), nil
}

// Address returns the coordinator address.
func (c *Client) Address() common.Address {
	return c.addr
}

// Ledger returns the ledger the coordinator lives on.
func (c *Client) Ledger() *chain.Ledger {
	return c.ledger
}

func (c *Client) execute(from *chain.Account, value *big.Int, method string,
	fn func(ctx *chain.Context, co *contractCoordinator) error) (*chain.Receipt, error) {
	return c.ledger.Execute(from, c.addr, value, method, func(ctx *chain.Context) error {
		co, ok := ctx.Contract().(*contractCoordinator)
		if !ok {
			return xerrors.Errorf("%s is not a coordinator", c.addr.Hex())
		}
		return fn(ctx, co)
	})
}

func (c *Client) call(fn func(ctx *chain.Context, co *contractCoordinator) error) error {
	return c.ledger.Call(common.Address{}, c.addr, func(ctx *chain.Context) error {
		co, ok := ctx.Contract().(*contractCoordinator)
		if !ok {
			return xerrors.Errorf("%s is not a coordinator", c.addr.Hex())
		}
		return fn(ctx, co)
	})
}

// CreateSubscription creates a subscription owned by from.
func (c *Client) CreateSubscription(from *chain.Account) (*big.Int, error) {
	var subID *big.Int
	_, err := c.execute(from, nil, "createSubscription",
		func(ctx *chain.Context, co *contractCoordinator) error {
			var err error
			subID, err = co.CreateSubscription(ctx)
			return err
		})
	if err != nil {
		return nil, err
	}
	return subID, nil
}

// FundSubscription adds LINK to the subscription.
func (c *Client) FundSubscription(from *chain.Account, subID, amount *big.Int) error {
	_, err := c.execute(from, nil, "fundSubscription",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.FundSubscription(ctx, subID, amount)
		})
	return err
}

// FundSubscriptionWithNative moves amount of native currency from from into
// the subscription.
func (c *Client) FundSubscriptionWithNative(from *chain.Account, subID, amount *big.Int) error {
	_, err := c.execute(from, amount, "fundSubscriptionWithNative",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.FundSubscriptionWithNative(ctx, subID)
		})
	return err
}

// AddConsumer lets consumer request randomness billed to subID.
func (c *Client) AddConsumer(from *chain.Account, subID *big.Int, consumer common.Address) error {
	_, err := c.execute(from, nil, "addConsumer",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.AddConsumer(ctx, subID, consumer)
		})
	return err
}

// RemoveConsumer revokes a consumer of subID.
func (c *Client) RemoveConsumer(from *chain.Account, subID *big.Int, consumer common.Address) error {
	_, err := c.execute(from, nil, "removeConsumer",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.RemoveConsumer(ctx, subID, consumer)
		})
	return err
}

// CancelSubscription deletes subID and refunds its native balance to to.
func (c *Client) CancelSubscription(from *chain.Account, subID *big.Int, to common.Address) error {
	_, err := c.execute(from, nil, "cancelSubscription",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.CancelSubscription(ctx, subID, to)
		})
	return err
}

// FulfillRandomWords fulfills request id for consumer. Anyone may send it.
func (c *Client) FulfillRandomWords(from *chain.Account, id uint64,
	consumer common.Address) (*chain.Receipt, error) {
	return c.execute(from, nil, "fulfillRandomWords",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.FulfillRandomWords(ctx, id, consumer)
		})
}

// FulfillRandomWordsWithOverride fulfills request id with the given words.
func (c *Client) FulfillRandomWordsWithOverride(from *chain.Account, id uint64,
	consumer common.Address, words []*big.Int) (*chain.Receipt, error) {
	return c.execute(from, nil, "fulfillRandomWordsWithOverride",
		func(ctx *chain.Context, co *contractCoordinator) error {
			return co.FulfillRandomWordsWithOverride(ctx, id, consumer, words)
		})
}

// GetSubscription returns the owner, balances and consumers of subID.
func (c *Client) GetSubscription(subID *big.Int) (*Subscription, error) {
	var sub *Subscription
	err := c.call(func(ctx *chain.Context, co *contractCoordinator) error {
		var err error
		sub, err = co.GetSubscription(ctx, subID)
		return err
	})
	return sub, err
}

// PendingRequest returns request id if it has not been fulfilled yet.
func (c *Client) PendingRequest(id uint64) (*Request, error) {
	var req *Request
	err := c.call(func(ctx *chain.Context, co *contractCoordinator) error {
		var err error
		req, err = co.PendingRequest(ctx, id)
		return err
	})
	return req, err
}

// ProvingKey returns the public key the fulfillment proofs verify under.
func (c *Client) ProvingKey() (kyber.Point, error) {
	var pk kyber.Point
	err := c.call(func(ctx *chain.Context, co *contractCoordinator) error {
		pk = co.ProvingKey()
		return nil
	})
	return pk, err
}

// KeyHash returns the hash of the proving key, to be used as gas lane by
// consumers of this coordinator.
func (c *Client) KeyHash() (common.Hash, error) {
	pk, err := c.ProvingKey()
	if err != nil {
		return common.Hash{}, err
	}
	return base.KeyHash(pk)
}
