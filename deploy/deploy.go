// Package deploy provisions a raffle on a ledger the way the deployment
// scripts of a network do: mocks and a funded subscription on development
// chains, the configured coordinator and subscription elsewhere.
package deploy

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/config"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/vrf"
	"github.com/ethereum/go-ethereum/common"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// Result holds the deployed contracts.
type Result struct {
	Raffle         *raffle.Client
	Coordinator    *vrf.Client
	SubscriptionID *big.Int
	// Mocked is true when the coordinator was deployed by Deploy.
	Mocked bool
}

// Mocks deploys the mock coordinator if n is a development chain. It
// returns nil otherwise.
func Mocks(l *chain.Ledger, deployer *chain.Account, cfg *config.Config,
	n *config.Network) (*vrf.Client, error) {
	if !cfg.IsDevelopment(n) {
		return nil, nil
	}
	log.Lvl1("Local network detected! Deploying mocks...")
	c, err := vrf.Deploy(l, deployer, cfg.Mocks.BaseFee.Big(),
		cfg.Mocks.GasPriceLink.Big(), cfg.Mocks.WeiPerUnitLink.Big())
	if err != nil {
		return nil, err
	}
	log.Lvl1("Mocks deployed at", c.Address().Hex())
	return c, nil
}

// Deploy deploys the raffle configured for the chain of l.
func Deploy(l *chain.Ledger, deployer *chain.Account, cfg *config.Config) (*Result, error) {
	n, err := cfg.Network(l.ChainID())
	if err != nil {
		return nil, err
	}
	mock, err := Mocks(l, deployer, cfg, n)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if mock != nil {
		res.Coordinator = mock
		res.Mocked = true
		res.SubscriptionID, err = createSubscription(mock, deployer)
		if err != nil {
			return nil, err
		}
		if err := mock.FundSubscription(deployer, res.SubscriptionID,
			cfg.SubscriptionFund.Big()); err != nil {
			return nil, xerrors.Errorf("couldn't fund subscription: %v", err)
		}
	} else {
		if _, ok := l.CodeAt(n.VRFCoordinator); !ok {
			return nil, xerrors.Errorf("no coordinator at %s: %w", n.VRFCoordinator.Hex(),
				chain.ErrNoCode)
		}
		res.Coordinator = vrf.NewClient(l, n.VRFCoordinator)
		res.SubscriptionID = n.SubscriptionID.Big()
	}

	res.Raffle, _, err = raffle.Deploy(l, deployer, &raffle.Params{
		EntranceFee:         n.EntranceFee.Big(),
		Coordinator:         res.Coordinator.Address(),
		GasLane:             n.GasLane,
		SubscriptionID:      res.SubscriptionID,
		CallbackGasLimit:    n.CallbackGasLimit,
		EnableNativePayment: n.EnableNativePayment,
		Interval:            n.Interval,
	})
	if err != nil {
		return nil, err
	}
	log.Lvl1("Raffle deployed at:", res.Raffle.Address().Hex())

	if res.Mocked {
		if err := mock.AddConsumer(deployer, res.SubscriptionID,
			res.Raffle.Address()); err != nil {
			return nil, xerrors.Errorf("couldn't add consumer: %v", err)
		}
	}
	return res, nil
}

// createSubscription creates a subscription and reads its id back from the
// SubscriptionCreated log, as an external deployer would.
func createSubscription(c *vrf.Client, deployer *chain.Account) (*big.Int, error) {
	if _, err := c.CreateSubscription(deployer); err != nil {
		return nil, xerrors.Errorf("couldn't create subscription: %v", err)
	}
	return LatestSubscription(c, deployer.Address())
}

// LatestSubscription returns the id of the last subscription created by
// owner on the coordinator.
func LatestSubscription(c *vrf.Client, owner common.Address) (*big.Int, error) {
	logs, _ := c.Ledger().FilterLogs(c.Address(), vrf.EventSubscriptionCreated, 0)
	for i := len(logs) - 1; i >= 0; i-- {
		ev := &vrf.SubscriptionCreated{}
		if err := logs[i].Decode(ev); err != nil {
			return nil, xerrors.Errorf("couldn't decode log: %v", err)
		}
		if ev.Owner == owner {
			return ev.SubID.Big(), nil
		}
	}
	return nil, xerrors.Errorf("no subscription owned by %s", owner.Hex())
}
