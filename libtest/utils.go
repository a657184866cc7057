package libtest

import (
	"math/big"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/config"
	"github.com/dedis/raffle/deploy"
)

// DevChainID is the chain id of the local development network.
const DevChainID = 31337

// InitialBalance is the balance of every generated account: 10000 ether.
var InitialBalance = new(big.Int).Mul(big.NewInt(10000), big.NewInt(1e18))

func GenerateAccounts(count int) []*chain.Account {
	accts := make([]*chain.Account, count)
	for i := 0; i < count; i++ {
		accts[i] = chain.NewAccount()
	}
	return accts
}

// NewLedger returns a development ledger with every account funded with
// InitialBalance.
func NewLedger(accts []*chain.Account, opts ...chain.Option) *chain.Ledger {
	l := chain.NewLedger(DevChainID, opts...)
	for _, a := range accts {
		l.Fund(a.Address(), InitialBalance)
	}
	return l
}

// SetupRaffle runs the development deployment from deployer with the
// default configuration.
func SetupRaffle(l *chain.Ledger, deployer *chain.Account) (*deploy.Result, *config.Network, error) {
	cfg := config.Default()
	n, err := cfg.Network(l.ChainID())
	if err != nil {
		return nil, nil, err
	}
	res, err := deploy.Deploy(l, deployer, cfg)
	if err != nil {
		return nil, nil, err
	}
	return res, n, nil
}
