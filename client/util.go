package main

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/config"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/store"
	"github.com/dedis/raffle/vrf"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

// session is the state shared by one command: the database, the ledger
// loaded from it and the network configuration.
type session struct {
	store  *store.Store
	ledger *chain.Ledger
	cfg    *config.Config
	net    *config.Network
}

func openSession(c *cli.Context, opts ...chain.Option) (*session, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	chainID := c.GlobalUint64("chain")
	n, err := cfg.Network(chainID)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(c.GlobalString("db"))
	if err != nil {
		return nil, err
	}
	snap, err := s.Load()
	if err != nil {
		s.Close()
		return nil, err
	}
	var l *chain.Ledger
	if snap == nil {
		l = chain.NewLedger(chainID, opts...)
	} else {
		if snap.ChainID != chainID {
			s.Close()
			return nil, xerrors.Errorf("database holds chain %d, not %d", snap.ChainID, chainID)
		}
		l, err = chain.Restore(snap, opts...)
		if err != nil {
			s.Close()
			return nil, err
		}
	}
	return &session{store: s, ledger: l, cfg: cfg, net: n}, nil
}

// close saves the ledger if save is set and closes the database.
func (s *session) close(save bool) error {
	var err error
	if save {
		err = s.store.Save(s.ledger.Snapshot())
	}
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// withSession runs fn and saves the ledger afterwards, even when fn fails
// since failed transactions still consume nonces.
func withSession(c *cli.Context, fn func(s *session) error) error {
	s, err := openSession(c)
	if err != nil {
		return err
	}
	ferr := fn(s)
	if err := s.close(true); err != nil {
		log.Error(err)
		if ferr == nil {
			ferr = err
		}
	}
	return ferr
}

func (s *session) account(name string) (*chain.Account, error) {
	if name == "" {
		return nil, xerrors.New("missing account name")
	}
	return s.store.Account(name)
}

func (s *session) raffle() (*raffle.Client, error) {
	d, err := s.store.Deployment()
	if err != nil {
		return nil, xerrors.Errorf("no raffle deployed: %v", err)
	}
	return raffle.NewClient(s.ledger, d.Raffle), nil
}

func (s *session) coordinator() (*vrf.Client, error) {
	d, err := s.store.Deployment()
	if err != nil {
		return nil, xerrors.Errorf("no raffle deployed: %v", err)
	}
	return vrf.NewClient(s.ledger, d.Coordinator), nil
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, xerrors.Errorf("invalid number %q", s)
	}
	return v, nil
}

func parseAmount(s string) (*big.Int, error) {
	a, err := config.ParseAmount(s)
	if err != nil {
		return nil, err
	}
	return a.Big(), nil
}

func formatEther(wei *big.Int) string {
	r := new(big.Rat).SetFrac(wei, big.NewInt(1e18))
	return fmt.Sprintf("%s ether", r.FloatString(18))
}
