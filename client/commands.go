package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dedis/raffle/automation"
	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/config"
	"github.com/dedis/raffle/deploy"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/store"
	"github.com/dedis/raffle/vrf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
)

var fromFlag = cli.StringFlag{
	Name:  "from",
	Usage: "name of the sending account",
}

func commands(e *config.Env) []cli.Command {
	return []cli.Command{
		{
			Name:  "account",
			Usage: "manage local accounts",
			Subcommands: []cli.Command{
				{
					Name:      "new",
					Usage:     "create an account",
					ArgsUsage: "NAME",
					Action:    accountNew,
				},
				{
					Name:   "list",
					Usage:  "list accounts and balances",
					Action: accountList,
				},
			},
		},
		{
			Name:      "faucet",
			Usage:     "credit an account on a development chain",
			ArgsUsage: "NAME AMOUNT",
			Action:    faucet,
		},
		{
			Name:   "deploy",
			Usage:  "deploy the raffle, and the mocks on development chains",
			Flags:  []cli.Flag{fromFlag},
			Action: deployRaffle,
		},
		{
			Name:  "enter",
			Usage: "enter the raffle",
			Flags: []cli.Flag{
				fromFlag,
				cli.StringFlag{
					Name:  "value",
					Usage: "amount paid, the entrance fee if empty",
				},
			},
			Action: enter,
		},
		{
			Name:   "check-upkeep",
			Usage:  "tell whether the round can be closed",
			Action: checkUpkeep,
		},
		{
			Name:   "perform-upkeep",
			Usage:  "close the round and request a random word",
			Flags:  []cli.Flag{fromFlag},
			Action: performUpkeep,
		},
		{
			Name:  "fulfill",
			Usage: "fulfill a randomness request with the mock coordinator",
			Flags: []cli.Flag{
				fromFlag,
				cli.Uint64Flag{
					Name:  "id",
					Usage: "request id, the latest raffle request if zero",
				},
			},
			Action: fulfill,
		},
		{
			Name:  "time",
			Usage: "development chain clock",
			Subcommands: []cli.Command{
				{
					Name:      "increase",
					Usage:     "move the clock forward and mine a block",
					ArgsUsage: "SECONDS",
					Action:    timeIncrease,
				},
			},
		},
		{
			Name:   "state",
			Usage:  "show the raffle state",
			Action: state,
		},
		{
			Name:   "logs",
			Usage:  "show the events of the raffle and its coordinator",
			Action: logs,
		},
		{
			Name:  "run",
			Usage: "run the keeper and the randomness node against the wall clock",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "keeper",
					Usage: "account sending the upkeep transactions",
				},
				cli.StringFlag{
					Name:  "node",
					Usage: "account sending the fulfillments",
				},
				cli.DurationFlag{
					Name:  "poll",
					Value: e.Poll,
					Usage: "polling period",
				},
				cli.DurationFlag{
					Name:  "duration",
					Usage: "stop after this long, run until interrupted if zero",
				},
				cli.StringFlag{
					Name:  "metrics",
					Usage: "address to serve prometheus metrics on",
				},
			},
			Action: run,
		},
	}
}

func accountNew(c *cli.Context) error {
	name := c.Args().First()
	if name == "" {
		return xerrors.New("missing account name")
	}
	return withSession(c, func(s *session) error {
		if _, err := s.store.Account(name); err == nil {
			return xerrors.Errorf("account %s already exists", name)
		}
		acct := chain.NewAccount()
		if err := s.store.PutAccount(name, acct); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, name, acct.Address().Hex())
		return nil
	})
}

func accountList(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		names, err := s.store.Accounts()
		if err != nil {
			return err
		}
		for _, name := range names {
			acct, err := s.store.Account(name)
			if err != nil {
				return err
			}
			addr := acct.Address()
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", name, addr.Hex(),
				formatEther(s.ledger.BalanceOf(addr)))
		}
		return nil
	})
}

func faucet(c *cli.Context) error {
	if c.NArg() != 2 {
		return xerrors.New("usage: faucet NAME AMOUNT")
	}
	amount, err := parseAmount(c.Args().Get(1))
	if err != nil {
		return err
	}
	return withSession(c, func(s *session) error {
		if !s.cfg.IsDevelopment(s.net) {
			return xerrors.Errorf("%s is not a development chain", s.net.Name)
		}
		acct, err := s.account(c.Args().First())
		if err != nil {
			return err
		}
		if err := s.ledger.Fund(acct.Address(), amount); err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, formatEther(s.ledger.BalanceOf(acct.Address())))
		return nil
	})
}

func deployRaffle(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		acct, err := s.account(c.String("from"))
		if err != nil {
			return err
		}
		res, err := deploy.Deploy(s.ledger, acct, s.cfg)
		if err != nil {
			return err
		}
		err = s.store.SaveDeployment(&store.Deployment{
			ChainID:        s.ledger.ChainID(),
			Raffle:         res.Raffle.Address(),
			Coordinator:    res.Coordinator.Address(),
			SubscriptionID: chain.BigToHash(res.SubscriptionID),
		})
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintln(w, "raffle:", res.Raffle.Address().Hex())
		fmt.Fprintln(w, "coordinator:", res.Coordinator.Address().Hex())
		fmt.Fprintln(w, "subscription:", res.SubscriptionID)
		return nil
	})
}

func enter(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		acct, err := s.account(c.String("from"))
		if err != nil {
			return err
		}
		rc, err := s.raffle()
		if err != nil {
			return err
		}
		var value *big.Int
		if v := c.String("value"); v != "" {
			value, err = parseAmount(v)
		} else {
			value, err = rc.EntranceFee()
		}
		if err != nil {
			return err
		}
		if _, err := rc.Enter(acct, value); err != nil {
			return err
		}
		n, err := rc.NumPlayers()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s entered, %d players\n", acct.Address().Hex(), n)
		return nil
	})
}

func checkUpkeep(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		rc, err := s.raffle()
		if err != nil {
			return err
		}
		needed, _, err := rc.CheckUpkeep(nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "upkeep needed:", needed)
		return nil
	})
}

func performUpkeep(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		acct, err := s.account(c.String("from"))
		if err != nil {
			return err
		}
		rc, err := s.raffle()
		if err != nil {
			return err
		}
		id, _, err := rc.PerformUpkeep(acct, nil)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "request:", id)
		return nil
	})
}

func fulfill(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		acct, err := s.account(c.String("from"))
		if err != nil {
			return err
		}
		rc, err := s.raffle()
		if err != nil {
			return err
		}
		co, err := s.coordinator()
		if err != nil {
			return err
		}
		id := c.Uint64("id")
		if id == 0 {
			id, err = latestRequest(s.ledger, rc)
			if err != nil {
				return err
			}
		}
		if _, err := co.FulfillRandomWords(acct, id, rc.Address()); err != nil {
			return err
		}
		winner, err := rc.RecentWinner()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.App.Writer, "winner:", winner.Hex())
		return nil
	})
}

func latestRequest(l *chain.Ledger, rc *raffle.Client) (uint64, error) {
	lgs, _ := l.FilterLogs(rc.Address(), raffle.EventRequestedRaffleWinner, 0)
	if len(lgs) == 0 {
		return 0, xerrors.New("the raffle never requested randomness")
	}
	ev, err := raffle.ParseRequestedWinner(lgs[len(lgs)-1])
	if err != nil {
		return 0, err
	}
	return ev.RequestID, nil
}

func timeIncrease(c *cli.Context) error {
	secs, err := parseUint(c.Args().First())
	if err != nil {
		return err
	}
	return withSession(c, func(s *session) error {
		if !s.cfg.IsDevelopment(s.net) {
			return xerrors.Errorf("%s is not a development chain", s.net.Name)
		}
		s.ledger.IncreaseTime(secs)
		s.ledger.Mine()
		fmt.Fprintln(c.App.Writer, "timestamp:", s.ledger.Now())
		return nil
	})
}

func state(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		rc, err := s.raffle()
		if err != nil {
			return err
		}
		st, err := rc.Status()
		if err != nil {
			return err
		}
		fee, err := rc.EntranceFee()
		if err != nil {
			return err
		}
		interval, err := rc.Interval()
		if err != nil {
			return err
		}
		w := c.App.Writer
		fmt.Fprintln(w, "state:", st.State)
		fmt.Fprintln(w, "entrance fee:", formatEther(fee))
		fmt.Fprintln(w, "interval:", interval)
		fmt.Fprintln(w, "last timestamp:", st.LastTimestamp)
		fmt.Fprintln(w, "now:", s.ledger.Now())
		fmt.Fprintln(w, "balance:", formatEther(st.Balance))
		fmt.Fprintln(w, "recent winner:", st.RecentWinner.Hex())
		fmt.Fprintln(w, "players:", len(st.Players))
		for i, p := range st.Players {
			fmt.Fprintf(w, "  %d\t%s\n", i, p.Hex())
		}
		return nil
	})
}

func logs(c *cli.Context) error {
	return withSession(c, func(s *session) error {
		d, err := s.store.Deployment()
		if err != nil {
			return xerrors.Errorf("no raffle deployed: %v", err)
		}
		for _, lg := range s.ledger.Logs() {
			if lg.Address != d.Raffle && lg.Address != d.Coordinator {
				continue
			}
			fmt.Fprintf(c.App.Writer, "%d\tblock %d\t%s\t%s\n", lg.Index,
				lg.BlockNumber, lg.Address.Hex(), lg.Name)
		}
		return nil
	})
}

// runContext is the context of the run command, canceled on interrupt.
var runContext = func() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func run(c *cli.Context) error {
	s, err := openSession(c, chain.WithWallClock(time.Now))
	if err != nil {
		return err
	}
	err = runAutomation(c, s)
	if cerr := s.close(true); err == nil {
		err = cerr
	}
	return err
}

func runAutomation(c *cli.Context, s *session) error {
	keeperAcct, err := s.account(c.String("keeper"))
	if err != nil {
		return err
	}
	nodeAcct, err := s.account(c.String("node"))
	if err != nil {
		return err
	}
	rc, err := s.raffle()
	if err != nil {
		return err
	}
	co, err := s.coordinator()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	poll := c.Duration("poll")
	keeper := automation.NewKeeper(rc, keeperAcct, poll, reg)
	node := vrf.NewNode(s.ledger, co, nodeAcct, poll, reg)

	ctx, stop := runContext()
	defer stop()
	if d := c.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	if addr := c.String("metrics"); addr != "" {
		srv := &http.Server{
			Addr:    addr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != http.ErrServerClosed {
				return xerrors.Errorf("metrics server: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error { return keeper.Run(ctx) })
	g.Go(func() error { return node.Run(ctx) })
	log.Lvl1("running keeper", keeperAcct.Address().Hex(), "and node", nodeAcct.Address().Hex())
	if err := g.Wait(); err != nil {
		return err
	}
	winner, err := rc.RecentWinner()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, "recent winner:", winner.Hex())
	return nil
}
