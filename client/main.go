// Command client drives a raffle deployed on a ledger persisted in a local
// database: deployment, entries, upkeep, fulfillment and an automated mode
// running the keeper and the randomness node.
package main

import (
	"os"

	"github.com/dedis/raffle/config"
	"go.dedis.ch/onet/v3/log"
	"gopkg.in/urfave/cli.v1"
)

func main() {
	e, err := config.LoadEnv()
	log.ErrFatal(err)
	log.ErrFatal(newApp(e).Run(os.Args))
}

func newApp(e *config.Env) *cli.App {
	app := cli.NewApp()
	app.Name = "raffle"
	app.Usage = "run a verifiably random raffle"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "db",
			Value: e.DB,
			Usage: "database holding the ledger and the accounts",
		},
		cli.StringFlag{
			Name:  "config",
			Value: e.Config,
			Usage: "network configuration file, the built-in one if empty",
		},
		cli.Uint64Flag{
			Name:  "chain",
			Value: e.ChainID,
			Usage: "chain id of the network",
		},
		cli.IntFlag{
			Name:  "debug, d",
			Value: e.Debug,
			Usage: "debug level",
		},
	}
	app.Before = func(c *cli.Context) error {
		log.SetDebugVisible(c.GlobalInt("debug"))
		return nil
	}
	app.Commands = commands(e)
	return app
}
