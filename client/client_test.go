package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dedis/raffle/config"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
)

func TestMain(m *testing.M) {
	runContext = func() (context.Context, context.CancelFunc) {
		return context.WithCancel(context.Background())
	}
	log.MainTest(m)
}

type cliEnv struct {
	t  *testing.T
	db string
}

func newCliEnv(t *testing.T) *cliEnv {
	return &cliEnv{t: t, db: filepath.Join(t.TempDir(), "raffle.db")}
}

func (e *cliEnv) run(args ...string) (string, error) {
	app := newApp(&config.Env{DB: e.db, ChainID: 31337})
	buf := &bytes.Buffer{}
	app.Writer = buf
	app.ErrWriter = buf
	err := app.Run(append([]string{"raffle"}, args...))
	return buf.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	out, err := e.run(args...)
	require.NoError(e.t, err, "%v: %s", args, out)
	return out
}

// newAccount returns the address of the created account.
func (e *cliEnv) newAccount(name string) string {
	fields := strings.Fields(e.mustRun("account", "new", name))
	require.Len(e.t, fields, 2)
	return fields[1]
}

func TestClient_Round(t *testing.T) {
	e := newCliEnv(t)
	e.newAccount("deployer")
	alice := e.newAccount("alice")
	_, err := e.run("account", "new", "alice")
	require.Error(t, err)

	e.mustRun("faucet", "deployer", "10 ether")
	e.mustRun("faucet", "alice", "1 ether")
	out := e.mustRun("account", "list")
	require.Contains(t, out, alice)
	require.Contains(t, out, "1.000000000000000000 ether")

	_, err = e.run("enter", "--from", "alice")
	require.Error(t, err)
	out = e.mustRun("deploy", "--from", "deployer")
	require.Contains(t, out, "raffle:")

	_, err = e.run("enter", "--from", "alice", "--value", "1")
	require.Error(t, err)
	out = e.mustRun("enter", "--from", "alice")
	require.Contains(t, out, "1 players")
	out = e.mustRun("check-upkeep")
	require.Contains(t, out, "upkeep needed: false")
	_, err = e.run("perform-upkeep", "--from", "deployer")
	require.Error(t, err)

	e.mustRun("time", "increase", "31")
	out = e.mustRun("check-upkeep")
	require.Contains(t, out, "upkeep needed: true")
	out = e.mustRun("perform-upkeep", "--from", "deployer")
	require.Contains(t, out, "request:")
	out = e.mustRun("state")
	require.Contains(t, out, "state: CALCULATING")

	out = e.mustRun("fulfill", "--from", "deployer")
	require.Contains(t, out, alice)
	out = e.mustRun("state")
	require.Contains(t, out, "state: OPEN")
	require.Contains(t, out, "recent winner: "+alice)
	require.Contains(t, out, "players: 0")

	out = e.mustRun("logs")
	for _, name := range []string{"SubscriptionCreated", "RaffleEnter",
		"RequestedRaffleWinner", "RandomWordsFulfilled", "WinnerPicked"} {
		require.Contains(t, out, name)
	}
}

func TestClient_Run(t *testing.T) {
	e := newCliEnv(t)
	e.newAccount("deployer")
	bob := e.newAccount("bob")
	e.newAccount("keeper")
	e.newAccount("node")
	for _, name := range []string{"deployer", "bob", "keeper", "node"} {
		e.mustRun("faucet", name, "1 ether")
	}
	e.mustRun("deploy", "--from", "deployer")
	e.mustRun("enter", "--from", "bob")
	e.mustRun("time", "increase", "30")

	out := e.mustRun("run", "--keeper", "keeper", "--node", "node",
		"--poll", "10ms", "--duration", "500ms")
	require.Contains(t, out, "recent winner: "+bob)
	out = e.mustRun("state")
	require.Contains(t, out, "state: OPEN")
}

func TestClient_LiveNetwork(t *testing.T) {
	e := newCliEnv(t)
	e.mustRun("--chain", "11155111", "account", "new", "deployer")
	_, err := e.run("--chain", "11155111", "faucet", "deployer", "1 ether")
	require.Error(t, err)
	_, err = e.run("--chain", "11155111", "time", "increase", "10")
	require.Error(t, err)
	// the database belongs to another chain
	_, err = e.run("account", "list")
	require.Error(t, err)
	_, err = e.run("--chain", "5", "account", "list")
	require.Error(t, err)
}
