package libtest

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/dedis/raffle/automation"
	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/raffle"
	"github.com/dedis/raffle/vrf"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func Test_RaffleRound(t *testing.T) {
	accts := GenerateAccounts(3)
	deployer, a, b := accts[0], accts[1], accts[2]
	l := NewLedger(accts, chain.WithTimestamp(1000))
	res, n, err := SetupRaffle(l, deployer)
	require.NoError(t, err)
	rc := res.Raffle
	fee := n.EntranceFee.Big()
	require.Equal(t, big.NewInt(1e14), fee)
	start, err := rc.LatestTimestamp()
	require.NoError(t, err)

	// 1. enter with exactly the fee, and with less
	_, err = rc.Enter(a, fee)
	require.NoError(t, err)
	_, err = rc.Enter(b, new(big.Int).Sub(fee, big.NewInt(1)))
	require.True(t, xerrors.Is(err, raffle.ErrNotEnoughPayment))
	st, err := rc.Status()
	require.NoError(t, err)
	require.Equal(t, []common.Address{a.Address()}, st.Players)
	aBalance := l.BalanceOf(a.Address())

	// 2. close the round
	l.IncreaseTime(n.Interval + 1)
	l.Mine()
	id, r, err := rc.PerformUpkeep(deployer, []byte{})
	require.NoError(t, err)
	require.True(t, id > 0)
	lg, ok := r.FindLog(raffle.EventRequestedRaffleWinner)
	require.True(t, ok)
	ev, err := raffle.ParseRequestedWinner(lg)
	require.NoError(t, err)
	require.Equal(t, id, ev.RequestID)
	state, err := rc.RaffleState()
	require.NoError(t, err)
	require.Equal(t, raffle.StateCalculating, state)

	// 3. the oracle answers
	r, err = res.Coordinator.FulfillRandomWords(deployer, id, rc.Address())
	require.NoError(t, err)
	logs, _ := l.FilterLogs(rc.Address(), raffle.EventWinnerPicked, 0)
	require.Len(t, logs, 1)
	picked, err := raffle.ParseWinnerPicked(logs[0])
	require.NoError(t, err)
	require.Equal(t, a.Address(), picked.Winner)

	st, err = rc.Status()
	require.NoError(t, err)
	require.Equal(t, raffle.StateOpen, st.State)
	require.Empty(t, st.Players)
	require.Equal(t, a.Address(), st.RecentWinner)
	require.True(t, st.LastTimestamp > start)
	require.Equal(t, new(big.Int).Add(aBalance, fee), l.BalanceOf(a.Address()))
	_, err = rc.Player(0)
	require.True(t, xerrors.Is(err, raffle.ErrPlayerIndexOutOfRange))
}

func Test_RaffleFourEntrants(t *testing.T) {
	accts := GenerateAccounts(5)
	deployer, entrants := accts[0], accts[1:]
	l := NewLedger(accts, chain.WithTimestamp(1000))
	res, n, err := SetupRaffle(l, deployer)
	require.NoError(t, err)
	rc := res.Raffle
	fee := n.EntranceFee.Big()

	for i, e := range entrants {
		_, err := rc.Enter(e, fee)
		require.NoError(t, err)
		// one more player and one more fee per entry
		num, err := rc.NumPlayers()
		require.NoError(t, err)
		require.Equal(t, i+1, num)
		require.Equal(t, new(big.Int).Mul(fee, big.NewInt(int64(i+1))), l.BalanceOf(rc.Address()))
	}
	st, err := rc.Status()
	require.NoError(t, err)
	players := st.Players

	l.IncreaseTime(n.Interval + 1)
	id, _, err := rc.PerformUpkeep(deployer, nil)
	require.NoError(t, err)

	balances := make(map[common.Address]*big.Int)
	for _, e := range entrants {
		balances[e.Address()] = l.BalanceOf(e.Address())
	}
	r, err := res.Coordinator.FulfillRandomWords(deployer, id, rc.Address())
	require.NoError(t, err)
	lg, ok := r.FindLog(vrf.EventRandomWordsFulfilled)
	require.True(t, ok)
	fulfilled := &vrf.RandomWordsFulfilled{}
	require.NoError(t, lg.Decode(fulfilled))
	pk, err := res.Coordinator.ProvingKey()
	require.NoError(t, err)
	require.NoError(t, vrf.VerifyRandomness(pk, fulfilled.Seed, fulfilled.Proof))

	word := base.ExpandWords(fulfilled.OutputSeed, raffle.NumWords)[0]
	idx := new(big.Int).Mod(word, big.NewInt(4)).Int64()
	want := players[idx]

	winner, err := rc.RecentWinner()
	require.NoError(t, err)
	require.Equal(t, want, winner)
	pot := new(big.Int).Mul(fee, big.NewInt(4))
	for addr, before := range balances {
		if addr == winner {
			require.Equal(t, new(big.Int).Add(before, pot), l.BalanceOf(addr))
		} else {
			require.Equal(t, before, l.BalanceOf(addr))
		}
	}
	require.Equal(t, int64(0), l.BalanceOf(rc.Address()).Int64())
}

func Test_RaffleFulfillErrors(t *testing.T) {
	accts := GenerateAccounts(2)
	deployer, a := accts[0], accts[1]
	l := NewLedger(accts, chain.WithTimestamp(1000))
	res, n, err := SetupRaffle(l, deployer)
	require.NoError(t, err)
	rc := res.Raffle

	// nothing was requested yet
	for _, id := range []uint64{0, 1} {
		_, err = res.Coordinator.FulfillRandomWords(deployer, id, rc.Address())
		require.True(t, xerrors.Is(err, vrf.ErrInvalidRequest))
	}

	_, err = rc.Enter(a, n.EntranceFee.Big())
	require.NoError(t, err)
	l.IncreaseTime(n.Interval + 1)
	id, _, err := rc.PerformUpkeep(a, nil)
	require.NoError(t, err)
	_, err = res.Coordinator.FulfillRandomWords(a, id, rc.Address())
	require.NoError(t, err)
	_, err = res.Coordinator.FulfillRandomWords(a, id, rc.Address())
	require.True(t, xerrors.Is(err, vrf.ErrInvalidRequest))
	_, err = res.Coordinator.FulfillRandomWords(a, id+1, rc.Address())
	require.True(t, xerrors.Is(err, vrf.ErrInvalidRequest))
}

// performUpkeep succeeds exactly when checkUpkeep says it is needed.
func Test_RaffleUpkeepAgreement(t *testing.T) {
	accts := GenerateAccounts(3)
	deployer := accts[0]
	l := NewLedger(accts, chain.WithTimestamp(1000))
	res, n, err := SetupRaffle(l, deployer)
	require.NoError(t, err)
	rc := res.Raffle
	fee := n.EntranceFee.Big()

	steps := []func(){
		func() {},
		func() { l.IncreaseTime(n.Interval) },
		func() {
			_, err := rc.Enter(accts[1], fee)
			require.NoError(t, err)
		},
		func() {},
		func() {
			st, err := rc.Status()
			require.NoError(t, err)
			if st.State == raffle.StateCalculating {
				_, err = res.Coordinator.FulfillRandomWordsWithOverride(deployer,
					latestRequest(t, l, rc), rc.Address(), []*big.Int{big.NewInt(1)})
				require.NoError(t, err)
			}
		},
		func() {
			_, err := rc.Enter(accts[2], fee)
			require.NoError(t, err)
		},
		func() { l.IncreaseTime(n.Interval - 1) },
		func() { l.IncreaseTime(1) },
	}
	performed := 0
	for i, step := range steps {
		step()
		needed, _, err := rc.CheckUpkeep(nil)
		require.NoError(t, err)
		_, _, err = rc.PerformUpkeep(deployer, nil)
		if needed {
			require.NoError(t, err, "step %d", i)
			performed++
		} else {
			require.True(t, xerrors.Is(err, raffle.ErrUpkeepNotNeeded), "step %d", i)
		}
	}
	require.Equal(t, 2, performed)
}

func latestRequest(t *testing.T, l *chain.Ledger, rc *raffle.Client) uint64 {
	logs, _ := l.FilterLogs(rc.Address(), raffle.EventRequestedRaffleWinner, 0)
	require.NotEmpty(t, logs)
	ev, err := raffle.ParseRequestedWinner(logs[len(logs)-1])
	require.NoError(t, err)
	return ev.RequestID
}

func Test_RaffleAutomated(t *testing.T) {
	accts := GenerateAccounts(4)
	deployer, keeperAcct, nodeAcct := accts[0], accts[1], accts[2]
	l := NewLedger(accts, chain.WithTimestamp(1000))
	res, n, err := SetupRaffle(l, deployer)
	require.NoError(t, err)
	rc := res.Raffle

	_, err = rc.Enter(accts[3], n.EntranceFee.Big())
	require.NoError(t, err)
	l.IncreaseTime(n.Interval)

	keeper := automation.NewKeeper(rc, keeperAcct, time.Millisecond, nil)
	node := vrf.NewNode(l, res.Coordinator, nodeAcct, time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return keeper.Run(ctx) })
	g.Go(func() error { return node.Run(ctx) })
	var winner common.Address
	g.Go(func() error {
		defer cancel()
		for ctx.Err() == nil {
			w, err := rc.RecentWinner()
			if err != nil {
				return err
			}
			if w != (common.Address{}) {
				winner = w
				return nil
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	})
	require.NoError(t, g.Wait())
	require.Equal(t, accts[3].Address(), winner)
}
