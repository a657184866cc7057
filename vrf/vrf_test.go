package vrf

import (
	"math/big"
	"testing"
	"time"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf/base"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"go.dedis.ch/protobuf"
	"golang.org/x/xerrors"
)

const testConsumerID = "vrfTestConsumer"

type consumerState struct {
	RequestID uint64
	Words     []common.Hash
}

// testConsumer stores what it receives and fails when told to.
type testConsumer struct {
	coordinator common.Address
}

func (c *testConsumer) ContractID() string { return testConsumerID }

func (c *testConsumer) request(ctx *chain.Context, subID *big.Int, numWords uint32,
	native bool) (uint64, error) {
	var id uint64
	err := ctx.CallContract(c.coordinator, nil, func(cc *chain.Context) error {
		var err error
		id, err = cc.Contract().(Requester).RequestRandomWords(cc, &base.RandomWordsRequest{
			SubID:                subID,
			RequestConfirmations: 3,
			CallbackGasLimit:     500000,
			NumWords:             numWords,
			NativePayment:        native,
		})
		return err
	})
	return id, err
}

func (c *testConsumer) RawFulfillRandomWords(ctx *chain.Context, id uint64, words []*big.Int) error {
	if ctx.Sender() != c.coordinator {
		return xerrors.New("only coordinator")
	}
	if fail, _ := ctx.Get("fail"); len(fail) > 0 {
		return xerrors.New("consumer failure")
	}
	st := &consumerState{RequestID: id}
	for _, w := range words {
		st.Words = append(st.Words, chain.BigToHash(w))
	}
	buf, err := protobuf.Encode(st)
	if err != nil {
		return err
	}
	return ctx.Put("last", buf)
}

func init() {
	log.ErrFatal(chain.RegisterContract(testConsumerID, func(params []byte) (chain.Contract, error) {
		return &testConsumer{coordinator: common.BytesToAddress(params)}, nil
	}))
}

func TestMain(m *testing.M) {
	log.MainTest(m)
}

type testEnv struct {
	l        *chain.Ledger
	owner    *chain.Account
	other    *chain.Account
	client   *Client
	consumer common.Address
	subID    *big.Int
}

func newTestEnv(t *testing.T) *testEnv {
	owner, other := chain.NewAccount(), chain.NewAccount()
	l := chain.NewLedger(31337, chain.WithTimestamp(1000))
	l.Fund(owner.Address(), new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)))
	l.Fund(other.Address(), big.NewInt(1e18))

	c, err := Deploy(l, owner, big.NewInt(1e14), big.NewInt(1e9), big.NewInt(1e14))
	require.NoError(t, err)
	consumer, _, err := l.Deploy(owner, testConsumerID, c.Address().Bytes(), nil)
	require.NoError(t, err)
	subID, err := c.CreateSubscription(owner)
	require.NoError(t, err)
	return &testEnv{l: l, owner: owner, other: other, client: c,
		consumer: consumer, subID: subID}
}

func (e *testEnv) request(numWords uint32, native bool) (uint64, error) {
	var id uint64
	_, err := e.l.Execute(e.other, e.consumer, nil, "request", func(ctx *chain.Context) error {
		var err error
		id, err = ctx.Contract().(*testConsumer).request(ctx, e.subID, numWords, native)
		return err
	})
	return id, err
}

func (e *testEnv) last(t *testing.T) *consumerState {
	st := &consumerState{}
	require.NoError(t, e.l.Call(common.Address{}, e.consumer, func(ctx *chain.Context) error {
		buf, ok := ctx.Get("last")
		if !ok {
			return nil
		}
		return protobuf.Decode(buf, st)
	}))
	return st
}

func TestCoordinator_Subscription(t *testing.T) {
	e := newTestEnv(t)

	sub, err := e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, e.owner.Address(), sub.Owner)
	require.Equal(t, int64(0), sub.Balance.Int64())
	require.Empty(t, sub.Consumers)

	// 1. funding has no upper bound and is open to anyone
	amount := new(big.Int).Mul(big.NewInt(2), big.NewInt(1e18))
	require.NoError(t, e.client.FundSubscription(e.other, e.subID, amount))
	require.NoError(t, e.client.FundSubscription(e.other, e.subID, amount))
	sub, err = e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Mul(amount, big.NewInt(2)), sub.Balance)

	// 2. only the owner manages consumers, and adding twice is a no-op
	err = e.client.AddConsumer(e.other, e.subID, e.consumer)
	require.True(t, xerrors.Is(err, ErrMustBeSubOwner))
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	sub, err = e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, []common.Address{e.consumer}, sub.Consumers)

	// 3. unknown subscriptions are rejected
	unknown := big.NewInt(42)
	err = e.client.FundSubscription(e.owner, unknown, amount)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))
	err = e.client.AddConsumer(e.owner, unknown, e.consumer)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))

	// 4. removal and cancellation
	require.NoError(t, e.client.RemoveConsumer(e.owner, e.subID, e.consumer))
	err = e.client.RemoveConsumer(e.owner, e.subID, e.consumer)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))
	require.NoError(t, e.client.FundSubscriptionWithNative(e.owner, e.subID, big.NewInt(5000)))
	require.Equal(t, int64(5000), e.l.BalanceOf(e.client.Address()).Int64())
	before := e.l.BalanceOf(e.other.Address())
	require.NoError(t, e.client.CancelSubscription(e.owner, e.subID, e.other.Address()))
	require.Equal(t, new(big.Int).Add(before, big.NewInt(5000)), e.l.BalanceOf(e.other.Address()))
	_, err = e.client.GetSubscription(e.subID)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))
}

func TestCoordinator_FundInvalidAmounts(t *testing.T) {
	e := newTestEnv(t)
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	maxUint256 := new(big.Int).Sub(tooBig, big.NewInt(1))

	for _, v := range []*big.Int{big.NewInt(-5), tooBig} {
		err := e.client.FundSubscription(e.owner, e.subID, v)
		require.True(t, xerrors.Is(err, chain.ErrInvalidValue))
		err = e.client.FundSubscriptionWithNative(e.owner, e.subID, v)
		require.True(t, xerrors.Is(err, chain.ErrInvalidValue))
	}
	sub, err := e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, int64(0), sub.Balance.Int64())
	require.Equal(t, int64(0), sub.NativeBalance.Int64())

	// the sum must fit as well
	require.NoError(t, e.client.FundSubscription(e.owner, e.subID, maxUint256))
	err = e.client.FundSubscription(e.owner, e.subID, big.NewInt(1))
	require.True(t, xerrors.Is(err, chain.ErrInvalidValue))
	sub, err = e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, maxUint256, sub.Balance)

	logs, _ := e.l.FilterLogs(e.client.Address(), EventSubscriptionFunded, 0)
	require.Len(t, logs, 1)
}

func TestCoordinator_SubscriptionIDs(t *testing.T) {
	e := newTestEnv(t)
	second, err := e.client.CreateSubscription(e.owner)
	require.NoError(t, err)
	require.NotEqual(t, e.subID, second)

	logs, _ := e.l.FilterLogs(e.client.Address(), EventSubscriptionCreated, 0)
	require.Len(t, logs, 2)
	ev := &SubscriptionCreated{}
	require.NoError(t, logs[1].Decode(ev))
	require.Equal(t, second, ev.SubID.Big())
	require.Equal(t, e.owner.Address(), ev.Owner)
}

func TestCoordinator_RequestRejected(t *testing.T) {
	e := newTestEnv(t)

	// not a consumer yet, and no funds
	_, err := e.request(1, false)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))

	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	_, err = e.request(1, false)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))

	require.NoError(t, e.client.FundSubscription(e.owner, e.subID, big.NewInt(1e18)))
	// LINK funds do not pay for native requests
	_, err = e.request(1, true)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))

	_, err = e.request(MaxNumWords+1, false)
	require.True(t, xerrors.Is(err, ErrNumWordsTooBig))

	require.NoError(t, e.client.RemoveConsumer(e.owner, e.subID, e.consumer))
	_, err = e.request(1, false)
	var ice *InvalidConsumerError
	require.True(t, xerrors.As(err, &ice))
	require.Equal(t, e.consumer, ice.Consumer)
	require.True(t, xerrors.Is(err, ErrInvalidSubscription))

	logs, _ := e.l.FilterLogs(e.client.Address(), EventRandomWordsRequested, 0)
	require.Empty(t, logs)
}

func TestCoordinator_RequestFulfill(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	fund := big.NewInt(1e18)
	require.NoError(t, e.client.FundSubscription(e.owner, e.subID, fund))

	id, err := e.request(2, false)
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)
	id2, err := e.request(1, false)
	require.NoError(t, err)
	require.Equal(t, uint64(2), id2)

	// requesting does not charge the subscription
	sub, err := e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, fund, sub.Balance)

	req, err := e.client.PendingRequest(id)
	require.NoError(t, err)
	require.Equal(t, e.consumer, req.Consumer)
	require.Equal(t, uint32(2), req.NumWords)

	// the consumer must match the request
	_, err = e.client.FulfillRandomWords(e.other, id, e.other.Address())
	require.True(t, xerrors.Is(err, ErrInvalidRequest))

	r, err := e.client.FulfillRandomWords(e.other, id, e.consumer)
	require.NoError(t, err)
	lg, ok := r.FindLog(EventRandomWordsFulfilled)
	require.True(t, ok)
	ev := &RandomWordsFulfilled{}
	require.NoError(t, lg.Decode(ev))
	require.Equal(t, id, ev.RequestID)
	require.True(t, ev.Success)

	pk, err := e.client.ProvingKey()
	require.NoError(t, err)
	require.NoError(t, VerifyRandomness(pk, ev.Seed, ev.Proof))
	require.Error(t, VerifyRandomness(pk, ev.Seed, ev.Seed))

	st := e.last(t)
	require.Equal(t, id, st.RequestID)
	require.Len(t, st.Words, 2)
	words := base.ExpandWords(ev.OutputSeed, 2)
	require.Equal(t, words[0], st.Words[0].Big())
	require.Equal(t, words[1], st.Words[1].Big())

	// BaseFee + 2 * GasPriceLink
	payment := big.NewInt(1e14 + 2*1e9)
	require.Equal(t, payment, ev.Payment.Big())
	sub, err = e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, new(big.Int).Sub(fund, payment), sub.Balance)
	require.Equal(t, uint64(1), sub.ReqCount)

	// a request is fulfilled only once
	_, err = e.client.FulfillRandomWords(e.other, id, e.consumer)
	require.True(t, xerrors.Is(err, ErrInvalidRequest))
	_, err = e.client.PendingRequest(id)
	require.True(t, xerrors.Is(err, ErrInvalidRequest))
	for _, unknown := range []uint64{0, 99} {
		_, err = e.client.FulfillRandomWords(e.other, unknown, e.consumer)
		require.True(t, xerrors.Is(err, ErrInvalidRequest))
	}

	words = []*big.Int{big.NewInt(7)}
	r, err = e.client.FulfillRandomWordsWithOverride(e.other, id2, e.consumer, words)
	require.NoError(t, err)
	st = e.last(t)
	require.Equal(t, id2, st.RequestID)
	require.Equal(t, big.NewInt(7), st.Words[0].Big())
	lg, ok = r.FindLog(EventRandomWordsFulfilled)
	require.True(t, ok)
	ev = &RandomWordsFulfilled{}
	require.NoError(t, lg.Decode(ev))
	require.Equal(t, common.Hash{}, ev.OutputSeed)
	require.Empty(t, ev.Proof)
}

func TestCoordinator_FulfillRevertsOnConsumerFailure(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	require.NoError(t, e.client.FundSubscription(e.owner, e.subID, big.NewInt(1e18)))
	id, err := e.request(1, false)
	require.NoError(t, err)

	_, err = e.l.Execute(e.owner, e.consumer, nil, "setFail", func(ctx *chain.Context) error {
		return ctx.Put("fail", []byte{1})
	})
	require.NoError(t, err)

	_, err = e.client.FulfillRandomWords(e.other, id, e.consumer)
	require.Error(t, err)
	// nothing happened: the request is still pending and nothing was charged
	_, err = e.client.PendingRequest(id)
	require.NoError(t, err)
	sub, err := e.client.GetSubscription(e.subID)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1e18), sub.Balance)
	require.Equal(t, uint64(0), sub.ReqCount)
}

func TestCoordinator_InsufficientBalance(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	require.NoError(t, e.client.FundSubscriptionWithNative(e.owner, e.subID, big.NewInt(10)))
	id, err := e.request(1, true)
	require.NoError(t, err)

	_, err = e.client.FulfillRandomWords(e.other, id, e.consumer)
	require.True(t, xerrors.Is(err, ErrInsufficientBalance))
	_, err = e.client.PendingRequest(id)
	require.NoError(t, err)
}

func TestNode_Tick(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.client.AddConsumer(e.owner, e.subID, e.consumer))
	require.NoError(t, e.client.FundSubscription(e.owner, e.subID, big.NewInt(1e18)))

	reg := prometheus.NewRegistry()
	n := NewNode(e.l, e.client, e.other, time.Millisecond, reg)

	done, err := n.Tick()
	require.NoError(t, err)
	require.Equal(t, 0, done)

	id1, err := e.request(1, false)
	require.NoError(t, err)
	id2, err := e.request(3, false)
	require.NoError(t, err)
	// id1 is fulfilled by somebody else before the node sees it
	_, err = e.client.FulfillRandomWords(e.owner, id1, e.consumer)
	require.NoError(t, err)

	done, err = n.Tick()
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.Equal(t, 0, n.Pending())
	require.Equal(t, id2, e.last(t).RequestID)
	require.Equal(t, float64(2), testutil.ToFloat64(n.metrics.requests))
	require.Equal(t, float64(1), testutil.ToFloat64(n.metrics.fulfilled))
	require.Equal(t, float64(0), testutil.ToFloat64(n.metrics.failures))

	// a failing consumer is retried a bounded number of times
	_, err = e.l.Execute(e.owner, e.consumer, nil, "setFail", func(ctx *chain.Context) error {
		return ctx.Put("fail", []byte{1})
	})
	require.NoError(t, err)
	_, err = e.request(1, false)
	require.NoError(t, err)
	for i := 0; i < MaxAttempts; i++ {
		_, err = n.Tick()
		require.NoError(t, err)
	}
	require.Equal(t, 0, n.Pending())
	require.Equal(t, float64(MaxAttempts), testutil.ToFloat64(n.metrics.failures))

	require.Panics(t, func() { NewNode(e.l, e.client, e.other, time.Millisecond, reg) })
}
