package vrf

import (
	"context"
	"sort"
	"time"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/vrf/base"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

// MaxAttempts is the number of failed fulfillments after which the node
// gives up on a request.
const MaxAttempts = 3

type nodeMetrics struct {
	requests  prometheus.Counter
	fulfilled prometheus.Counter
	failures  prometheus.Counter
	pending   prometheus.Gauge
}

func newNodeMetrics(reg prometheus.Registerer) *nodeMetrics {
	f := promauto.With(reg)
	return &nodeMetrics{
		requests: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "vrf_node",
			Name:      "requests_seen_total",
			Help:      "number of randomness requests picked up from the log",
		}),
		fulfilled: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "vrf_node",
			Name:      "fulfilled_total",
			Help:      "number of requests fulfilled by this node",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "vrf_node",
			Name:      "failures_total",
			Help:      "number of fulfillment transactions that reverted",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "raffle",
			Subsystem: "vrf_node",
			Name:      "pending_requests",
			Help:      "number of requests waiting for fulfillment",
		}),
	}
}

type pendingRequest struct {
	ev       *RandomWordsRequested
	attempts int
}

// Node is an off-chain oracle. It follows the RandomWordsRequested events of
// a coordinator and answers each request with a fulfillment transaction.
type Node struct {
	ledger  *chain.Ledger
	client  *Client
	account *chain.Account
	every   time.Duration

	cursor  int
	pending map[uint64]*pendingRequest
	metrics *nodeMetrics
}

// NewNode creates a node sending fulfillments from acct. Metrics are
// registered on reg unless it is nil; registering twice on the same
// registry panics.
func NewNode(l *chain.Ledger, c *Client, acct *chain.Account, poll time.Duration,
	reg prometheus.Registerer) *Node {
	return &Node{
		ledger:  l,
		client:  c,
		account: acct,
		every:   poll,
		pending: make(map[uint64]*pendingRequest),
		metrics: newNodeMetrics(reg),
	}
}

// Pending returns the number of requests the node still has to fulfill.
func (n *Node) Pending() int {
	return len(n.pending)
}

// Tick picks up new requests and tries to fulfill every pending one. It
// returns the number of requests fulfilled.
func (n *Node) Tick() (int, error) {
	if err := n.collect(); err != nil {
		return 0, err
	}
	pk, err := n.client.ProvingKey()
	if err != nil {
		return 0, err
	}
	ids := make([]uint64, 0, len(n.pending))
	for id := range n.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	done := 0
	for _, id := range ids {
		p := n.pending[id]
		r, err := n.client.FulfillRandomWords(n.account, id, p.ev.Sender)
		switch {
		case err == nil:
			if err := verifyReceipt(pk, r); err != nil {
				log.Errorf("request %d: %v", id, err)
			}
			delete(n.pending, id)
			n.metrics.fulfilled.Inc()
			done++
			log.Lvlf2("fulfilled request %d for %s", id, p.ev.Sender.Hex())
		case xerrors.Is(err, ErrInvalidRequest):
			// someone else got there first
			delete(n.pending, id)
		default:
			n.metrics.failures.Inc()
			p.attempts++
			log.Warnf("fulfillment of request %d failed (%d/%d): %v", id,
				p.attempts, MaxAttempts, err)
			if p.attempts >= MaxAttempts {
				log.Errorf("giving up on request %d", id)
				delete(n.pending, id)
			}
		}
	}
	n.metrics.pending.Set(float64(len(n.pending)))
	return done, nil
}

func (n *Node) collect() error {
	logs, next := n.ledger.FilterLogs(n.client.Address(), EventRandomWordsRequested, n.cursor)
	for _, lg := range logs {
		ev := &RandomWordsRequested{}
		if err := lg.Decode(ev); err != nil {
			return xerrors.Errorf("couldn't decode request log: %v", err)
		}
		n.pending[ev.RequestID] = &pendingRequest{ev: ev}
		n.metrics.requests.Inc()
	}
	n.cursor = next
	return nil
}

// Run ticks until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	ticker := time.NewTicker(n.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := n.Tick(); err != nil {
				return err
			}
		}
	}
}

// VerifyRandomness checks that proof is the signature of seed under the
// proving key pub.
func VerifyRandomness(pub kyber.Point, seed, proof []byte) error {
	out := &base.RandomnessOutput{Public: pub, Seed: seed, Value: proof}
	return out.Verify()
}

func verifyReceipt(pk kyber.Point, r *chain.Receipt) error {
	lg, ok := r.FindLog(EventRandomWordsFulfilled)
	if !ok {
		return xerrors.New("no fulfillment event in receipt")
	}
	ev := &RandomWordsFulfilled{}
	if err := lg.Decode(ev); err != nil {
		return xerrors.Errorf("couldn't decode fulfillment: %v", err)
	}
	return VerifyRandomness(pk, ev.Seed, ev.Proof)
}
