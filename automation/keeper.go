// Package automation drives the upkeep protocol of a raffle: it probes
// checkUpkeep and sends performUpkeep when the round can be closed.
package automation

import (
	"context"
	"time"

	"github.com/dedis/raffle/chain"
	"github.com/dedis/raffle/raffle"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

type metrics struct {
	checks    prometheus.Counter
	performed prometheus.Counter
	failures  prometheus.Counter
	duration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		checks: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "checks_total",
			Help:      "number of checkUpkeep probes",
		}),
		performed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "performed_total",
			Help:      "number of rounds closed by the keeper",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "failures_total",
			Help:      "number of failed checks or performUpkeep transactions",
		}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "raffle",
			Subsystem: "keeper",
			Name:      "tick_seconds",
			Help:      "time spent in one keeper tick",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}

// Keeper is the automation agent of one raffle. Any account can act as
// keeper since performUpkeep re-validates its conditions.
type Keeper struct {
	client  *raffle.Client
	account *chain.Account
	poll    time.Duration
	metrics *metrics
}

// NewKeeper creates a keeper sending transactions from acct. Metrics are
// registered on reg unless it is nil; registering twice on the same
// registry panics.
func NewKeeper(c *raffle.Client, acct *chain.Account, poll time.Duration,
	reg prometheus.Registerer) *Keeper {
	return &Keeper{
		client:  c,
		account: acct,
		poll:    poll,
		metrics: newMetrics(reg),
	}
}

// Tick checks the raffle once and closes the round if needed. It returns
// whether a round was closed and the id of the randomness request.
func (k *Keeper) Tick() (bool, uint64, error) {
	timer := prometheus.NewTimer(k.metrics.duration)
	defer timer.ObserveDuration()

	k.metrics.checks.Inc()
	needed, data, err := k.client.CheckUpkeep(nil)
	if err != nil {
		k.metrics.failures.Inc()
		return false, 0, xerrors.Errorf("couldn't check upkeep: %v", err)
	}
	if !needed {
		return false, 0, nil
	}
	id, _, err := k.client.PerformUpkeep(k.account, data)
	if err != nil {
		k.metrics.failures.Inc()
		return false, 0, xerrors.Errorf("couldn't perform upkeep: %w", err)
	}
	k.metrics.performed.Inc()
	log.Lvlf2("keeper closed the round of %s, request %d", k.client.Address().Hex(), id)
	return true, id, nil
}

// Run ticks until ctx is done. Failed ticks are logged and retried at the
// next poll.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, _, err := k.Tick(); err != nil {
				log.Warn(err)
			}
		}
	}
}
