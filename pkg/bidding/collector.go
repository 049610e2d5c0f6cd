package bidding

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
)

// Outcome classifies what the bid window produced.
type Outcome string

const (
	// OutcomeOpenBids means at least one open bid is available.
	OutcomeOpenBids Outcome = "openBids"

	// OutcomeBidsExpired means bids arrived but every one of them closed
	// before a lease was taken.
	OutcomeBidsExpired Outcome = "bidsExpired"

	// OutcomeNoBids means the window elapsed without a single bid.
	OutcomeNoBids Outcome = "noBids"
)

const (
	// DefaultInterval is the pause between bid queries.
	DefaultInterval = 10 * time.Second

	// DefaultWindow bounds how long we wait for an open bid.
	DefaultWindow = 5 * time.Minute

	// progressEvery controls how often the poll loop logs progress.
	progressEvery = 6
)

// Snapshot is one observation of the order's bid list, partitioned by
// state.
type Snapshot struct {
	Open   []marketplace.Bid
	Closed []marketplace.Bid
}

// Any reports whether the order has attracted any bid at all.
func (s Snapshot) Any() bool {
	return len(s.Open) > 0 || len(s.Closed) > 0
}

// Result is the final verdict of a collection window.
type Result struct {
	Outcome Outcome
	Open    []marketplace.Bid

	// ObservedAny is true when at least one bid, open or closed, was
	// seen at any point during the window.
	ObservedAny bool
	Elapsed     time.Duration
}

// Collector polls the ledger for bids against a single order until an
// open bid appears or the window closes.
type Collector struct {
	Ledger   marketplace.LedgerClient
	Interval time.Duration
	Window   time.Duration
}

func (c *Collector) interval() time.Duration {
	if c.Interval > 0 {
		return c.Interval
	}
	return DefaultInterval
}

func (c *Collector) window() time.Duration {
	if c.Window > 0 {
		return c.Window
	}
	return DefaultWindow
}

// Snapshot queries the order's bids once and partitions them by state.
// The same primitive serves both the live polling loop and reconciliation
// of a pre-existing deployment.
func (c *Collector) Snapshot(ctx context.Context, owner string, dseq uint64) (Snapshot, error) {
	bids, err := c.Ledger.QueryBids(ctx, owner, dseq, marketplace.FilterAll)
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	for _, bid := range bids {
		switch bid.State {
		case marketplace.BidOpen:
			snap.Open = append(snap.Open, bid)
		default:
			snap.Closed = append(snap.Closed, bid)
		}
	}
	return snap, nil
}

// Collect runs the polling window. It returns as soon as an open bid is
// seen. Transient query errors are logged and retried on the next tick;
// only context cancellation aborts the loop early.
func (c *Collector) Collect(ctx context.Context, owner string, dseq uint64) (*Result, error) {
	started := time.Now()
	deadline := started.Add(c.window())

	log.Infof("Waiting up to %s for bids on order %d", c.window(), dseq)

	observedAny := false
	succeeded := false
	var lastErr error
	for poll := 0; ; poll++ {
		snap, err := c.Snapshot(ctx, owner, dseq)
		if err != nil {
			lastErr = err
			log.Warnf("Bid query failed, will retry: %s", err)
		} else {
			succeeded = true
			if snap.Any() {
				observedAny = true
			}
			if len(snap.Open) > 0 {
				log.Infof("Found %d open bid(s) after %s", len(snap.Open), time.Since(started).Round(time.Second))
				return &Result{
					Outcome:     OutcomeOpenBids,
					Open:        snap.Open,
					ObservedAny: true,
					Elapsed:     time.Since(started),
				}, nil
			}
		}

		if poll%progressEvery == progressEvery-1 {
			log.Infof("Still waiting for bids on order %d (%s elapsed)", dseq, time.Since(started).Round(time.Second))
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		wait := c.interval()
		if wait > remaining {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}

	if !succeeded {
		// Zero successful observations is not zero bids. Closing the
		// deployment on that basis would be resolving an ambiguous state.
		return nil, fmt.Errorf("no bid query succeeded within %s: %w", c.window(), lastErr)
	}

	outcome := OutcomeNoBids
	if observedAny {
		outcome = OutcomeBidsExpired
		log.Warnf("All bids on order %d closed before a lease was taken", dseq)
	} else {
		log.Warnf("No bids arrived on order %d within %s", dseq, c.window())
	}
	return &Result{
		Outcome:     outcome,
		ObservedAny: observedAny,
		Elapsed:     time.Since(started),
	}, nil
}
