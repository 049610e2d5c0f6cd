// Package reconcile answers the question every interrupted run leaves
// behind: what does the ledger say happened, and what should be done next.
// The ledger is always authoritative over locally persisted state.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/retry"
)

// Action is the next step for a deployment that exists on the ledger but
// has no lease.
type Action string

const (
	// ActionCreateLease means open bids are available and the run should
	// proceed to lease creation.
	ActionCreateLease Action = "createLease"

	// ActionClose means the deployment can never reach a lease and should
	// be closed to stop escrow spend.
	ActionClose Action = "close"

	// ActionWait means the bid window is still live and the run should
	// resume waiting for bids.
	ActionWait Action = "wait"
)

// Decision carries the chosen action with a human-readable reason and,
// for ActionCreateLease, the open bids to rank.
type Decision struct {
	Action   Action
	Reason   string
	OpenBids []marketplace.Bid
}

// ErrNotCreated reports that an ambiguous deployment transaction
// verifiably did not land on the ledger.
var ErrNotCreated = errors.New("deployment transaction did not reach the ledger")

// ErrUnverified reports that the ledger could not be consulted at all, so
// the transaction may or may not have landed.
var ErrUnverified = errors.New("could not verify deployment creation")

const (
	// DefaultRecoverAttempts and DefaultRecoverInterval bound the
	// post-timeout ledger probe. Ambiguous transactions usually settle
	// within a block or two, so three short probes suffice.
	DefaultRecoverAttempts = 3
	DefaultRecoverInterval = 5 * time.Second

	// DefaultAgeThreshold matches the bid collection window: a deployment
	// older than this with no bids at all will never attract one.
	DefaultAgeThreshold = bidding.DefaultWindow
)

// Engine resolves ambiguous and interrupted deployment state against the
// ledger.
type Engine struct {
	Ledger marketplace.LedgerClient
	Bids   *bidding.Collector

	RecoverAttempts int
	RecoverInterval time.Duration
	AgeThreshold    time.Duration
}

func (e *Engine) recoverConfig() retry.Config {
	cfg := retry.Config{
		Attempts: e.RecoverAttempts,
		Interval: e.RecoverInterval,
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultRecoverAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultRecoverInterval
	}
	return cfg
}

func (e *Engine) ageThreshold() time.Duration {
	if e.AgeThreshold > 0 {
		return e.AgeThreshold
	}
	return DefaultAgeThreshold
}

// RecoverCreated resolves a create-deployment transaction whose broadcast
// timed out before a sequence number came back. It probes the ledger for a
// deployment owned by owner and created at or after since, newest first.
// The returned error wraps ErrNotCreated only when the final probe got a
// ledger answer and no such deployment exists; any run whose last probe
// could not reach the ledger is ErrUnverified, since the transaction may
// still land after the last answer that was seen.
func (e *Engine) RecoverCreated(ctx context.Context, owner string, since time.Time) (uint64, error) {
	log.Warn("Deployment transaction timed out with unknown outcome, probing ledger")

	var dseq uint64
	var queried bool
	err := retry.Do(ctx, e.recoverConfig(), "recover deployment sequence", func(ctx context.Context) error {
		queried = false
		deployments, err := e.Ledger.QueryDeployments(ctx, owner, since)
		if err != nil {
			return err
		}
		queried = true
		if len(deployments) == 0 {
			return fmt.Errorf("no deployment found since %s", since.Format(time.RFC3339))
		}
		dseq = deployments[0].DSeq
		return nil
	})

	if err == nil {
		log.Infof("Recovered deployment sequence %d from ledger", dseq)
		return dseq, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, err
	}
	if queried {
		return 0, fmt.Errorf("%w: %s", ErrNotCreated, err)
	}
	return 0, fmt.Errorf("%w: %s", ErrUnverified, err)
}

// ResolveUnleased decides what to do with a deployment that is open on
// the ledger but has no lease.
//
// Open bids mean the previous run died between bidding and lease
// creation, so the lease step simply resumes. A bid list where every bid
// has closed is unrecoverable: closed bids are never reopened. An empty
// bid list is judged by deployment age against the bid window.
func (e *Engine) ResolveUnleased(ctx context.Context, dep marketplace.Deployment, now time.Time) (Decision, error) {
	snap, err := e.Bids.Snapshot(ctx, dep.Owner, dep.DSeq)
	if err != nil {
		return Decision{}, fmt.Errorf("query bids for deployment %d: %w", dep.DSeq, err)
	}

	switch {
	case len(snap.Open) > 0:
		return Decision{
			Action:   ActionCreateLease,
			Reason:   fmt.Sprintf("%d open bid(s) available", len(snap.Open)),
			OpenBids: snap.Open,
		}, nil

	case len(snap.Closed) > 0:
		return Decision{
			Action: ActionClose,
			Reason: "bids expired",
		}, nil

	case dep.Age(now) < e.ageThreshold():
		return Decision{
			Action: ActionWait,
			Reason: fmt.Sprintf("deployment is %s old, still inside the bid window", dep.Age(now).Round(time.Second)),
		}, nil

	default:
		return Decision{
			Action: ActionClose,
			Reason: "no bids after timeout",
		}, nil
	}
}
