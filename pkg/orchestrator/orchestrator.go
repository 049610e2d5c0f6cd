// Package orchestrator drives one deployment through its lifecycle:
// create, bid, lease, manifest, readiness, close. Every operation is safe
// to re-invoke; the ledger always wins over the local record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/manifest"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/metrics"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/readiness"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/reconcile"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/session"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/statestore"
)

// creationGrace widens the "created since" window used when recovering an
// ambiguous creation, absorbing clock skew between this host and the
// chain's block timestamps.
const creationGrace = time.Minute

type Orchestrator struct {
	Ledger      marketplace.LedgerClient
	Provider    marketplace.ProviderClient
	Store       *statestore.Store
	Guard       *session.Guard
	Collector   *bidding.Collector
	Engine      *reconcile.Engine
	Poller      *readiness.Poller
	Preferences bidding.Preferences

	// Now is the time source, overridable in tests.
	Now func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

func (o *Orchestrator) lock() (func(), error) {
	release, err := o.Store.Lock()
	if errors.Is(err, statestore.ErrLocked) {
		return nil, ErrorWrap(ExitStateLocked, KindStateLocked, err)
	}
	if err != nil {
		return nil, ErrorWrap(ExitInternalError, KindInternal, err)
	}
	return release, nil
}

func (o *Orchestrator) load() (*statestore.Record, error) {
	record, err := o.Store.Load()
	if err != nil {
		return nil, ErrorWrap(ExitInternalError, KindInternal, err)
	}
	return record, nil
}

// Deploy is the default operation: ensure a deployment exists, has a
// lease and a manifest, then report the first readiness observation.
func (o *Orchestrator) Deploy(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	release, err := o.lock()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	defer release()

	sess, err := o.Guard.Ensure(ctx)
	if err != nil {
		err = ErrorWrap(ExitUnavailable, KindLedger, err)
		return (&Result{}).FromError(err), err
	}
	result := &Result{Invocation: sess.ID}

	prefs := o.Preferences
	if len(prefs.GPUOrder) == 0 {
		prefs.GPUOrder = m.GPUPreferences()
		if len(prefs.GPUOrder) > 0 {
			log.Infof("GPU preference order from manifest: %v", prefs.GPUOrder)
		}
	}

	record, err := o.load()
	if err != nil {
		return result.FromError(err), err
	}
	record, err = o.verifyRecord(ctx, record)
	if err != nil {
		return result.FromError(err), err
	}

	if record == nil {
		record, err = o.createDeployment(ctx, sess, m)
		if err != nil {
			metrics.DeployFailed.Inc()
			return result.FromRecord(record).FromError(err), err
		}
	} else {
		log.Infof("Resuming deployment %d (stage %s)", record.DSeq, record.Stage)
	}
	result.FromRecord(record)

	err = o.ensureLease(ctx, record, prefs)
	if err != nil {
		metrics.DeployFailed.Inc()
		return result.FromRecord(record).FromError(err), err
	}

	err = o.deliverManifest(ctx, record, m)
	if err != nil {
		metrics.DeployFailed.Inc()
		return result.FromRecord(record).FromError(err), err
	}

	err = o.probe(ctx, record)
	if err != nil {
		return result.FromRecord(record).FromError(err), err
	}

	metrics.DeploySuccessful.Inc()
	return result.FromRecord(record), nil
}

// verifyRecord checks the local record against the ledger and discards it
// when the ledger says the deployment no longer exists or is closed.
func (o *Orchestrator) verifyRecord(ctx context.Context, record *statestore.Record) (*statestore.Record, error) {
	if record == nil {
		return nil, nil
	}

	dep, err := o.Ledger.QueryDeployment(ctx, record.Owner, record.DSeq)
	if errors.Is(err, marketplace.ErrNotFound) {
		log.Warnf("Recorded deployment %d does not exist on the ledger, discarding local record", record.DSeq)
		return nil, o.clear()
	}
	if err != nil {
		return nil, ErrorWrap(ExitUnavailable, KindLedger, err)
	}
	if dep.State == marketplace.DeploymentClosed {
		log.Warnf("Recorded deployment %d is closed on the ledger, discarding local record", record.DSeq)
		return nil, o.clear()
	}

	return record, nil
}

func (o *Orchestrator) clear() error {
	if err := o.Store.Clear(); err != nil {
		return ErrorWrap(ExitInternalError, KindInternal, err)
	}
	return nil
}

func (o *Orchestrator) save(record *statestore.Record) error {
	if err := o.Store.Save(record); err != nil {
		return ErrorWrap(ExitInternalError, KindInternal, err)
	}
	return nil
}

// createDeployment submits the creation transaction and persists the
// checkpoint record as soon as a sequence number is known, before any
// lease work. Ambiguous outcomes go through ledger recovery rather than a
// blind resubmit, so no duplicate deployment can be paid for.
func (o *Orchestrator) createDeployment(ctx context.Context, sess *session.Session, m *manifest.Manifest) (*statestore.Record, error) {
	creds, err := session.GenerateCredentials()
	if err != nil {
		return nil, ErrorWrap(ExitInternalError, KindInternal, err)
	}

	submitted := o.now()
	log.Infof("Creating deployment from %s", m.Path)
	dseq, err := o.Ledger.CreateDeployment(ctx, m.Path)
	metrics.LedgerTransaction("create-deployment", err)

	switch {
	case err == nil:

	case errors.Is(err, marketplace.ErrTxTimeout), errors.Is(err, marketplace.ErrDSeqNotFound):
		dseq, err = o.Engine.RecoverCreated(ctx, sess.Owner, submitted.Add(-creationGrace))
		switch {
		case err == nil:
		case errors.Is(err, reconcile.ErrNotCreated):
			return nil, Classified(KindNotCreated, "deployment was not created: %s", err)
		case errors.Is(err, reconcile.ErrUnverified):
			return nil, Errorf(ExitAmbiguousState, KindAmbiguous, "deployment creation outcome unknown, re-invoke to reconcile: %s", err)
		default:
			return nil, ErrorWrap(ExitInternalError, KindInternal, err)
		}

	default:
		return nil, ErrorWrap(ExitUnavailable, KindLedger, err)
	}

	now := o.now()
	record := &statestore.Record{
		Owner:               sess.Owner,
		DSeq:                dseq,
		Stage:               readiness.StageStarting,
		Credentials:         &creds,
		ManifestFingerprint: m.Fingerprint(),
		CreatedAt:           now,
		StageTimestamps:     map[string]time.Time{string(readiness.StageStarting): now},
	}
	if err := o.save(record); err != nil {
		return record, err
	}

	log.Infof("Deployment %d created", dseq)
	return record, nil
}

// ensureLease makes sure the deployment has exactly one lease. An
// existing lease on the ledger is adopted no matter what the local record
// says.
func (o *Orchestrator) ensureLease(ctx context.Context, record *statestore.Record, prefs bidding.Preferences) error {
	lease, err := o.Ledger.QueryLease(ctx, record.Owner, record.DSeq)
	if err != nil {
		return ErrorWrap(ExitUnavailable, KindLedger, err)
	}
	if lease != nil {
		if lease.State == marketplace.LeaseClosed {
			return o.closeOut(ctx, record, Classified(KindLeaseClosed, "lease %s is closed, deployment cannot recover", lease.Ref()))
		}
		if !record.HasLease() {
			log.Infof("Adopting existing lease %s from ledger", lease.Ref())
		}
		record.GSeq = lease.GSeq
		record.OSeq = lease.OSeq
		record.Provider = lease.Provider
		return o.save(record)
	}

	openBids, err := o.openBids(ctx, record)
	if err != nil {
		return err
	}

	best := bidding.SelectBest(openBids, prefs)
	if best == nil {
		return o.closeOut(ctx, record, Classified(KindNoEligibleBids, "all %d open bid(s) excluded by preferences", len(openBids)))
	}

	tx, err := o.Ledger.CreateLease(ctx, best.Bid)
	metrics.LedgerTransaction("create-lease", err)
	if errors.Is(err, marketplace.ErrTxTimeout) {
		// The lease may still exist. Check before declaring ambiguity.
		lease, qerr := o.Ledger.QueryLease(ctx, record.Owner, record.DSeq)
		if qerr == nil && lease != nil {
			log.Warn("Lease creation timed out but the lease exists on the ledger")
			record.GSeq = lease.GSeq
			record.OSeq = lease.OSeq
			record.Provider = lease.Provider
			return o.save(record)
		}
		return Errorf(ExitAmbiguousState, KindAmbiguous, "lease creation outcome unknown, re-invoke to reconcile: %s", err)
	}
	if err != nil {
		return ErrorWrap(ExitUnavailable, KindLedger, err)
	}
	metrics.LeasesCreated.Inc()
	log.Infof("Lease created with %s (tx %s, fee %d uakt)", best.Provider, tx.Hash, tx.Fee)

	record.GSeq = best.GSeq
	record.OSeq = best.OSeq
	record.Provider = best.Provider
	return o.save(record)
}

// openBids produces the open bids to rank, either directly from a
// reconciliation decision or by running the bid collection window.
func (o *Orchestrator) openBids(ctx context.Context, record *statestore.Record) ([]marketplace.Bid, error) {
	dep := marketplace.Deployment{
		Owner:     record.Owner,
		DSeq:      record.DSeq,
		CreatedAt: record.CreatedAt,
	}
	decision, err := o.Engine.ResolveUnleased(ctx, dep, o.now())
	if err != nil {
		return nil, ErrorWrap(ExitUnavailable, KindLedger, err)
	}
	metrics.ReconcileAction(string(decision.Action))
	log.Infof("Deployment %d has no lease: %s", record.DSeq, decision.Reason)

	switch decision.Action {
	case reconcile.ActionCreateLease:
		metrics.BidsObserved.Add(float64(len(decision.OpenBids)))
		return decision.OpenBids, nil

	case reconcile.ActionClose:
		kind := KindNoBids
		if decision.Reason == "bids expired" {
			kind = KindBidsExpired
		}
		return nil, o.closeOut(ctx, record, Classified(kind, "%s", decision.Reason))

	default: // reconcile.ActionWait
		collected, err := o.Collector.Collect(ctx, record.Owner, record.DSeq)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrorWrap(ExitInternalError, KindInternal, err)
		}
		if err != nil {
			return nil, ErrorWrap(ExitUnavailable, KindLedger, err)
		}
		metrics.BidsObserved.Add(float64(len(collected.Open)))
		switch collected.Outcome {
		case bidding.OutcomeOpenBids:
			return collected.Open, nil
		case bidding.OutcomeBidsExpired:
			return nil, o.closeOut(ctx, record, Classified(KindBidsExpired, "bids expired"))
		default:
			return nil, o.closeOut(ctx, record, Classified(KindNoBids, "no bids after timeout"))
		}
	}
}

// closeOut closes a deployment that cannot proceed, clears local state
// and returns the classified outcome. A close failure outranks the
// classified outcome, since leaving an open deployment bleeding escrow is
// worse than an unreported terminal state.
func (o *Orchestrator) closeOut(ctx context.Context, record *statestore.Record, classified *Error) error {
	log.Warnf("Closing deployment %d: %s", record.DSeq, classified)
	_, err := o.Ledger.CloseDeployment(ctx, record.Owner, record.DSeq)
	metrics.LedgerTransaction("close-deployment", err)
	if err != nil {
		return ErrorWrap(ExitUnavailable, KindLedger, fmt.Errorf("close deployment %d after %q: %w", record.DSeq, classified, err))
	}
	metrics.DeploymentsClosed.Inc()
	if err := o.clear(); err != nil {
		return err
	}
	return classified
}

// deliverManifest sends the workload manifest to the provider. Delivery
// already happened when the recorded stage has passed starting and the
// manifest content is unchanged.
func (o *Orchestrator) deliverManifest(ctx context.Context, record *statestore.Record, m *manifest.Manifest) error {
	delivered := record.Stage != readiness.StageStarting
	if delivered && record.ManifestFingerprint == m.Fingerprint() {
		return nil
	}
	if delivered {
		log.Info("Manifest content changed, resending to provider")
	}

	err := o.Provider.SendManifest(ctx, record.Lease(), m.Path)
	if err != nil {
		return ErrorWrap(ExitUnavailable, KindProvider, err)
	}
	log.Infof("Manifest delivered to %s", record.Provider)

	record.ManifestFingerprint = m.Fingerprint()
	record.SetStage(readiness.StageStartingServices, o.now())
	return o.save(record)
}

// probe performs one readiness observation and folds it into the record.
func (o *Orchestrator) probe(ctx context.Context, record *statestore.Record) error {
	stage, status, err := o.Poller.Probe(ctx, record.Lease(), record.Stage)
	if err != nil {
		log.Warnf("Readiness probe: %s", err)
	}
	record.SetStage(stage, o.now())

	if status != nil && record.ServiceURL == "" {
		if uri := status.FirstURI(); uri != "" {
			url := serviceURL(uri)
			record.ServiceURL = url
			if record.Credentials != nil {
				record.Credentials.APIURL = url
			}
		}
	}

	return o.save(record)
}

// serviceURL turns a provider ingress URI into a browsable URL. Providers
// report bare hostnames; exposed services sit behind the provider's TLS
// ingress.
func serviceURL(uri string) string {
	if strings.Contains(uri, "://") {
		return uri
	}
	return "https://" + uri
}

// CheckReady performs a single non-blocking readiness observation of the
// active deployment.
func (o *Orchestrator) CheckReady(ctx context.Context) (*Result, error) {
	release, err := o.lock()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	defer release()

	record, err := o.load()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	if record == nil {
		err = Classified(KindNoDeployment, "no active deployment")
		return (&Result{}).FromError(err), err
	}

	result := &Result{}
	if !record.HasLease() {
		return result.FromRecord(record), nil
	}

	err = o.probe(ctx, record)
	if err != nil {
		return result.FromRecord(record).FromError(err), err
	}
	return result.FromRecord(record), nil
}

// Status reports the recorded state without mutating anything.
func (o *Orchestrator) Status(ctx context.Context) (*Result, error) {
	record, err := o.load()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	if record == nil {
		err = Classified(KindNoDeployment, "no active deployment")
		return (&Result{}).FromError(err), err
	}

	return (&Result{}).FromRecord(record), nil
}

// Close closes the active deployment, reports its cost and clears local
// state.
func (o *Orchestrator) Close(ctx context.Context) (*Result, error) {
	release, err := o.lock()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	defer release()

	record, err := o.load()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	if record == nil {
		err = Classified(KindNoDeployment, "no active deployment")
		return (&Result{}).FromError(err), err
	}
	result := (&Result{}).FromRecord(record)

	var withdrawn uint64
	if record.HasLease() {
		lease, err := o.Ledger.QueryLease(ctx, record.Owner, record.DSeq)
		if err != nil {
			log.Warnf("Could not query lease for cost report: %s", err)
		} else if lease != nil {
			withdrawn = lease.Withdrawn
		}
	}

	tx, err := o.Ledger.CloseDeployment(ctx, record.Owner, record.DSeq)
	metrics.LedgerTransaction("close-deployment", err)
	if err != nil {
		err = ErrorWrap(ExitUnavailable, KindLedger, err)
		return result.FromError(err), err
	}
	metrics.DeploymentsClosed.Inc()

	result.Cost = &CostReport{
		EscrowWithdrawn: withdrawn,
		CloseFee:        tx.Fee,
		TotalAKT:        float64(withdrawn+tx.Fee) / 1_000_000,
	}
	log.Infof("Deployment %d closed, total cost %.6f AKT", record.DSeq, result.Cost.TotalAKT)

	if err := o.clear(); err != nil {
		return result.FromError(err), err
	}
	result.Ready = false
	result.Status = ""
	return result, nil
}

// Logs fetches recent service logs from the provider.
func (o *Orchestrator) Logs(ctx context.Context) (*Result, error) {
	record, err := o.load()
	if err != nil {
		return (&Result{}).FromError(err), err
	}
	if record == nil || !record.HasLease() {
		err = Classified(KindNoDeployment, "no active deployment with a lease")
		return (&Result{}).FromError(err), err
	}
	result := (&Result{}).FromRecord(record)

	tail := readiness.DefaultLogTail
	if o.Poller != nil && o.Poller.LogTail > 0 {
		tail = o.Poller.LogTail
	}
	logs, err := o.Provider.ServiceLogs(ctx, record.Lease(), tail)
	if err != nil {
		err = ErrorWrap(ExitUnavailable, KindProvider, err)
		return result.FromError(err), err
	}
	result.LogLines = logs
	return result, nil
}

// Shell replaces the process with an interactive shell into the service.
// Only returns on failure.
func (o *Orchestrator) Shell(service string) error {
	record, err := o.load()
	if err != nil {
		return err
	}
	if record == nil || !record.HasLease() {
		return Classified(KindNoDeployment, "no active deployment with a lease")
	}
	err = o.Provider.Shell(record.Lease(), service)
	return ErrorWrap(ExitInternalError, KindInternal, err)
}

// DryRun validates configuration, manifest and wallet state without
// submitting anything.
func (o *Orchestrator) DryRun(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	result := &Result{}
	ok := true
	check := func(name string, err error, detail string) {
		c := Check{Name: name, OK: err == nil, Message: detail}
		if err != nil {
			c.Message = err.Error()
			ok = false
		}
		result.Checks = append(result.Checks, c)
	}

	check("manifest", nil, fmt.Sprintf("%d GPU preference(s), fingerprint %.12s", len(m.GPUPreferences()), m.Fingerprint()))

	sess, err := o.Guard.Ensure(ctx)
	if err != nil {
		check("session", err, "")
	} else {
		check("session", nil, fmt.Sprintf("wallet %s, balance %d uakt", sess.Owner, sess.Balance))
	}

	record, err := o.load()
	switch {
	case err != nil:
		check("state", err, "")
	case record == nil:
		check("state", nil, "no active deployment, a run would create one")
	default:
		check("state", nil, fmt.Sprintf("active deployment %d at stage %s, a run would resume it", record.DSeq, record.Stage))
		result.FromRecord(record)
	}

	if !ok {
		err := Classified(KindInvocation, "dry run found problems")
		return result.FromError(err), err
	}
	return result, nil
}
