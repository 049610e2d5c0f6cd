package reconcile_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/reconcile"
)

const testOwner = "akash1owner"

func newEngine(t *testing.T) (*reconcile.Engine, *marketplace.MockLedgerClient) {
	ledger := marketplace.NewMockLedgerClient(t)
	engine := &reconcile.Engine{
		Ledger:          ledger,
		Bids:            &bidding.Collector{Ledger: ledger},
		RecoverAttempts: 3,
		RecoverInterval: time.Millisecond,
	}
	return engine, ledger
}

func TestRecoverCreatedFindsNewestDeployment(t *testing.T) {
	engine, ledger := newEngine(t)
	since := time.Now().Add(-time.Minute)
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return([]marketplace.Deployment{
			{Owner: testOwner, DSeq: 999, State: "active"},
			{Owner: testOwner, DSeq: 500, State: "active"},
		}, nil).Once()

	dseq, err := engine.RecoverCreated(context.Background(), testOwner, since)
	assert.NoError(t, err)
	assert.Equal(t, uint64(999), dseq)
}

func TestRecoverCreatedRetriesBeforeSucceeding(t *testing.T) {
	engine, ledger := newEngine(t)
	since := time.Now()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return(nil, nil).Twice()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return([]marketplace.Deployment{{Owner: testOwner, DSeq: 42}}, nil).Once()

	dseq, err := engine.RecoverCreated(context.Background(), testOwner, since)
	assert.NoError(t, err)
	assert.Equal(t, uint64(42), dseq)
}

func TestRecoverCreatedReportsNotCreated(t *testing.T) {
	engine, ledger := newEngine(t)
	since := time.Now()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return(nil, nil).Times(3)

	_, err := engine.RecoverCreated(context.Background(), testOwner, since)
	assert.ErrorIs(t, err, reconcile.ErrNotCreated)
}

func TestRecoverCreatedUnverifiedWhenLedgerDropsOut(t *testing.T) {
	engine, ledger := newEngine(t)
	since := time.Now()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return(nil, nil).Once()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return(nil, errors.New("all rpc nodes unreachable")).Twice()

	// One early "nothing yet" answer proves nothing: the transaction can
	// land a block later, so losing the ledger afterwards must stay
	// ambiguous.
	_, err := engine.RecoverCreated(context.Background(), testOwner, since)
	assert.ErrorIs(t, err, reconcile.ErrUnverified)
	assert.NotErrorIs(t, err, reconcile.ErrNotCreated)
}

func TestRecoverCreatedReportsUnverified(t *testing.T) {
	engine, ledger := newEngine(t)
	since := time.Now()
	ledger.On("QueryDeployments", mock.Anything, testOwner, since).
		Return(nil, errors.New("all rpc nodes unreachable")).Times(3)

	_, err := engine.RecoverCreated(context.Background(), testOwner, since)
	assert.ErrorIs(t, err, reconcile.ErrUnverified)
}

func unleasedDeployment(age time.Duration, now time.Time) marketplace.Deployment {
	return marketplace.Deployment{
		Owner:     testOwner,
		DSeq:      123,
		State:     "active",
		CreatedAt: now.Add(-age),
	}
}

func TestResolveUnleasedWithOpenBids(t *testing.T) {
	engine, ledger := newEngine(t)
	now := time.Now()
	ledger.On("QueryBids", mock.Anything, testOwner, uint64(123), marketplace.FilterAll).
		Return([]marketplace.Bid{
			{Provider: "akash1p", State: marketplace.BidOpen},
			{Provider: "akash1q", State: marketplace.BidClosed},
		}, nil).Once()

	decision, err := engine.ResolveUnleased(context.Background(), unleasedDeployment(time.Hour, now), now)
	assert.NoError(t, err)
	assert.Equal(t, reconcile.ActionCreateLease, decision.Action)
	assert.Len(t, decision.OpenBids, 1)
}

func TestResolveUnleasedWithOnlyClosedBids(t *testing.T) {
	engine, ledger := newEngine(t)
	now := time.Now()
	ledger.On("QueryBids", mock.Anything, testOwner, uint64(123), marketplace.FilterAll).
		Return([]marketplace.Bid{{Provider: "akash1p", State: marketplace.BidClosed}}, nil).Once()

	decision, err := engine.ResolveUnleased(context.Background(), unleasedDeployment(time.Minute, now), now)
	assert.NoError(t, err)
	assert.Equal(t, reconcile.ActionClose, decision.Action)
	assert.Equal(t, "bids expired", decision.Reason)
}

func TestResolveUnleasedYoungDeploymentWaits(t *testing.T) {
	engine, ledger := newEngine(t)
	now := time.Now()
	ledger.On("QueryBids", mock.Anything, testOwner, uint64(123), marketplace.FilterAll).
		Return(nil, nil).Once()

	decision, err := engine.ResolveUnleased(context.Background(), unleasedDeployment(time.Minute, now), now)
	assert.NoError(t, err)
	assert.Equal(t, reconcile.ActionWait, decision.Action)
}

func TestResolveUnleasedStaleDeploymentCloses(t *testing.T) {
	engine, ledger := newEngine(t)
	now := time.Now()
	ledger.On("QueryBids", mock.Anything, testOwner, uint64(123), marketplace.FilterAll).
		Return(nil, nil).Once()

	decision, err := engine.ResolveUnleased(context.Background(), unleasedDeployment(time.Hour, now), now)
	assert.NoError(t, err)
	assert.Equal(t, reconcile.ActionClose, decision.Action)
	assert.Equal(t, "no bids after timeout", decision.Reason)
}

func TestResolveUnleasedPropagatesQueryError(t *testing.T) {
	engine, ledger := newEngine(t)
	now := time.Now()
	ledger.On("QueryBids", mock.Anything, testOwner, uint64(123), marketplace.FilterAll).
		Return(nil, errors.New("node down")).Once()

	_, err := engine.ResolveUnleased(context.Background(), unleasedDeployment(time.Minute, now), now)
	assert.Error(t, err)
}
