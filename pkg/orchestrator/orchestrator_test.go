package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/bidding"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/manifest"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/orchestrator"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/readiness"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/reconcile"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/session"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/statestore"
)

const (
	testOwner    = "akash1owner"
	testProvider = "akash1provider"
)

const testSDL = `services:
  comfyui:
    image: ghcr.io/example/comfyui:latest
profiles:
  compute:
    comfyui:
      resources:
        gpu:
          units: 1
          attributes:
            vendor:
              nvidia:
                - model: rtx4090
`

type fixture struct {
	orc      *orchestrator.Orchestrator
	ledger   *marketplace.MockLedgerClient
	provider *marketplace.MockProviderClient
	store    *statestore.Store
	manifest *manifest.Manifest
}

func newFixture(t *testing.T) *fixture {
	ledger := marketplace.NewMockLedgerClient(t)
	provider := marketplace.NewMockProviderClient(t)
	store := statestore.New(t.TempDir())

	path := filepath.Join(t.TempDir(), "deploy.yml")
	assert.NoError(t, os.WriteFile(path, []byte(testSDL), 0o644))
	m, err := manifest.Load(path, nil)
	assert.NoError(t, err)

	collector := &bidding.Collector{
		Ledger:   ledger,
		Interval: time.Millisecond,
		Window:   30 * time.Millisecond,
	}
	return &fixture{
		orc: &orchestrator.Orchestrator{
			Ledger:    ledger,
			Provider:  provider,
			Store:     store,
			Guard:     &session.Guard{Ledger: ledger},
			Collector: collector,
			Engine: &reconcile.Engine{
				Ledger:          ledger,
				Bids:            collector,
				RecoverAttempts: 3,
				RecoverInterval: time.Millisecond,
				AgeThreshold:    time.Minute,
			},
			Poller: &readiness.Poller{Provider: provider, LogTail: 10},
		},
		ledger:   ledger,
		provider: provider,
		store:    store,
		manifest: m,
	}
}

func (f *fixture) expectSession() {
	f.ledger.On("WalletAddress", mock.Anything).Return(testOwner, nil)
	f.ledger.On("Balance", mock.Anything, testOwner).Return(session.MinBalance, nil)
	f.ledger.On("HasCertificate", mock.Anything, testOwner).Return(true, nil)
}

func openBid(dseq uint64) marketplace.Bid {
	return marketplace.Bid{
		Owner:    testOwner,
		DSeq:     dseq,
		GSeq:     1,
		OSeq:     1,
		Provider: testProvider,
		State:    marketplace.BidOpen,
		Price:    10,
		GPU:      &marketplace.GPU{Vendor: "nvidia", Model: "rtx4090"},
	}
}

func activeLease(dseq uint64) *marketplace.Lease {
	return &marketplace.Lease{
		Owner:    testOwner,
		DSeq:     dseq,
		GSeq:     1,
		OSeq:     1,
		Provider: testProvider,
		State:    marketplace.LeaseActive,
	}
}

func TestDeployThenResumeCreatesExactlyOneDeployment(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	const dseq = uint64(777)
	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(dseq, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, dseq).Return(nil, nil).Once()
	f.ledger.On("QueryBids", mock.Anything, testOwner, dseq, marketplace.FilterAll).
		Return([]marketplace.Bid{openBid(dseq)}, nil)
	f.ledger.On("CreateLease", mock.Anything, mock.Anything).Return(&marketplace.TxResult{Hash: "AB", Fee: 25}, nil).Once()
	f.provider.On("SendManifest", mock.Anything, mock.Anything, f.manifest.Path).Return(nil).Once()
	f.provider.On("LeaseStatus", mock.Anything, mock.Anything).Return(nil, errors.New("provider warming up"))

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.NoError(t, err)
	assert.Equal(t, dseq, result.DSeq)
	assert.Equal(t, testProvider, result.Provider)
	assert.False(t, result.Ready)
	assert.Nil(t, result.Error)

	// Second invocation with no ledger change: resume, no new transactions.
	f.ledger.On("QueryDeployment", mock.Anything, testOwner, dseq).
		Return(&marketplace.Deployment{Owner: testOwner, DSeq: dseq, State: marketplace.DeploymentActive}, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, dseq).Return(activeLease(dseq), nil).Once()

	result, err = f.orc.Deploy(context.Background(), f.manifest)
	assert.NoError(t, err)
	assert.Equal(t, dseq, result.DSeq)
	f.ledger.AssertNumberOfCalls(t, "CreateDeployment", 1)
	f.ledger.AssertNumberOfCalls(t, "CreateLease", 1)
}

func TestDeployRecoversFromAmbiguousCreation(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	const dseq = uint64(888)
	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(uint64(0), marketplace.ErrTxTimeout).Once()
	f.ledger.On("QueryDeployments", mock.Anything, testOwner, mock.Anything).
		Return([]marketplace.Deployment{{Owner: testOwner, DSeq: dseq, State: marketplace.DeploymentActive}}, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, dseq).Return(nil, nil).Once()
	f.ledger.On("QueryBids", mock.Anything, testOwner, dseq, marketplace.FilterAll).
		Return([]marketplace.Bid{openBid(dseq)}, nil)
	f.ledger.On("CreateLease", mock.Anything, mock.Anything).Return(&marketplace.TxResult{Hash: "CD", Fee: 25}, nil).Once()
	f.provider.On("SendManifest", mock.Anything, mock.Anything, f.manifest.Path).Return(nil).Once()
	f.provider.On("LeaseStatus", mock.Anything, mock.Anything).Return(nil, errors.New("not yet"))

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.NoError(t, err)
	assert.Equal(t, dseq, result.DSeq)
	f.ledger.AssertNumberOfCalls(t, "CreateDeployment", 1)
}

func TestDeployFailsTerminallyWhenCreationNeverLanded(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(uint64(0), marketplace.ErrTxTimeout).Once()
	f.ledger.On("QueryDeployments", mock.Anything, testOwner, mock.Anything).Return(nil, nil).Times(3)

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.Error(t, err)
	assert.Equal(t, orchestrator.ExitSuccess, orchestrator.ErrorExitCode(err))
	assert.Equal(t, orchestrator.KindNotCreated, result.Error.Kind)
}

func TestDeployClosesWhenNoBidsArrive(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	const dseq = uint64(555)
	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(dseq, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, dseq).Return(nil, nil).Once()
	f.ledger.On("QueryBids", mock.Anything, testOwner, dseq, marketplace.FilterAll).Return(nil, nil)
	f.ledger.On("CloseDeployment", mock.Anything, testOwner, dseq).Return(&marketplace.TxResult{Fee: 20}, nil).Once()

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.Error(t, err)
	assert.Equal(t, orchestrator.ExitSuccess, orchestrator.ErrorExitCode(err))
	assert.Equal(t, orchestrator.KindNoBids, result.Error.Kind)

	record, err := f.store.Load()
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestDeployClosesWhenAllBidsExpired(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	const dseq = uint64(556)
	closed := openBid(dseq)
	closed.State = marketplace.BidClosed

	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(dseq, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, dseq).Return(nil, nil).Once()
	f.ledger.On("QueryBids", mock.Anything, testOwner, dseq, marketplace.FilterAll).
		Return([]marketplace.Bid{closed}, nil)
	f.ledger.On("CloseDeployment", mock.Anything, testOwner, dseq).Return(&marketplace.TxResult{Fee: 20}, nil).Once()

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.Error(t, err)
	assert.Equal(t, orchestrator.KindBidsExpired, result.Error.Kind)
	assert.Equal(t, orchestrator.ExitSuccess, orchestrator.ErrorExitCode(err))
}

func TestDeployDiscardsRecordWhenLedgerClosedIt(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	const oldDSeq = uint64(100)
	const newDSeq = uint64(200)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:     testOwner,
		DSeq:      oldDSeq,
		Stage:     readiness.StageStarting,
		CreatedAt: time.Now(),
	}))

	f.ledger.On("QueryDeployment", mock.Anything, testOwner, oldDSeq).
		Return(&marketplace.Deployment{Owner: testOwner, DSeq: oldDSeq, State: marketplace.DeploymentClosed}, nil).Once()
	f.ledger.On("CreateDeployment", mock.Anything, f.manifest.Path).Return(newDSeq, nil).Once()
	f.ledger.On("QueryLease", mock.Anything, testOwner, newDSeq).Return(nil, nil).Once()
	f.ledger.On("QueryBids", mock.Anything, testOwner, newDSeq, marketplace.FilterAll).
		Return([]marketplace.Bid{openBid(newDSeq)}, nil)
	f.ledger.On("CreateLease", mock.Anything, mock.Anything).Return(&marketplace.TxResult{Hash: "EF", Fee: 25}, nil).Once()
	f.provider.On("SendManifest", mock.Anything, mock.Anything, f.manifest.Path).Return(nil).Once()
	f.provider.On("LeaseStatus", mock.Anything, mock.Anything).Return(nil, errors.New("not yet"))

	result, err := f.orc.Deploy(context.Background(), f.manifest)
	assert.NoError(t, err)
	assert.Equal(t, newDSeq, result.DSeq)
}

func TestDeployRefusesWhenStateLocked(t *testing.T) {
	f := newFixture(t)
	release, err := f.store.Lock()
	assert.NoError(t, err)
	defer release()

	_, err = f.orc.Deploy(context.Background(), f.manifest)
	assert.Error(t, err)
	assert.Equal(t, orchestrator.ExitStateLocked, orchestrator.ErrorExitCode(err))
}

func TestCheckReadyAdvancesStage(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:     testOwner,
		DSeq:      777,
		GSeq:      1,
		OSeq:      1,
		Provider:  testProvider,
		Stage:     readiness.StageStartingServices,
		CreatedAt: time.Now(),
	}))

	status := &marketplace.LeaseStatus{
		Services: map[string]*marketplace.ServiceStatus{
			"comfyui": {Name: "comfyui", Available: 1, Ready: 1, Total: 1, URIs: []string{"comfyui.example.com"}},
		},
	}
	f.provider.On("LeaseStatus", mock.Anything, mock.Anything).Return(status, nil).Once()
	f.provider.On("ServiceLogs", mock.Anything, mock.Anything, 10).Return("Watches established", nil).Once()

	result, err := f.orc.CheckReady(context.Background())
	assert.NoError(t, err)
	assert.True(t, result.Ready)
	assert.Equal(t, readiness.StageReady, result.Status)
	assert.Equal(t, "https://comfyui.example.com", result.ServiceURL)

	record, err := f.store.Load()
	assert.NoError(t, err)
	assert.Equal(t, readiness.StageReady, record.Stage)
	assert.Equal(t, "https://comfyui.example.com", record.ServiceURL)
}

func TestServiceURLKeepsExplicitScheme(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:       testOwner,
		DSeq:        778,
		GSeq:        1,
		OSeq:        1,
		Provider:    testProvider,
		Stage:       readiness.StageStartingServices,
		Credentials: &statestore.Credentials{Username: "comfyui_abc", Password: "secret"},
		CreatedAt:   time.Now(),
	}))

	status := &marketplace.LeaseStatus{
		Services: map[string]*marketplace.ServiceStatus{
			"comfyui": {Name: "comfyui", Available: 1, Ready: 1, Total: 1, URIs: []string{"http://comfyui.example.com"}},
		},
	}
	f.provider.On("LeaseStatus", mock.Anything, mock.Anything).Return(status, nil).Once()
	f.provider.On("ServiceLogs", mock.Anything, mock.Anything, 10).Return("Watches established", nil).Once()

	result, err := f.orc.CheckReady(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "http://comfyui.example.com", result.ServiceURL)
	assert.Equal(t, "http://comfyui.example.com", result.Credentials.APIURL)
}

func TestCheckReadyWithoutDeployment(t *testing.T) {
	f := newFixture(t)

	result, err := f.orc.CheckReady(context.Background())
	assert.Error(t, err)
	assert.Equal(t, orchestrator.ExitSuccess, orchestrator.ErrorExitCode(err))
	assert.Equal(t, orchestrator.KindNoDeployment, result.Error.Kind)
}

func TestCloseReportsCostAndClearsState(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:     testOwner,
		DSeq:      777,
		GSeq:      1,
		OSeq:      1,
		Provider:  testProvider,
		Stage:     readiness.StageReady,
		CreatedAt: time.Now(),
	}))

	lease := activeLease(777)
	lease.Withdrawn = 4000
	f.ledger.On("QueryLease", mock.Anything, testOwner, uint64(777)).Return(lease, nil).Once()
	f.ledger.On("CloseDeployment", mock.Anything, testOwner, uint64(777)).Return(&marketplace.TxResult{Hash: "FF", Fee: 30}, nil).Once()

	result, err := f.orc.Close(context.Background())
	assert.NoError(t, err)
	assert.NotNil(t, result.Cost)
	assert.Equal(t, uint64(4000), result.Cost.EscrowWithdrawn)
	assert.Equal(t, uint64(30), result.Cost.CloseFee)

	record, err := f.store.Load()
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestStatusReportsRecord(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:      testOwner,
		DSeq:       321,
		Provider:   testProvider,
		Stage:      readiness.StageDownloadingModels,
		ServiceURL: "comfyui.example.com",
		CreatedAt:  time.Now(),
	}))

	result, err := f.orc.Status(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, uint64(321), result.DSeq)
	assert.Equal(t, readiness.StageDownloadingModels, result.Status)
	assert.False(t, result.Ready)
}

func TestLogsFetchesTail(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.store.Save(&statestore.Record{
		Owner:     testOwner,
		DSeq:      777,
		GSeq:      1,
		OSeq:      1,
		Provider:  testProvider,
		Stage:     readiness.StageReady,
		CreatedAt: time.Now(),
	}))
	f.provider.On("ServiceLogs", mock.Anything, mock.Anything, 10).Return("line1\nline2", nil).Once()

	result, err := f.orc.Logs(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "line1\nline2", result.LogLines)
}

func TestDryRunReportsChecksWithoutTransactions(t *testing.T) {
	f := newFixture(t)
	f.expectSession()

	result, err := f.orc.DryRun(context.Background(), f.manifest)
	assert.NoError(t, err)
	assert.Len(t, result.Checks, 3)
	for _, check := range result.Checks {
		assert.True(t, check.OK, check.Name)
	}
	f.ledger.AssertNotCalled(t, "CreateDeployment", mock.Anything, mock.Anything)
}
