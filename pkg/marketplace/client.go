package marketplace

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTxTimeout marks an ambiguous transaction outcome: the node
	// accepted the submission but confirmation did not arrive in time.
	// The transaction may still land on chain, so callers must reconcile
	// before retrying anything fee-costly.
	ErrTxTimeout = errors.New("transaction confirmation timed out")

	// ErrDSeqNotFound means a creation transaction confirmed but no
	// deployment sequence number could be extracted from its output.
	ErrDSeqNotFound = errors.New("no deployment sequence number in transaction output")

	ErrNotFound = errors.New("not found")
)

// LedgerClient is the query/submit surface of the marketplace ledger.
//
//go:generate go tool mockery --name LedgerClient --inpackage
type LedgerClient interface {
	// WalletAddress resolves the address of the configured identity.
	WalletAddress(ctx context.Context) (string, error)

	// Balance returns the owner's spendable balance in uakt.
	Balance(ctx context.Context, owner string) (uint64, error)

	// HasCertificate reports whether the owner has a published client
	// certificate, required before providers accept manifests.
	HasCertificate(ctx context.Context, owner string) (bool, error)

	// CreateDeployment submits a deployment creation transaction from the
	// given manifest file and returns the assigned dseq. ErrTxTimeout
	// signals an ambiguous outcome; ErrDSeqNotFound a confirmed
	// transaction whose output could not be parsed.
	CreateDeployment(ctx context.Context, manifestPath string) (uint64, error)

	// QueryDeployment fetches one deployment, ErrNotFound when absent.
	QueryDeployment(ctx context.Context, owner string, dseq uint64) (*Deployment, error)

	// QueryDeployments lists the owner's deployments created at or after
	// since, newest first.
	QueryDeployments(ctx context.Context, owner string, since time.Time) ([]Deployment, error)

	// QueryBids lists bids against the deployment's order, filtered by
	// state. Returned bids are enriched (GPU, organization, country).
	QueryBids(ctx context.Context, owner string, dseq uint64, filter StateFilter) ([]Bid, error)

	// QueryLease returns the lease for the deployment, or nil when none
	// exists in any state.
	QueryLease(ctx context.Context, owner string, dseq uint64) (*Lease, error)

	// CreateLease submits a lease creation transaction for the bid.
	CreateLease(ctx context.Context, bid Bid) (*TxResult, error)

	// CloseDeployment submits a deployment close transaction.
	CloseDeployment(ctx context.Context, owner string, dseq uint64) (*TxResult, error)
}

// ProviderClient talks to the provider awarded a lease.
//
//go:generate go tool mockery --name ProviderClient --inpackage
type ProviderClient interface {
	// LeaseStatus performs a single observation of the lease's services.
	LeaseStatus(ctx context.Context, lease Lease) (*LeaseStatus, error)

	// SendManifest delivers the workload manifest. Safe to repeat.
	SendManifest(ctx context.Context, lease Lease, manifestPath string) error

	// ServiceLogs returns the most recent log lines across the lease's
	// services.
	ServiceLogs(ctx context.Context, lease Lease, tail int) (string, error)

	// Shell replaces the current process with an interactive shell into
	// the named service. Does not return on success.
	Shell(lease Lease, service string) error
}
