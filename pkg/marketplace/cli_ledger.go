package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

func (c *CLIClient) WalletAddress(ctx context.Context) (string, error) {
	// Key lookups never touch the ledger, so no node flag and no failover.
	stdout, stderr, err := c.run(ctx, queryTimeout, c.cfg.Binary,
		"keys", "show", c.cfg.WalletName,
		"--keyring-backend", c.cfg.KeyringBackend,
		"--output", "json",
	)
	if err != nil {
		return "", fmt.Errorf("resolve wallet address: %w", queryError(err, stderr))
	}

	var key wireKeyInfo
	if err := json.Unmarshal(stdout, &key); err != nil {
		return "", fmt.Errorf("resolve wallet address: %w", err)
	}
	if key.Address == "" {
		return "", fmt.Errorf("resolve wallet address: %w", ErrNotFound)
	}
	return key.Address, nil
}

func (c *CLIClient) Balance(ctx context.Context, owner string) (uint64, error) {
	raw, err := c.query(ctx, "query", "bank", "balances", owner)
	if err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}

	var balances wireBalances
	if err := json.Unmarshal(raw, &balances); err != nil {
		return 0, fmt.Errorf("query balance: %w", err)
	}
	for _, coin := range balances.Balances {
		if coin.Denom == "uakt" {
			return coin.uakt(), nil
		}
	}
	return 0, nil
}

func (c *CLIClient) HasCertificate(ctx context.Context, owner string) (bool, error) {
	raw, err := c.query(ctx, "query", "cert", "list", "--owner", owner)
	if err != nil {
		return false, fmt.Errorf("query certificates: %w", err)
	}

	var certs wireCertificates
	if err := json.Unmarshal(raw, &certs); err != nil {
		return false, fmt.Errorf("query certificates: %w", err)
	}
	return len(certs.Certificates) > 0, nil
}

func (c *CLIClient) CreateDeployment(ctx context.Context, manifestPath string) (uint64, error) {
	result, err := c.tx(ctx, "tx", "deployment", "create", manifestPath)
	if err != nil {
		return 0, err
	}

	dseq, err := parseDSeq(result.Raw)
	if err != nil {
		return 0, fmt.Errorf("%w: tx %s confirmed", ErrDSeqNotFound, result.Hash)
	}
	return dseq, nil
}

func (c *CLIClient) QueryDeployment(ctx context.Context, owner string, dseq uint64) (*Deployment, error) {
	raw, err := c.query(ctx, "query", "deployment", "get",
		"--owner", owner,
		"--dseq", strconv.FormatUint(dseq, 10),
	)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query deployment: %w", err)
	}

	var wire wireDeployment
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("query deployment: %w", err)
	}
	if wire.Deployment.DeploymentID.DSeq == 0 {
		return nil, ErrNotFound
	}
	dep := c.deployment(ctx, wire)
	return &dep, nil
}

func (c *CLIClient) QueryDeployments(ctx context.Context, owner string, since time.Time) ([]Deployment, error) {
	raw, err := c.query(ctx, "query", "deployment", "list", "--owner", owner)
	if err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}

	var wire wireDeploymentList
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("query deployments: %w", err)
	}

	deployments := make([]Deployment, 0, len(wire.Deployments))
	for _, entry := range wire.Deployments {
		dep := c.deployment(ctx, entry)
		if !since.IsZero() && !dep.CreatedAt.IsZero() && dep.CreatedAt.Before(since) {
			continue
		}
		deployments = append(deployments, dep)
	}

	sort.Slice(deployments, func(i, j int) bool {
		return deployments[i].CreatedAt.After(deployments[j].CreatedAt)
	})
	return deployments, nil
}

func (c *CLIClient) deployment(ctx context.Context, wire wireDeployment) Deployment {
	return Deployment{
		Owner:     wire.Deployment.DeploymentID.Owner,
		DSeq:      uint64(wire.Deployment.DeploymentID.DSeq),
		State:     DeploymentState(strings.ToLower(wire.Deployment.State)),
		CreatedAt: c.estimateTime(ctx, int64(wire.Deployment.CreatedAt)),
	}
}

// QueryBids always queries unfiltered and classifies locally, so every
// caller shares one classification path.
func (c *CLIClient) QueryBids(ctx context.Context, owner string, dseq uint64, filter StateFilter) ([]Bid, error) {
	raw, err := c.query(ctx, "query", "market", "bid", "list",
		"--owner", owner,
		"--dseq", strconv.FormatUint(dseq, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}

	var wire wireBidList
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("query bids: %w", err)
	}

	attrCache := make(map[string][]Attribute)
	bids := make([]Bid, 0, len(wire.Bids))
	for _, entry := range wire.Bids {
		state := BidState(strings.ToLower(entry.Bid.State))
		if filter != FilterAll && StateFilter(state) != filter {
			continue
		}

		id := entry.Bid.BidID
		bid := Bid{
			Owner:    id.Owner,
			DSeq:     uint64(id.DSeq),
			GSeq:     uint32(id.GSeq),
			OSeq:     uint32(id.OSeq),
			Provider: id.Provider,
			State:    state,
			Price:    entry.Bid.Price.uakt(),
		}

		attrs, ok := attrCache[bid.Provider]
		if !ok {
			attrs = c.providerAttributes(ctx, bid.Provider)
			attrCache[bid.Provider] = attrs
		}
		bid.Attributes = attrs
		bid.Enrich()

		bids = append(bids, bid)
	}
	return bids, nil
}

// providerAttributes fetches the provider's advertised attribute set. A bid
// from a provider whose record cannot be fetched keeps an empty set rather
// than failing the whole bid query.
func (c *CLIClient) providerAttributes(ctx context.Context, provider string) []Attribute {
	raw, err := c.query(ctx, "query", "provider", "get", provider)
	if err != nil {
		log.Warnf("Could not fetch attributes for provider %s: %s", provider, err)
		return nil
	}

	var wire wireProvider
	if err := json.Unmarshal(raw, &wire); err != nil {
		log.Warnf("Could not decode provider record for %s: %s", provider, err)
		return nil
	}
	return attributes(wire.Attributes)
}

func (c *CLIClient) QueryLease(ctx context.Context, owner string, dseq uint64) (*Lease, error) {
	raw, err := c.query(ctx, "query", "market", "lease", "list",
		"--owner", owner,
		"--dseq", strconv.FormatUint(dseq, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}

	var wire wireLeaseList
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("query lease: %w", err)
	}
	if len(wire.Leases) == 0 {
		return nil, nil
	}

	// Prefer the active lease; a closed one is only interesting for the
	// cost report after teardown.
	for _, entry := range wire.Leases {
		if lease := entry.lease(); lease.State == LeaseActive {
			return &lease, nil
		}
	}
	lease := wire.Leases[0].lease()
	return &lease, nil
}

func (c *CLIClient) CreateLease(ctx context.Context, bid Bid) (*TxResult, error) {
	return c.tx(ctx, "tx", "market", "lease", "create",
		"--dseq", strconv.FormatUint(bid.DSeq, 10),
		"--gseq", strconv.FormatUint(uint64(bid.GSeq), 10),
		"--oseq", strconv.FormatUint(uint64(bid.OSeq), 10),
		"--provider", bid.Provider,
	)
}

func (c *CLIClient) CloseDeployment(ctx context.Context, owner string, dseq uint64) (*TxResult, error) {
	return c.tx(ctx, "tx", "deployment", "close",
		"--owner", owner,
		"--dseq", strconv.FormatUint(dseq, 10),
	)
}
