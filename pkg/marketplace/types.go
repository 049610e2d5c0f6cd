package marketplace

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type DeploymentState string

const (
	DeploymentActive DeploymentState = "active"
	DeploymentClosed DeploymentState = "closed"
)

// Deployment is a workload request recorded on the ledger. Deployments are
// never mutated in place; closing one is a separate transaction.
type Deployment struct {
	Owner     string
	DSeq      uint64
	State     DeploymentState
	CreatedAt time.Time
}

func (d Deployment) Age(now time.Time) time.Duration {
	if d.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(d.CreatedAt)
}

type BidState string

const (
	BidOpen   BidState = "open"
	BidClosed BidState = "closed"
)

// StateFilter selects which bid states a query returns.
type StateFilter string

const (
	FilterOpen   StateFilter = "open"
	FilterClosed StateFilter = "closed"
	FilterAll    StateFilter = "all"
)

type Attribute struct {
	Key   string
	Value string
}

// GPU identifies an accelerator offered by a provider.
type GPU struct {
	Vendor string
	Model  string
}

func (g GPU) String() string {
	return g.Vendor + "/" + g.Model
}

// Bid is a provider's priced offer against an order. Bids are immutable once
// observed; only State transitions.
type Bid struct {
	Owner    string
	DSeq     uint64
	GSeq     uint32
	OSeq     uint32
	Provider string
	State    BidState

	// Price in uakt per block.
	Price uint64

	Attributes []Attribute

	// Derived from Attributes at the ingestion boundary, so nothing
	// downstream has to inspect raw key strings.
	GPU          *GPU
	Organization string
	Country      string
}

func (b Bid) OrderRef() string {
	return fmt.Sprintf("%d/%d/%d", b.DSeq, b.GSeq, b.OSeq)
}

const gpuKeyPrefix = "capabilities/gpu/vendor/"

// ParseGPU extracts the GPU identity from a provider capability attribute
// set. The identity is encoded in the key path, not the value:
// capabilities/gpu/vendor/<vendor>/model/<model>. Returns nil when no such
// key is present. When several models are advertised the lexicographically
// smallest key wins, for determinism.
func ParseGPU(attrs []Attribute) *GPU {
	keys := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if strings.HasPrefix(attr.Key, gpuKeyPrefix) {
			keys = append(keys, attr.Key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	parts := strings.Split(strings.TrimPrefix(keys[0], gpuKeyPrefix), "/")
	if len(parts) < 3 || parts[1] != "model" {
		return nil
	}
	return &GPU{
		Vendor: strings.ToLower(parts[0]),
		Model:  strings.ToLower(parts[2]),
	}
}

// Enrich populates the derived bid fields from the raw attribute set.
func (b *Bid) Enrich() {
	b.GPU = ParseGPU(b.Attributes)
	for _, attr := range b.Attributes {
		switch attr.Key {
		case "organization":
			b.Organization = strings.ToLower(attr.Value)
		case "country":
			b.Country = strings.ToUpper(attr.Value)
		}
	}
}

type LeaseState string

const (
	LeaseActive LeaseState = "active"
	LeaseClosed LeaseState = "closed"
)

// Lease binds an accepted bid to a deployment. At most one active lease
// exists per deployment.
type Lease struct {
	Owner    string
	DSeq     uint64
	GSeq     uint32
	OSeq     uint32
	Provider string
	State    LeaseState

	Price uint64

	// Withdrawn is the total escrow amount the provider has withdrawn so
	// far, in uakt. Used for the cost report on close.
	Withdrawn uint64
}

func (l Lease) Ref() string {
	return fmt.Sprintf("%d/%d/%d/%s", l.DSeq, l.GSeq, l.OSeq, l.Provider)
}

// ServiceStatus is one service as reported by the provider.
type ServiceStatus struct {
	Name      string
	Available int32
	Ready     int32
	Total     int32
	URIs      []string
}

// LeaseStatus is the provider's view of a running lease.
type LeaseStatus struct {
	Services map[string]*ServiceStatus
}

func (s *LeaseStatus) AllReady() bool {
	if s == nil || len(s.Services) == 0 {
		return false
	}
	for _, svc := range s.Services {
		if svc.Ready == 0 {
			return false
		}
	}
	return true
}

func (s *LeaseStatus) AnyReady() bool {
	if s == nil {
		return false
	}
	for _, svc := range s.Services {
		if svc.Ready > 0 {
			return true
		}
	}
	return false
}

// FirstURI returns the first ingress URI of the first service, in stable
// name order. Empty string when none is exposed yet.
func (s *LeaseStatus) FirstURI() string {
	if s == nil {
		return ""
	}
	names := make([]string, 0, len(s.Services))
	for name := range s.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if uris := s.Services[name].URIs; len(uris) > 0 {
			return uris[0]
		}
	}
	return ""
}

// TxResult is the confirmed outcome of a ledger transaction.
type TxResult struct {
	Hash string
	// Fee paid, in uakt.
	Fee uint64
	Raw []byte
}
