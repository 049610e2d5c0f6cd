package marketplace

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
)

// The CLI emits JSON when asked but some subcommands still produce YAML.
// Everything is normalized to JSON before decoding, the same way the
// original tooling fell back from one format to the other.
func jsonOutput(raw []byte) ([]byte, error) {
	trimmed := []byte(strings.TrimSpace(string(raw)))
	if len(trimmed) == 0 {
		return trimmed, nil
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed, nil
	}
	return yaml.YAMLToJSON(trimmed)
}

// seq decodes the ledger's habit of emitting sequence numbers as either
// JSON strings or numbers, depending on the field and version.
type seq uint64

func (s *seq) UnmarshalJSON(data []byte) error {
	str := strings.Trim(string(data), `"`)
	if str == "" || str == "null" {
		*s = 0
		return nil
	}
	n, err := strconv.ParseUint(str, 10, 64)
	if err != nil {
		return err
	}
	*s = seq(n)
	return nil
}

type wireAttribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func attributes(wire []wireAttribute) []Attribute {
	out := make([]Attribute, len(wire))
	for i, attr := range wire {
		out[i] = Attribute{Key: attr.Key, Value: attr.Value}
	}
	return out
}

type wireCoin struct {
	Denom  string `json:"denom"`
	Amount string `json:"amount"`
}

// uakt truncates a decimal coin amount to whole uakt.
func (c wireCoin) uakt() uint64 {
	f, err := strconv.ParseFloat(c.Amount, 64)
	if err != nil || f < 0 {
		return 0
	}
	return uint64(f)
}

type wireKeyInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type wireBalances struct {
	Balances []wireCoin `json:"balances"`
}

type wireCertificates struct {
	Certificates []json.RawMessage `json:"certificates"`
}

type wireDeploymentID struct {
	Owner string `json:"owner"`
	DSeq  seq    `json:"dseq"`
}

type wireDeployment struct {
	Deployment struct {
		DeploymentID wireDeploymentID `json:"deployment_id"`
		State        string           `json:"state"`
		CreatedAt    seq              `json:"created_at"`
	} `json:"deployment"`
}

type wireDeploymentList struct {
	Deployments []wireDeployment `json:"deployments"`
}

type wireBidID struct {
	Owner    string `json:"owner"`
	DSeq     seq    `json:"dseq"`
	GSeq     seq    `json:"gseq"`
	OSeq     seq    `json:"oseq"`
	Provider string `json:"provider"`
}

type wireBid struct {
	Bid struct {
		BidID wireBidID `json:"bid_id"`
		State string    `json:"state"`
		Price wireCoin  `json:"price"`
	} `json:"bid"`
}

type wireBidList struct {
	Bids []wireBid `json:"bids"`
}

type wireProvider struct {
	Owner      string          `json:"owner"`
	HostURI    string          `json:"host_uri"`
	Attributes []wireAttribute `json:"attributes"`
}

type wireLeaseID struct {
	Owner    string `json:"owner"`
	DSeq     seq    `json:"dseq"`
	GSeq     seq    `json:"gseq"`
	OSeq     seq    `json:"oseq"`
	Provider string `json:"provider"`
}

type wireLease struct {
	Lease struct {
		LeaseID wireLeaseID `json:"lease_id"`
		State   string      `json:"state"`
		Price   wireCoin    `json:"price"`
	} `json:"lease"`
	EscrowPayment struct {
		Withdrawn wireCoin `json:"withdrawn"`
	} `json:"escrow_payment"`
}

type wireLeaseList struct {
	Leases []wireLease `json:"leases"`
}

func (w wireLease) lease() Lease {
	id := w.Lease.LeaseID
	return Lease{
		Owner:     id.Owner,
		DSeq:      uint64(id.DSeq),
		GSeq:      uint32(id.GSeq),
		OSeq:      uint32(id.OSeq),
		Provider:  id.Provider,
		State:     LeaseState(strings.ToLower(w.Lease.State)),
		Price:     w.Lease.Price.uakt(),
		Withdrawn: w.EscrowPayment.Withdrawn.uakt(),
	}
}

type wireServiceStatus struct {
	Name               string   `json:"name"`
	Available          int32    `json:"available"`
	Total              int32    `json:"total"`
	URIs               []string `json:"uris"`
	Ready              int32    `json:"ready"`
	ReadyReplicas      int32    `json:"ready_replicas"`
	AvailableReplicas  int32    `json:"available_replicas"`
	UpdatedReplicas    int32    `json:"updated_replicas"`
	ObservedGeneration int64    `json:"observed_generation"`
}

type wireLeaseStatus struct {
	Services map[string]*wireServiceStatus `json:"services"`
}

func (w *wireLeaseStatus) status() *LeaseStatus {
	out := &LeaseStatus{Services: make(map[string]*ServiceStatus, len(w.Services))}
	for name, svc := range w.Services {
		ready := svc.ReadyReplicas
		if ready == 0 {
			ready = svc.Ready
		}
		available := svc.AvailableReplicas
		if available == 0 {
			available = svc.Available
		}
		out.Services[name] = &ServiceStatus{
			Name:      name,
			Available: available,
			Ready:     ready,
			Total:     svc.Total,
			URIs:      svc.URIs,
		}
	}
	return out
}

type wireBlock struct {
	Block struct {
		Header struct {
			Height seq `json:"height"`
		} `json:"header"`
	} `json:"block"`
}

func parseBlockHeight(raw []byte) int64 {
	var block wireBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return 0
	}
	return int64(block.Block.Header.Height)
}
