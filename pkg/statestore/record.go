package statestore

import (
	"fmt"
	"time"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/readiness"
)

// Credentials are the API credentials generated for the deployed service.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	APIURL   string `json:"api_url"`
}

// Record is the locally persisted mirror of one deployment plus the
// orchestration metadata the ledger does not carry. It is the only entity
// this system owns and mutates directly.
type Record struct {
	Owner    string `json:"owner"`
	DSeq     uint64 `json:"dseq"`
	GSeq     uint32 `json:"gseq,omitempty"`
	OSeq     uint32 `json:"oseq,omitempty"`
	Provider string `json:"provider,omitempty"`

	Stage               readiness.Stage      `json:"stage"`
	ServiceURL          string               `json:"serviceUrl,omitempty"`
	Credentials         *Credentials         `json:"apiCredentials,omitempty"`
	ManifestFingerprint string               `json:"manifestFingerprint,omitempty"`
	CreatedAt           time.Time            `json:"createdAt"`
	StageTimestamps     map[string]time.Time `json:"stageTimestamps,omitempty"`
}

// HasLease reports whether a lease has been recorded for the deployment.
func (r *Record) HasLease() bool {
	return r != nil && r.Provider != ""
}

// Lease reconstitutes the lease identity from the record.
func (r *Record) Lease() marketplace.Lease {
	return marketplace.Lease{
		Owner:    r.Owner,
		DSeq:     r.DSeq,
		GSeq:     r.GSeq,
		OSeq:     r.OSeq,
		Provider: r.Provider,
		State:    marketplace.LeaseActive,
	}
}

// SetStage advances the record to the given stage and timestamps the
// transition. Regressions are refused so a transient observation can never
// walk the externally visible stage backwards.
func (r *Record) SetStage(stage readiness.Stage, now time.Time) {
	if stage.Before(r.Stage) || stage == r.Stage {
		return
	}
	r.Stage = stage
	if r.StageTimestamps == nil {
		r.StageTimestamps = make(map[string]time.Time)
	}
	r.StageTimestamps[string(stage)] = now.UTC()
}

func (r *Record) validate() error {
	if r.DSeq == 0 {
		return fmt.Errorf("record has no deployment sequence number")
	}
	if r.Owner == "" {
		return fmt.Errorf("record has no owner")
	}
	if r.Stage == "" {
		r.Stage = readiness.StageStarting
	}
	if !r.Stage.Known() {
		return fmt.Errorf("record has unknown stage '%s'", r.Stage)
	}
	return nil
}
