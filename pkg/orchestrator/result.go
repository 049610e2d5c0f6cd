package orchestrator

import (
	"encoding/json"
	"io"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/readiness"
	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/statestore"
)

// ResultError is the structured failure half of the output contract.
type ResultError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Check is one dry-run validation step.
type Check struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// CostReport summarizes what a closed deployment spent, in uakt.
type CostReport struct {
	EscrowWithdrawn uint64  `json:"escrowWithdrawnUakt"`
	CloseFee        uint64  `json:"closeFeeUakt"`
	TotalAKT        float64 `json:"totalAkt"`
}

// Result is the single JSON object every invocation writes to stdout.
// Automation parses nothing else.
type Result struct {
	Ready       bool                    `json:"ready"`
	Status      readiness.Stage         `json:"status"`
	DSeq        uint64                  `json:"dseq,omitempty"`
	Provider    string                  `json:"provider,omitempty"`
	ServiceURL  string                  `json:"serviceUrl,omitempty"`
	Credentials *statestore.Credentials `json:"apiCredentials,omitempty"`
	Error       *ResultError            `json:"error"`

	Invocation string      `json:"invocation,omitempty"`
	LogLines   string      `json:"logs,omitempty"`
	Checks     []Check     `json:"checks,omitempty"`
	Cost       *CostReport `json:"cost,omitempty"`
}

// FromRecord fills the identity fields automation keys on.
func (r *Result) FromRecord(record *statestore.Record) *Result {
	if record == nil {
		return r
	}
	r.Status = record.Stage
	r.Ready = record.Stage == readiness.StageReady
	r.DSeq = record.DSeq
	r.Provider = record.Provider
	r.ServiceURL = record.ServiceURL
	if record.Credentials != nil {
		r.Credentials = record.Credentials
	}
	return r
}

// FromError converts any error into the structured error object. A nil
// error leaves the result untouched.
func (r *Result) FromError(err error) *Result {
	if err == nil {
		return r
	}
	r.Error = &ResultError{
		Kind:    ErrorKind(err),
		Message: err.Error(),
	}
	return r
}

// Write emits the result as a single JSON document.
func (r *Result) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
