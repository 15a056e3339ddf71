package driftgate

import (
	"fmt"

	"github.com/driftgate/driftgate/internal/model"
)

// Decision is the final verdict on an observation.
type Decision string

const (
	Allow Decision = Decision(model.Allow)
	Flag  Decision = Decision(model.Flag)
	Block Decision = Decision(model.Block)
)

// Payload is the ordered field list of an observation. Field order is
// part of the submission and is preserved on the wire.
type Payload = model.Payload

// Field is one named payload value.
type Field = model.Field

// Report is the evaluation outcome for one observation.
type Report struct {
	model.Report
}

// Decision returns the final verdict.
func (r Report) Decision() Decision {
	return Decision(r.Report.Decision)
}

// Blocked reports whether the observation was rejected outright.
func (r Report) Blocked() bool {
	return r.Report.Decision == model.Block
}

// DriftState is a subject's current sliding window summary.
type DriftState = model.DriftState

// LayerDef describes one rule layer for registration and listing. The
// shape matches the server's layer YAML.
type LayerDef struct {
	Name       string         `json:"name"`
	Priority   int            `json:"priority"`
	Severity   string         `json:"severity"`
	Predicates []PredicateDef `json:"predicates"`
}

// PredicateDef is one declarative check inside a layer.
type PredicateDef struct {
	Name  string `json:"name"`
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Health is the daemon's liveness summary.
type Health struct {
	Status     string `json:"status"`
	PolicyHash string `json:"policy_hash"`
	Layers     int    `json:"layers"`
}

// APIError is a non-2xx response from the daemon.
type APIError struct {
	StatusCode int
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("driftgate: %d: %s", e.StatusCode, e.Message)
}

// IsRejected reports whether err is a validation rejection (HTTP 400).
func IsRejected(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 400
}

// IsRateLimited reports whether err is a throughput rejection (HTTP 429).
func IsRateLimited(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == 429
}
