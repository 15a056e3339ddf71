package model

// Severity classifies how a layer failure weighs on the final decision.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityCritical Severity = "critical"
)

// Decision is the final gating outcome for one observation.
type Decision string

const (
	Allow Decision = "allow"
	Flag  Decision = "flag"
	Block Decision = "block"
)

// Trend describes how a subject's divergence score moved between windows.
type Trend string

const (
	TrendStable    Trend = "stable"
	TrendImproving Trend = "improving"
	TrendDegrading Trend = "degrading"
)

// ObservationRef identifies one stored observation.
type ObservationRef struct {
	SubjectID string `json:"subject_id"`
	Sequence  uint64 `json:"sequence"`
}

// Observation is one timestamped submission for a subject.
// Sequence is assigned by the store, never by the caller.
// Immutable once stored.
type Observation struct {
	SubjectID string  `json:"subject_id"`
	Timestamp int64   `json:"timestamp"` // epoch milliseconds
	Payload   Payload `json:"payload"`
	Sequence  uint64  `json:"sequence"`
}

// Ref returns the stored identity of the observation.
func (o *Observation) Ref() ObservationRef {
	return ObservationRef{SubjectID: o.SubjectID, Sequence: o.Sequence}
}

// PredicateResult is the outcome of a single named check.
// Fault is set when the predicate itself failed internally; a fault
// is always reported as a failed predicate, never as an error.
type PredicateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Fault  string `json:"fault,omitempty"`
}

// LayerVerdict is the outcome of one layer's predicate set against one
// observation. Produced fresh per evaluation and never mutated.
type LayerVerdict struct {
	LayerName        string            `json:"layer_name"`
	Severity         Severity          `json:"severity"`
	ObservationRef   ObservationRef    `json:"observation_ref"`
	Passed           bool              `json:"passed"` // aggregate AND over predicates
	PredicateResults []PredicateResult `json:"predicate_results"`
	FailedPredicates []string          `json:"failed_predicates,omitempty"`
}

// DriftState is one immutable window snapshot of a subject's divergence.
// Superseded (never edited) each time the window advances.
type DriftState struct {
	SubjectID   string  `json:"subject_id"`
	WindowID    string  `json:"window_id"`
	WindowStart int64   `json:"window_start"` // epoch milliseconds
	WindowEnd   int64   `json:"window_end"`   // epoch milliseconds
	SampleCount int     `json:"sample_count"`
	Score       float64 `json:"divergence_score"` // bounded [0,1]
	PrevScore   float64 `json:"prev_score"`
	Trend       Trend   `json:"trend"`
}

// Report combines the layer verdicts and the drift state as of one
// evaluation into the final decision returned to the caller.
// The verdicts are ordered by layer priority and always belong to the
// referenced observation; the drift snapshot is the one produced by
// that same observation, never a later one.
type Report struct {
	ReportID          string         `json:"report_id"`
	ObservationRef    ObservationRef `json:"observation_ref"`
	Verdicts          []LayerVerdict `json:"layer_verdicts"`
	Drift             DriftState     `json:"drift_state"`
	Decision          Decision       `json:"final_decision"`
	Reason            string         `json:"reason"`
	PolicyHash        string         `json:"policy_hash"`
	DurabilityPending bool           `json:"durability_pending,omitempty"`
	Timestamp         int64          `json:"timestamp"` // epoch milliseconds, from the observation
}

// AnyFailed reports whether any verdict with the given severity has a
// failed aggregate.
func AnyFailed(verdicts []LayerVerdict, sev Severity) bool {
	for _, v := range verdicts {
		if v.Severity == sev && !v.Passed {
			return true
		}
	}
	return false
}
