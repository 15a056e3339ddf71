// Package dispatch turns layer verdicts and drift state into the final
// report. It is the only component allowed externally observable side
// effects: webhook alert fan-out and the decision audit trail. The
// evaluator and drift tracker stay side-effect-free.
package dispatch

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/driftgate/driftgate/internal/audit"
	"github.com/driftgate/driftgate/internal/model"
)

// Dispatcher aggregates verdicts and drift state into Reports and
// fans out alerts for decisions that match a webhook's event list.
type Dispatcher struct {
	flagThreshold float64
	alerts        []AlertConfig
	trail         *audit.Log // optional
	logger        *slog.Logger
}

// New creates a Dispatcher. trail may be nil to disable the decision
// audit trail; logger may be nil for slog.Default().
func New(flagThreshold float64, alerts []AlertConfig, trail *audit.Log, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		flagThreshold: flagThreshold,
		alerts:        alerts,
		trail:         trail,
		logger:        logger,
	}
}

// Dispatch builds the final Report for one evaluated observation. The
// report references exactly the verdicts produced for the observation
// and the drift snapshot as of this evaluation, never a later state.
func (d *Dispatcher) Dispatch(obs *model.Observation, verdicts []model.LayerVerdict, drift model.DriftState, policyHash string) model.Report {
	decision, reason := Decide(verdicts, drift, d.flagThreshold)

	report := model.Report{
		ReportID:       uuid.NewString(),
		ObservationRef: obs.Ref(),
		Verdicts:       verdicts,
		Drift:          drift,
		Decision:       decision,
		Reason:         reason,
		PolicyHash:     policyHash,
		Timestamp:      obs.Timestamp,
	}

	d.record(report)
	d.notify(report)

	return report
}

// record appends the decision to the audit trail. Trail failures are
// logged, never propagated: the verdict is already decided.
func (d *Dispatcher) record(report model.Report) {
	if d.trail == nil {
		return
	}
	err := d.trail.Record(audit.Entry{
		SubjectID:  report.ObservationRef.SubjectID,
		Sequence:   report.ObservationRef.Sequence,
		Decision:   string(report.Decision),
		Reason:     report.Reason,
		Score:      report.Drift.Score,
		Trend:      string(report.Drift.Trend),
		PolicyHash: report.PolicyHash,
	})
	if err != nil {
		d.logger.Error("audit trail append failed",
			"subject_id", report.ObservationRef.SubjectID,
			"sequence", report.ObservationRef.Sequence,
			"error", err)
	}
}

// notify sends the event to all webhooks whose Events list matches the
// decision. Each send runs in its own goroutine and never blocks the
// caller.
func (d *Dispatcher) notify(report model.Report) {
	if len(d.alerts) == 0 {
		return
	}

	event := AlertEvent{
		Timestamp:  time.Now().UTC().Format(audit.TimestampFormat),
		SubjectID:  report.ObservationRef.SubjectID,
		Sequence:   report.ObservationRef.Sequence,
		Decision:   string(report.Decision),
		Reason:     report.Reason,
		Score:      report.Drift.Score,
		Trend:      string(report.Drift.Trend),
		PolicyHash: report.PolicyHash,
	}

	for _, cfg := range d.alerts {
		if matches(cfg.Events, event.Decision) {
			go func(cfg AlertConfig) {
				if err := Send(cfg, event); err != nil {
					d.logger.Error("alert webhook failed", "url", cfg.URL, "error", err)
				}
			}(cfg)
		}
	}
}

func matches(events []string, decision string) bool {
	for _, e := range events {
		if e == decision {
			return true
		}
	}
	return false
}
