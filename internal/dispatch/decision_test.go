package dispatch

import (
	"testing"

	"github.com/driftgate/driftgate/internal/model"
)

func verdictSet(criticalFailed, normalFailed bool) []model.LayerVerdict {
	return []model.LayerVerdict{
		{LayerName: "constitutional", Severity: model.SeverityCritical, Passed: !criticalFailed},
		{LayerName: "governance", Severity: model.SeverityNormal, Passed: !normalFailed},
	}
}

func driftAt(score float64) model.DriftState {
	return model.DriftState{SubjectID: "S1", Score: score, Trend: model.TrendStable}
}

// TestDecisionTableExhaustive covers every (critical failure, drift
// over threshold, normal failure) combination. A critical failure
// forces BLOCK regardless of drift; this table is the single source
// of truth for decisions.
func TestDecisionTableExhaustive(t *testing.T) {
	const threshold = 0.3

	tests := []struct {
		name           string
		criticalFailed bool
		score          float64
		normalFailed   bool
		want           model.Decision
	}{
		{"clean", false, 0.0, false, model.Allow},
		{"normal failure", false, 0.0, true, model.Flag},
		{"drift exceeded", false, 0.5, false, model.Flag},
		{"drift and normal failure", false, 0.5, true, model.Flag},
		{"critical failure", true, 0.0, false, model.Block},
		{"critical and normal failure", true, 0.0, true, model.Block},
		{"critical with drift", true, 0.5, false, model.Block},
		{"everything failing", true, 0.5, true, model.Block},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Decide(verdictSet(tt.criticalFailed, tt.normalFailed), driftAt(tt.score), threshold)
			if got != tt.want {
				t.Errorf("decision = %s, want %s", got, tt.want)
			}
			if reason == "" {
				t.Error("reason must never be empty")
			}
		})
	}
}

func TestThresholdIsExclusive(t *testing.T) {
	// Score exactly at the threshold does not flag.
	got, _ := Decide(verdictSet(false, false), driftAt(0.3), 0.3)
	if got != model.Allow {
		t.Errorf("score == threshold must allow, got %s", got)
	}

	got, _ = Decide(verdictSet(false, false), driftAt(0.30001), 0.3)
	if got != model.Flag {
		t.Errorf("score just above threshold must flag, got %s", got)
	}
}

func TestCriticalFailureOnFirstObservation(t *testing.T) {
	// A subject's very first observation failing a critical layer
	// blocks even though its divergence score is still 0.
	got, reason := Decide(verdictSet(true, false), driftAt(0), 0.3)
	if got != model.Block {
		t.Errorf("decision = %s, want block", got)
	}
	if reason != "critical layer constitutional failed" {
		t.Errorf("unexpected reason: %q", reason)
	}
}

func TestReasonNamesFirstFailedLayer(t *testing.T) {
	verdicts := []model.LayerVerdict{
		{LayerName: "consistency", Severity: model.SeverityNormal, Passed: false},
		{LayerName: "professional", Severity: model.SeverityNormal, Passed: false},
	}
	_, reason := Decide(verdicts, driftAt(0), 0.3)
	if reason != "layer consistency failed" {
		t.Errorf("unexpected reason: %q", reason)
	}
}
