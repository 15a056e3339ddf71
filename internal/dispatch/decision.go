package dispatch

import (
	"fmt"

	"github.com/driftgate/driftgate/internal/model"
)

// decisionTable is the single source of truth for final decisions,
// indexed by [critical failure][drift over threshold][normal failure].
// No component downstream of evaluation may override it.
//
//   - any critical-layer failure forces BLOCK, regardless of drift
//   - otherwise drift over threshold or a normal-layer failure → FLAG
//   - otherwise → ALLOW
var decisionTable = [2][2][2]model.Decision{
	{ // no critical failure
		{model.Allow, model.Flag}, // drift ok:       normal pass / fail
		{model.Flag, model.Flag},  // drift exceeded: normal pass / fail
	},
	{ // critical failure
		{model.Block, model.Block},
		{model.Block, model.Block},
	},
}

func boolIdx(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Decide resolves the final decision and a deterministic reason line
// from the layer verdicts and the drift snapshot for this observation.
func Decide(verdicts []model.LayerVerdict, drift model.DriftState, flagThreshold float64) (model.Decision, string) {
	criticalFailed := model.AnyFailed(verdicts, model.SeverityCritical)
	normalFailed := model.AnyFailed(verdicts, model.SeverityNormal)
	driftExceeded := drift.Score > flagThreshold

	decision := decisionTable[boolIdx(criticalFailed)][boolIdx(driftExceeded)][boolIdx(normalFailed)]

	return decision, reasonFor(decision, verdicts, drift, flagThreshold, criticalFailed, driftExceeded)
}

func reasonFor(decision model.Decision, verdicts []model.LayerVerdict, drift model.DriftState, threshold float64, criticalFailed, driftExceeded bool) string {
	switch decision {
	case model.Block:
		return fmt.Sprintf("critical layer %s failed", firstFailed(verdicts, model.SeverityCritical))
	case model.Flag:
		if driftExceeded {
			return fmt.Sprintf("divergence %.3f exceeds threshold %.3f", drift.Score, threshold)
		}
		return fmt.Sprintf("layer %s failed", firstFailed(verdicts, model.SeverityNormal))
	default:
		return "all layers passed"
	}
}

// firstFailed returns the first failed layer of the given severity in
// verdict (priority) order.
func firstFailed(verdicts []model.LayerVerdict, sev model.Severity) string {
	for _, v := range verdicts {
		if v.Severity == sev && !v.Passed {
			return v.LayerName
		}
	}
	return "unknown"
}
