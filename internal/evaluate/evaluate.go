// Package evaluate applies registered rule layers to observations.
//
// Evaluation is pure: the same (observation, layer-set) pair always
// yields the same verdicts. Predicates are declarative data compiled
// ahead of time, so nothing here touches the clock, randomness, or
// I/O. Every layer is always evaluated, with no short-circuiting, so
// the caller sees the complete compliance picture, not the first
// failure.
package evaluate

import (
	"sync"

	"github.com/driftgate/driftgate/internal/model"
	"github.com/driftgate/driftgate/internal/registry"
)

// Evaluate applies every predicate of every layer to the observation
// payload and returns one verdict per layer, in the layers' declared
// order. Layers are independent and read-only, so they are evaluated
// concurrently; the result slice restores the deterministic order.
func Evaluate(obs *model.Observation, layers []*registry.Layer) []model.LayerVerdict {
	verdicts := make([]model.LayerVerdict, len(layers))

	if len(layers) <= 1 {
		for i, layer := range layers {
			verdicts[i] = evaluateLayer(obs, layer)
		}
		return verdicts
	}

	var wg sync.WaitGroup
	for i, layer := range layers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			verdicts[i] = evaluateLayer(obs, layer)
		}()
	}
	wg.Wait()

	return verdicts
}

// evaluateLayer runs one layer's predicate set. A predicate fault is
// downgraded to a failed predicate with the fault recorded: uncertain
// never passes, and a broken predicate never crashes the evaluation.
func evaluateLayer(obs *model.Observation, layer *registry.Layer) model.LayerVerdict {
	verdict := model.LayerVerdict{
		LayerName:        layer.Def.Name,
		Severity:         layer.Def.Severity,
		ObservationRef:   obs.Ref(),
		Passed:           true,
		PredicateResults: make([]model.PredicateResult, 0, len(layer.Predicates)),
	}

	for _, p := range layer.Predicates {
		res := evalGuarded(p, obs.Payload)
		verdict.PredicateResults = append(verdict.PredicateResults, res)
		if !res.Passed {
			verdict.Passed = false
			verdict.FailedPredicates = append(verdict.FailedPredicates, res.Name)
		}
	}

	return verdict
}

// evalGuarded converts a panicking predicate into a failed result.
func evalGuarded(p *registry.Predicate, payload model.Payload) (res model.PredicateResult) {
	defer func() {
		if r := recover(); r != nil {
			res = model.PredicateResult{
				Name:   p.Name(),
				Passed: false,
				Fault:  "predicate panicked during evaluation",
			}
		}
	}()
	return p.Eval(payload)
}
