package registry

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/driftgate/driftgate/internal/model"
)

// Op is a declarative comparison operator. Predicates are data, not
// code: every operator is enumerable and deterministic.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpContains Op = "contains"
	OpMatches  Op = "matches"
	OpExists   Op = "exists"
	OpAbsent   Op = "absent"
	OpIn       Op = "in"
)

// PredicateDef is one declarative boolean check over an observation
// payload field.
type PredicateDef struct {
	Name  string `yaml:"name"  json:"name"`
	Field string `yaml:"field" json:"field"`
	Op    Op     `yaml:"op"    json:"op"`
	Value any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// Predicate is a compiled PredicateDef. Compilation validates the
// operator, pre-compiles regexes, and pins the expected value shape so
// evaluation never needs to re-parse anything.
type Predicate struct {
	def PredicateDef
	re  *regexp.Regexp // non-nil only for OpMatches
}

// Name returns the predicate's declared name.
func (p *Predicate) Name() string { return p.def.Name }

// Compile validates a predicate definition and prepares it for
// evaluation. Malformed definitions are configuration errors.
func Compile(def PredicateDef) (*Predicate, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("predicate name is required")
	}
	if def.Field == "" {
		return nil, fmt.Errorf("predicate %q: field is required", def.Name)
	}

	p := &Predicate{def: def}

	switch def.Op {
	case OpExists, OpAbsent:
		if def.Value != nil {
			return nil, fmt.Errorf("predicate %q: %s takes no value", def.Name, def.Op)
		}
	case OpEq, OpNe:
		if def.Value == nil {
			return nil, fmt.Errorf("predicate %q: %s requires a value", def.Name, def.Op)
		}
	case OpLt, OpLte, OpGt, OpGte:
		if _, ok := toFloat(def.Value); !ok {
			return nil, fmt.Errorf("predicate %q: %s requires a numeric value", def.Name, def.Op)
		}
	case OpContains:
		if _, ok := def.Value.(string); !ok {
			return nil, fmt.Errorf("predicate %q: contains requires a string value", def.Name)
		}
	case OpMatches:
		pattern, ok := def.Value.(string)
		if !ok {
			return nil, fmt.Errorf("predicate %q: matches requires a pattern string", def.Name)
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("predicate %q: bad pattern: %w", def.Name, err)
		}
		p.re = re
	case OpIn:
		if _, ok := asList(def.Value); !ok {
			return nil, fmt.Errorf("predicate %q: in requires a list value", def.Name)
		}
	default:
		return nil, fmt.Errorf("predicate %q: unknown op %q", def.Name, def.Op)
	}

	return p, nil
}

// Eval applies the predicate to a payload. A missing field is a plain
// FAIL: absent data is evidence of non-compliance, not a system error.
// A type mismatch the operator cannot coerce is a FAIL with the fault
// string set, so the caller can log it without crashing evaluation.
func (p *Predicate) Eval(payload model.Payload) model.PredicateResult {
	res := model.PredicateResult{Name: p.def.Name}

	got, present := payload.Get(p.def.Field)

	switch p.def.Op {
	case OpExists:
		res.Passed = present
		return res
	case OpAbsent:
		res.Passed = !present
		return res
	}

	if !present {
		return res // missing field: non-fatal FAIL
	}

	switch p.def.Op {
	case OpEq:
		res.Passed = looseEqual(got, p.def.Value)
	case OpNe:
		res.Passed = !looseEqual(got, p.def.Value)
	case OpLt, OpLte, OpGt, OpGte:
		lhs, ok := toFloat(got)
		if !ok {
			res.Fault = fmt.Sprintf("field %q is not numeric", p.def.Field)
			return res
		}
		rhs, _ := toFloat(p.def.Value) // validated at compile time
		switch p.def.Op {
		case OpLt:
			res.Passed = lhs < rhs
		case OpLte:
			res.Passed = lhs <= rhs
		case OpGt:
			res.Passed = lhs > rhs
		case OpGte:
			res.Passed = lhs >= rhs
		}
	case OpContains:
		s, ok := got.(string)
		if !ok {
			res.Fault = fmt.Sprintf("field %q is not a string", p.def.Field)
			return res
		}
		res.Passed = strings.Contains(s, p.def.Value.(string))
	case OpMatches:
		s, ok := got.(string)
		if !ok {
			res.Fault = fmt.Sprintf("field %q is not a string", p.def.Field)
			return res
		}
		res.Passed = p.re.MatchString(s)
	case OpIn:
		list, _ := asList(p.def.Value)
		for _, candidate := range list {
			if looseEqual(got, candidate) {
				res.Passed = true
				break
			}
		}
	}

	return res
}

// looseEqual compares payload values to expected values with numeric
// coercion: YAML decodes 3 as int while JSON decodes it as float64.
func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asList accepts both YAML ([]any) and JSON list decodings.
func asList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}
