package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/driftgate/driftgate/internal/model"
)

// LayersFile is the on-disk layer configuration.
type LayersFile struct {
	Layers []LayerDef `yaml:"layers"`
}

// DefaultLayers returns the built-in layer set used when no layer file
// exists. The six layers mirror the classic transcript-governance
// stack: structure, governance acknowledgement, internal consistency,
// professional register, constitutional safety, and entropy quality.
func DefaultLayers() []LayerDef {
	return []LayerDef{
		{
			Name:     "structural",
			Priority: 10,
			Severity: model.SeverityCritical,
			Predicates: []PredicateDef{
				{Name: "has_content", Field: "content", Op: OpExists},
				{Name: "known_format", Field: "format", Op: OpIn, Value: []any{"text", "json"}},
			},
		},
		{
			Name:     "governance",
			Priority: 20,
			Severity: model.SeverityNormal,
			Predicates: []PredicateDef{
				{Name: "policy_acknowledged", Field: "policy_ack", Op: OpEq, Value: true},
			},
		},
		{
			Name:     "consistency",
			Priority: 30,
			Severity: model.SeverityNormal,
			Predicates: []PredicateDef{
				{Name: "no_contradictions", Field: "contradictions", Op: OpLte, Value: 0},
			},
		},
		{
			Name:     "professional",
			Priority: 40,
			Severity: model.SeverityNormal,
			Predicates: []PredicateDef{
				{Name: "register_ok", Field: "tone", Op: OpIn, Value: []any{"formal", "neutral"}},
			},
		},
		{
			Name:     "constitutional",
			Priority: 50,
			Severity: model.SeverityCritical,
			Predicates: []PredicateDef{
				{Name: "no_harm_flag", Field: "harm_flag", Op: OpEq, Value: false},
			},
		},
		{
			Name:     "entropy",
			Priority: 60,
			Severity: model.SeverityNormal,
			Predicates: []PredicateDef{
				{Name: "quality_floor", Field: "quality_score", Op: OpGte, Value: 0.5},
			},
		},
	}
}

// LoadLayers loads layer definitions from a YAML file and returns them
// with the SHA-256 hash of the raw bytes. A missing file returns the
// built-in defaults; invalid YAML returns an error.
func LoadLayers(path string) ([]LayerDef, string, error) {
	if path == "" {
		return DefaultLayers(), hashBytes(nil), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLayers(), hashBytes(nil), nil
		}
		return nil, "", fmt.Errorf("failed to read layer config: %w", err)
	}

	var file LayersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, "", fmt.Errorf("failed to parse layer config: %w", err)
	}
	if len(file.Layers) == 0 {
		return nil, "", fmt.Errorf("layer config %q defines no layers", path)
	}

	return file.Layers, hashBytes(data), nil
}

// FromDefs builds a registry from layer definitions, registering them
// in file order so priority ties resolve to declaration order.
func FromDefs(defs []LayerDef) (*Registry, error) {
	r := New()
	for _, def := range defs {
		if err := r.Register(context.Background(), def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func hashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultLayersYAML returns a commented layer file scaffold for
// init-config.
func DefaultLayersYAML() string {
	return `# driftgate layer configuration
# Generated by: driftgate init-config
#
# Layers are evaluated in (priority ascending, then declaration order).
# Every layer is always evaluated, with no short-circuiting, so a
# report carries the complete compliance picture.
#
# Fields per layer:
#   name:     unique layer name
#   priority: evaluation order, ascending
#   severity: critical | normal (any critical failure forces BLOCK)
#   predicates: declarative checks over observation payload fields
#
# Predicate ops:
#   eq, ne            equality (numeric values compare loosely)
#   lt, lte, gt, gte  numeric comparison
#   contains          substring match on string fields
#   matches           RE2 regular expression on string fields
#   exists, absent    field presence
#   in                membership in a value list
#
# A predicate whose field is missing FAILS; it never errors.

layers:
  - name: structural
    priority: 10
    severity: critical
    predicates:
      - name: has_content
        field: content
        op: exists
      - name: known_format
        field: format
        op: in
        value: [text, json]

  - name: governance
    priority: 20
    severity: normal
    predicates:
      - name: policy_acknowledged
        field: policy_ack
        op: eq
        value: true

  - name: consistency
    priority: 30
    severity: normal
    predicates:
      - name: no_contradictions
        field: contradictions
        op: lte
        value: 0

  - name: professional
    priority: 40
    severity: normal
    predicates:
      - name: register_ok
        field: tone
        op: in
        value: [formal, neutral]

  - name: constitutional
    priority: 50
    severity: critical
    predicates:
      - name: no_harm_flag
        field: harm_flag
        op: eq
        value: false

  - name: entropy
    priority: 60
    severity: normal
    predicates:
      - name: quality_floor
        field: quality_score
        op: gte
        value: 0.5
`
}
