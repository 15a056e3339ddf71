package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/driftgate/driftgate/internal/model"
)

// LayerDef is the declarative definition of one rule layer as it
// appears in configuration and on the admin interface.
type LayerDef struct {
	Name       string         `yaml:"name"       json:"name"`
	Priority   int            `yaml:"priority"   json:"priority"`
	Severity   model.Severity `yaml:"severity"   json:"severity"`
	Predicates []PredicateDef `yaml:"predicates" json:"predicates"`
}

// Layer is a compiled, registered rule layer. Layers are immutable
// after registration; changing one means deregistering and
// re-registering, which is a controlled administrative operation.
type Layer struct {
	Def        LayerDef
	Predicates []*Predicate
	regIndex   int // registration order, breaks priority ties
}

// Registry holds the named, ordered policy layers. It never evaluates
// data; its only job is deterministic layer bookkeeping.
type Registry struct {
	mu      sync.RWMutex
	layers  map[string]*Layer
	nextIdx int
	hash    string
}

// New creates an empty registry.
func New() *Registry {
	r := &Registry{layers: make(map[string]*Layer)}
	r.hash = r.computeHashLocked()
	return r
}

// compileLayer validates and compiles a layer definition.
func compileLayer(def LayerDef) (*Layer, error) {
	if def.Name == "" {
		return nil, &model.ConfigurationError{Err: fmt.Errorf("layer name is required")}
	}
	switch def.Severity {
	case model.SeverityNormal, model.SeverityCritical:
	case "":
		def.Severity = model.SeverityNormal
	default:
		return nil, &model.ConfigurationError{Layer: def.Name, Err: fmt.Errorf("unknown severity %q", def.Severity)}
	}
	if len(def.Predicates) == 0 {
		return nil, &model.ConfigurationError{Layer: def.Name, Err: fmt.Errorf("at least one predicate is required")}
	}

	layer := &Layer{Def: def, Predicates: make([]*Predicate, 0, len(def.Predicates))}
	seen := make(map[string]bool, len(def.Predicates))
	for _, pd := range def.Predicates {
		if seen[pd.Name] {
			return nil, &model.ConfigurationError{Layer: def.Name, Err: fmt.Errorf("duplicate predicate %q", pd.Name)}
		}
		seen[pd.Name] = true
		p, err := Compile(pd)
		if err != nil {
			return nil, &model.ConfigurationError{Layer: def.Name, Err: err}
		}
		layer.Predicates = append(layer.Predicates, p)
	}
	return layer, nil
}

// Register compiles and adds a layer. The registry is untouched when
// validation fails or ctx is cancelled before the commit point.
func (r *Registry) Register(ctx context.Context, def LayerDef) error {
	layer, err := compileLayer(def)
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[layer.Def.Name]; exists {
		return &model.ConfigurationError{Layer: layer.Def.Name, Err: model.ErrDuplicateLayer}
	}

	layer.regIndex = r.nextIdx
	r.nextIdx++
	r.layers[layer.Def.Name] = layer
	r.hash = r.computeHashLocked()
	return nil
}

// Replace swaps the entire layer set in one step. All definitions are
// compiled before anything changes; a compile failure leaves the
// current set untouched. Used by configuration hot reload.
func (r *Registry) Replace(ctx context.Context, defs []LayerDef) error {
	compiled := make([]*Layer, 0, len(defs))
	seen := make(map[string]bool, len(defs))
	for _, def := range defs {
		if seen[def.Name] {
			return &model.ConfigurationError{Layer: def.Name, Err: model.ErrDuplicateLayer}
		}
		seen[def.Name] = true
		layer, err := compileLayer(def)
		if err != nil {
			return err
		}
		compiled = append(compiled, layer)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.layers = make(map[string]*Layer, len(compiled))
	r.nextIdx = 0
	for _, layer := range compiled {
		layer.regIndex = r.nextIdx
		r.nextIdx++
		r.layers[layer.Def.Name] = layer
	}
	r.hash = r.computeHashLocked()
	return nil
}

// Deregister removes a layer by name.
func (r *Registry) Deregister(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.layers[name]; !exists {
		return &model.ConfigurationError{Layer: name, Err: model.ErrUnknownLayer}
	}
	delete(r.layers, name)
	r.hash = r.computeHashLocked()
	return nil
}

// OrderedLayers returns the registered layers sorted by priority
// ascending, ties broken by registration order. The order is
// deterministic: identical registrations always evaluate identically.
func (r *Registry) OrderedLayers() []*Layer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Layer, 0, len(r.layers))
	for _, l := range r.layers {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Def.Priority != out[j].Def.Priority {
			return out[i].Def.Priority < out[j].Def.Priority
		}
		return out[i].regIndex < out[j].regIndex
	})
	return out
}

// Definitions returns the ordered layer definitions, for listing over
// the admin interface.
func (r *Registry) Definitions() []LayerDef {
	layers := r.OrderedLayers()
	defs := make([]LayerDef, len(layers))
	for i, l := range layers {
		defs[i] = l.Def
	}
	return defs
}

// Len returns the number of registered layers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.layers)
}

// Hash returns the policy hash of the current layer set. Reports carry
// this so a verdict can always be traced to the exact rule set that
// produced it.
func (r *Registry) Hash() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hash
}

func (r *Registry) computeHashLocked() string {
	type entry struct {
		Def      LayerDef `json:"def"`
		RegIndex int      `json:"reg_index"`
	}
	entries := make([]entry, 0, len(r.layers))
	for _, l := range r.layers {
		entries = append(entries, entry{Def: l.Def, RegIndex: l.regIndex})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].RegIndex < entries[j].RegIndex })

	data, err := json.Marshal(entries)
	if err != nil {
		data = nil
	}
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}
