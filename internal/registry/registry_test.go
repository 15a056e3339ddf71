package registry

import (
	"context"
	"testing"

	"github.com/driftgate/driftgate/internal/model"
)

func simpleLayer(name string, priority int) LayerDef {
	return LayerDef{
		Name:     name,
		Priority: priority,
		Severity: model.SeverityNormal,
		Predicates: []PredicateDef{
			{Name: "present", Field: "content", Op: OpExists},
		},
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, simpleLayer("alpha", 10)); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(ctx, simpleLayer("alpha", 20))
	if err == nil {
		t.Fatal("expected duplicate layer error")
	}
	if !model.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestDeregisterUnknown(t *testing.T) {
	r := New()
	err := r.Deregister(context.Background(), "ghost")
	if err == nil {
		t.Fatal("expected unknown layer error")
	}
	if !model.IsConfiguration(err) {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

func TestOrderedLayersDeterministic(t *testing.T) {
	// Same layers, different registration orders. Priority decides;
	// ties fall back to registration order.
	defs := []LayerDef{
		simpleLayer("low", 10),
		simpleLayer("mid-a", 20),
		simpleLayer("mid-b", 20),
		simpleLayer("high", 30),
	}

	r := New()
	ctx := context.Background()
	for _, d := range defs {
		if err := r.Register(ctx, d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}

	want := []string{"low", "mid-a", "mid-b", "high"}
	got := r.OrderedLayers()
	if len(got) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(got))
	}
	for i, name := range want {
		if got[i].Def.Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, got[i].Def.Name)
		}
	}

	// Permuted registration: priority order still wins, and the
	// mid-tier tie now resolves to the new registration order.
	r2 := New()
	for _, d := range []LayerDef{defs[3], defs[2], defs[1], defs[0]} {
		if err := r2.Register(ctx, d); err != nil {
			t.Fatalf("register %s: %v", d.Name, err)
		}
	}
	want2 := []string{"low", "mid-b", "mid-a", "high"}
	got2 := r2.OrderedLayers()
	for i, name := range want2 {
		if got2[i].Def.Name != name {
			t.Errorf("permuted position %d: expected %s, got %s", i, name, got2[i].Def.Name)
		}
	}
}

func TestRegisterCancelledContext(t *testing.T) {
	r := New()
	if err := r.Register(context.Background(), simpleLayer("keep", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Hash()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.Register(ctx, simpleLayer("never", 20)); err == nil {
		t.Fatal("expected cancellation error")
	}
	if r.Len() != 1 {
		t.Errorf("cancelled register mutated registry: %d layers", r.Len())
	}
	if r.Hash() != before {
		t.Error("cancelled register changed policy hash")
	}

	if err := r.Deregister(ctx, "keep"); err == nil {
		t.Fatal("expected cancellation error")
	}
	if r.Len() != 1 {
		t.Error("cancelled deregister mutated registry")
	}
}

func TestRegisterRejectsMalformed(t *testing.T) {
	r := New()
	ctx := context.Background()

	tests := []struct {
		name string
		def  LayerDef
	}{
		{"no name", LayerDef{Predicates: []PredicateDef{{Name: "p", Field: "f", Op: OpExists}}}},
		{"no predicates", LayerDef{Name: "empty"}},
		{"bad severity", LayerDef{Name: "sev", Severity: "fatal", Predicates: []PredicateDef{{Name: "p", Field: "f", Op: OpExists}}}},
		{"bad op", LayerDef{Name: "op", Predicates: []PredicateDef{{Name: "p", Field: "f", Op: "fuzzy"}}}},
		{"bad regex", LayerDef{Name: "re", Predicates: []PredicateDef{{Name: "p", Field: "f", Op: OpMatches, Value: "("}}}},
		{"dup predicate", LayerDef{Name: "dup", Predicates: []PredicateDef{
			{Name: "p", Field: "f", Op: OpExists},
			{Name: "p", Field: "g", Op: OpExists},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Register(ctx, tt.def)
			if err == nil {
				t.Fatal("expected configuration error")
			}
			if !model.IsConfiguration(err) {
				t.Errorf("expected ConfigurationError, got %T", err)
			}
		})
	}

	if r.Len() != 0 {
		t.Errorf("rejected layers leaked into registry: %d", r.Len())
	}
}

func TestHashChangesWithLayerSet(t *testing.T) {
	r := New()
	ctx := context.Background()
	empty := r.Hash()

	if err := r.Register(ctx, simpleLayer("alpha", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	one := r.Hash()
	if one == empty {
		t.Error("hash unchanged after register")
	}

	if err := r.Deregister(ctx, "alpha"); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if r.Hash() != empty {
		t.Error("hash did not return to empty-set value after deregister")
	}
}

func TestReplaceSwapsLayerSetAtomically(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, simpleLayer("alpha", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ctx, simpleLayer("beta", 20)); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Hash()

	if err := r.Replace(ctx, []LayerDef{
		simpleLayer("gamma", 5),
		simpleLayer("delta", 15),
	}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	defs := r.Definitions()
	if len(defs) != 2 || defs[0].Name != "gamma" || defs[1].Name != "delta" {
		t.Errorf("unexpected layer set after replace: %+v", defs)
	}
	if r.Hash() == before {
		t.Error("hash unchanged after replace")
	}
}

func TestReplaceFailureLeavesSetIntact(t *testing.T) {
	r := New()
	ctx := context.Background()

	if err := r.Register(ctx, simpleLayer("alpha", 10)); err != nil {
		t.Fatalf("register: %v", err)
	}
	before := r.Hash()

	bad := []LayerDef{
		simpleLayer("gamma", 5),
		{Name: "broken", Priority: 10}, // no predicates
	}
	if err := r.Replace(ctx, bad); err == nil {
		t.Fatal("expected compile error")
	}
	dup := []LayerDef{simpleLayer("gamma", 5), simpleLayer("gamma", 6)}
	if err := r.Replace(ctx, dup); err == nil {
		t.Fatal("expected duplicate error")
	}

	if r.Len() != 1 || r.Hash() != before {
		t.Error("failed replace must leave the current set untouched")
	}
}
