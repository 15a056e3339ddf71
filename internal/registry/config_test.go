package registry

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLayersMissingFileUsesDefaults(t *testing.T) {
	defs, hash, err := LoadLayers(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != len(DefaultLayers()) {
		t.Errorf("expected %d default layers, got %d", len(DefaultLayers()), len(defs))
	}
	if hash == "" {
		t.Error("expected a hash even for defaults")
	}
}

func TestLoadLayersFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "layers.yaml")
	content := `layers:
  - name: only
    priority: 5
    severity: critical
    predicates:
      - name: has_content
        field: content
        op: exists
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, hash, err := LoadLayers(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 || defs[0].Name != "only" {
		t.Fatalf("unexpected defs: %+v", defs)
	}
	if hash == hashBytes(nil) {
		t.Error("file-backed config should not hash as empty")
	}

	if _, err := FromDefs(defs); err != nil {
		t.Fatalf("FromDefs: %v", err)
	}
}

func TestLoadLayersRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("layers: [not a layer"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := LoadLayers(bad); err == nil {
		t.Error("expected parse error")
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("layers: []\n"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := LoadLayers(empty); err == nil {
		t.Error("expected error for config with no layers")
	}
}

func TestDefaultLayersCompile(t *testing.T) {
	r, err := FromDefs(DefaultLayers())
	if err != nil {
		t.Fatalf("default layers must compile: %v", err)
	}

	ordered := r.OrderedLayers()
	want := []string{"structural", "governance", "consistency", "professional", "constitutional", "entropy"}
	if len(ordered) != len(want) {
		t.Fatalf("expected %d layers, got %d", len(want), len(ordered))
	}
	for i, name := range want {
		if ordered[i].Def.Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, ordered[i].Def.Name)
		}
	}
}
