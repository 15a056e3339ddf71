// Package policydiff compares two layer configuration files so an
// operator can see exactly what a reload or deployment will change
// before it lands.
package policydiff

import (
	"fmt"

	"github.com/driftgate/driftgate/internal/registry"
)

// LayerChange records one added, removed, or modified layer.
type LayerChange struct {
	Type   string   `json:"type"` // "added", "removed", "changed"
	Layer  string   `json:"layer"`
	Detail []string `json:"detail,omitempty"`
}

// DiffResult holds the comparison of two layer sets.
type DiffResult struct {
	OldHash    string        `json:"old_hash"`
	NewHash    string        `json:"new_hash"`
	Changes    []LayerChange `json:"changes"`
	HasChanges bool          `json:"has_changes"`
}

// Diff compares two layer definition sets by name.
func Diff(old, new []registry.LayerDef) *DiffResult {
	r := &DiffResult{}

	oldMap := make(map[string]registry.LayerDef, len(old))
	for _, l := range old {
		oldMap[l.Name] = l
	}
	newMap := make(map[string]registry.LayerDef, len(new))
	for _, l := range new {
		newMap[l.Name] = l
	}

	for _, l := range new {
		prev, exists := oldMap[l.Name]
		if !exists {
			r.Changes = append(r.Changes, LayerChange{
				Type:  "added",
				Layer: l.Name,
				Detail: []string{fmt.Sprintf("priority=%d severity=%s predicates=%d",
					l.Priority, l.Severity, len(l.Predicates))},
			})
			continue
		}
		if detail := diffLayer(prev, l); len(detail) > 0 {
			r.Changes = append(r.Changes, LayerChange{
				Type:   "changed",
				Layer:  l.Name,
				Detail: detail,
			})
		}
	}

	for _, l := range old {
		if _, exists := newMap[l.Name]; !exists {
			r.Changes = append(r.Changes, LayerChange{
				Type:  "removed",
				Layer: l.Name,
			})
		}
	}

	r.HasChanges = len(r.Changes) > 0
	return r
}

func diffLayer(old, new registry.LayerDef) []string {
	var detail []string

	if old.Priority != new.Priority {
		detail = append(detail, fmt.Sprintf("priority %d -> %d", old.Priority, new.Priority))
	}
	if old.Severity != new.Severity {
		comment := "looser"
		if new.Severity == "critical" {
			comment = "stricter"
		}
		detail = append(detail, fmt.Sprintf("severity %s -> %s (%s)", old.Severity, new.Severity, comment))
	}

	oldPreds := make(map[string]registry.PredicateDef, len(old.Predicates))
	for _, p := range old.Predicates {
		oldPreds[p.Name] = p
	}
	newPreds := make(map[string]registry.PredicateDef, len(new.Predicates))
	for _, p := range new.Predicates {
		newPreds[p.Name] = p
	}

	for _, p := range new.Predicates {
		prev, exists := oldPreds[p.Name]
		if !exists {
			detail = append(detail, fmt.Sprintf("predicate %s added (%s %s)", p.Name, p.Field, p.Op))
			continue
		}
		if prev.Field != p.Field || prev.Op != p.Op || fmt.Sprint(prev.Value) != fmt.Sprint(p.Value) {
			detail = append(detail, fmt.Sprintf("predicate %s changed: %s %s %v -> %s %s %v",
				p.Name, prev.Field, prev.Op, prev.Value, p.Field, p.Op, p.Value))
		}
	}
	for _, p := range old.Predicates {
		if _, exists := newPreds[p.Name]; !exists {
			detail = append(detail, fmt.Sprintf("predicate %s removed", p.Name))
		}
	}

	return detail
}
