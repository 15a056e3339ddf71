package policydiff

import (
	"fmt"
	"strings"
)

// Format renders a DiffResult as operator-readable text.
func Format(r *DiffResult) string {
	if !r.HasChanges {
		return "no changes\n"
	}

	var b strings.Builder
	for _, c := range r.Changes {
		switch c.Type {
		case "added":
			fmt.Fprintf(&b, "+ %s", c.Layer)
		case "removed":
			fmt.Fprintf(&b, "- %s", c.Layer)
		case "changed":
			fmt.Fprintf(&b, "~ %s", c.Layer)
		}
		b.WriteByte('\n')
		for _, d := range c.Detail {
			fmt.Fprintf(&b, "    %s\n", d)
		}
	}
	fmt.Fprintf(&b, "\nold policy hash: %s\nnew policy hash: %s\n", r.OldHash, r.NewHash)
	return b.String()
}
