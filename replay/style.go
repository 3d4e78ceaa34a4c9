package replay

import (
	"sort"
	"strings"

	"github.com/aymerick/douceur/css"
	"github.com/aymerick/douceur/parser"
)

// parseStyle splits an inline style into declarations, keeping order. A
// malformed style keeps the declarations before the first error.
func parseStyle(style string) []*css.Declaration {
	style = strings.TrimSpace(style)
	if style == "" {
		return nil
	}
	// The parser only closes a declaration on ';' or '}'.
	if !strings.HasSuffix(style, ";") {
		style += ";"
	}
	decls, _ := parser.ParseDeclarations(style)
	out := decls[:0]
	for _, d := range decls {
		if d != nil && d.Property != "" {
			out = append(out, d)
		}
	}
	return out
}

func formatStyle(decls []*css.Declaration) string {
	parts := make([]string, len(decls))
	for i, d := range decls {
		parts[i] = d.String()
	}
	return strings.Join(parts, " ")
}

// applyStyleDiff applies a per-property style diff: a string sets the
// property, a [value, priority] pair sets it with a priority, false
// removes it.
func applyStyleDiff(style string, diff map[string]any) string {
	decls := parseStyle(style)

	props := make([]string, 0, len(diff))
	for p := range diff {
		props = append(props, p)
	}
	sort.Strings(props)

	for _, prop := range props {
		idx := -1
		for i, d := range decls {
			if d.Property == prop {
				idx = i
				break
			}
		}

		set := &css.Declaration{Property: prop}
		switch v := diff[prop].(type) {
		case string:
			set.Value = v
		case []any:
			if len(v) == 0 {
				continue
			}
			set.Value, _ = v[0].(string)
			if len(v) > 1 {
				prio, _ := v[1].(string)
				set.Important = strings.EqualFold(prio, "important")
			}
		case bool:
			if !v && idx >= 0 {
				decls = append(decls[:idx], decls[idx+1:]...)
			}
			continue
		default:
			continue
		}

		if idx >= 0 {
			decls[idx] = set
		} else {
			decls = append(decls, set)
		}
	}
	return formatStyle(decls)
}
