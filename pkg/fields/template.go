package fields

import (
	"fmt"
	"strings"
)

// FillTemplate substitutes {name} placeholders using the lookup function.
// {{ and }} are literal braces. Placeholders whose lookup misses are left
// intact.
func FillTemplate(tmpl string, lookup func(name string) (any, bool)) string {
	var b strings.Builder
	b.Grow(len(tmpl))
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				b.WriteString(tmpl[i:])
				return b.String()
			}
			name := tmpl[i+1 : i+end]
			if v, ok := lookup(name); ok {
				fmt.Fprintf(&b, "%v", v)
			} else {
				b.WriteString(tmpl[i : i+end+1])
			}
			i += end + 1
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// FillTemplateMap substitutes placeholders from a map.
func FillTemplateMap(tmpl string, values map[string]any) string {
	return FillTemplate(tmpl, func(name string) (any, bool) {
		v, ok := values[name]
		return v, ok
	})
}

// TemplateFieldNames returns the placeholder names in a template, in order
// of first appearance, excluding escaped braces.
func TemplateFieldNames(tmpl string) []string {
	var names []string
	seen := make(map[string]struct{})
	for i := 0; i < len(tmpl); {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			i += 2
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			i += 2
		case c == '{':
			end := strings.IndexByte(tmpl[i:], '}')
			if end < 0 {
				return names
			}
			name := tmpl[i+1 : i+end]
			if _, dup := seen[name]; !dup && name != "" {
				seen[name] = struct{}{}
				names = append(names, name)
			}
			i += end + 1
		default:
			i++
		}
	}
	return names
}
