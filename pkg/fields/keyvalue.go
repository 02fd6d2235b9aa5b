package fields

import (
	"fmt"
	"sort"
	"strings"
)

// KeyValueOpts controls bare-key expansion and strictness.
type KeyValueOpts struct {
	// BareValue is substituted for entries without a colon. Empty means the
	// key maps to itself.
	BareValue string
	// Strict rejects empty entries and empty keys instead of skipping them.
	Strict bool
}

// ParseKeyValue parses "k1:v1,k2,k3:v3" into a map. A bare "k" becomes
// "k":"k" (or "k":BareValue when set). Values may contain colons; only the
// first colon splits.
func ParseKeyValue(s string, opts KeyValueOpts) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			if opts.Strict {
				return nil, fmt.Errorf("empty entry in %q", s)
			}
			continue
		}
		key, val, found := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		if key == "" {
			if opts.Strict {
				return nil, fmt.Errorf("empty key in entry %q", entry)
			}
			continue
		}
		if !found {
			val = key
			if opts.BareValue != "" {
				val = opts.BareValue
			}
		} else {
			val = strings.TrimSpace(val)
			if val == "" && opts.Strict {
				return nil, fmt.Errorf("empty value in entry %q", entry)
			}
		}
		out[key] = val
	}
	return out, nil
}

// FormatKeyValue renders a map back into the "k:v,..." form with sorted
// keys. Entries whose value equals the key collapse to the bare form, so
// Parse(Format(Parse(s))) == Parse(s).
func FormatKeyValue(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		if m[k] == k {
			b.WriteString(k)
		} else {
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(m[k])
		}
	}
	return b.String()
}
