package request

import (
	"slices"
	"strings"
)

// Parameter is one extra request value. Only entries with CacheKey set enter
// the request fingerprint.
type Parameter struct {
	Key      string
	Value    string
	CacheKey bool
}

// Parameters is an immutable set of extras. A nil *Parameters is empty.
type Parameters struct {
	entries []Parameter
}

// With returns a copy of p with key set.
func (p *Parameters) With(key, value string, cacheKey bool) *Parameters {
	out := &Parameters{}
	if p != nil {
		out.entries = make([]Parameter, 0, len(p.entries)+1)
		for _, e := range p.entries {
			if e.Key != key {
				out.entries = append(out.entries, e)
			}
		}
	}
	out.entries = append(out.entries, Parameter{Key: key, Value: value, CacheKey: cacheKey})
	return out
}

// Get returns the value for key.
func (p *Parameters) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	for _, e := range p.entries {
		if e.Key == key {
			return e.Value, true
		}
	}
	return "", false
}

// Len reports the number of entries.
func (p *Parameters) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Entries returns a copy of the entries in insertion order.
func (p *Parameters) Entries() []Parameter {
	if p == nil {
		return nil
	}
	return slices.Clone(p.entries)
}

// merge returns p with entries from defaults added where p has none.
func (p *Parameters) merge(defaults *Parameters) *Parameters {
	if defaults.Len() == 0 {
		return p
	}
	if p.Len() == 0 {
		return defaults
	}
	out := &Parameters{entries: slices.Clone(p.entries)}
	for _, e := range defaults.entries {
		if _, ok := p.Get(e.Key); !ok {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

// key renders entries sorted by key; onlyCache limits it to fingerprint
// entries. Empty when nothing qualifies.
func (p *Parameters) key(onlyCache bool) string {
	if p == nil {
		return ""
	}
	var sel []Parameter
	for _, e := range p.entries {
		if !onlyCache || e.CacheKey {
			sel = append(sel, e)
		}
	}
	if len(sel) == 0 {
		return ""
	}
	slices.SortFunc(sel, func(a, b Parameter) int { return strings.Compare(a.Key, b.Key) })
	var b strings.Builder
	b.WriteByte('{')
	for i, e := range sel {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(e.Key)
		b.WriteByte(':')
		b.WriteString(e.Value)
	}
	b.WriteByte('}')
	return b.String()
}
