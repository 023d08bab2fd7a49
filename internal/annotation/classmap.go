package annotation

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownClass reports a token that the ClassMap cannot resolve.
var ErrUnknownClass = errors.New("unknown class")

// ClassEntry is one row of a class table. Name, SourceID or both identify the source
// label; ID is the target class id.
type ClassEntry struct {
	Name     string `mapstructure:"name" json:"name,omitempty"`
	SourceID *int   `mapstructure:"source_id" json:"source_id,omitempty"`
	ID       int    `mapstructure:"id" json:"id"`
}

// ClassMapOptions holds the named fallback rules applied to unmatched source ids.
type ClassMapOptions struct {
	// FallbackIDOffset, when non-zero, retries an unmatched source id as id-offset.
	// HRSC style tables list ship ids without the +14 shift applied in some exports.
	FallbackIDOffset int

	// PassthroughIDs maps any non-negative source id without a table entry to itself.
	PassthroughIDs bool
}

// ClassMap resolves class tokens to target ids. It is read-only after construction
// and safe for concurrent use.
type ClassMap struct {
	names   map[string]int
	ids     map[int]int
	targets map[int]string
	opts    ClassMapOptions
}

// NewClassMap builds a ClassMap from entries. Several source labels may map to the same
// target id; a source label listed twice with different targets is an error.
func NewClassMap(entries []ClassEntry, opts ClassMapOptions) (*ClassMap, error) {
	m := &ClassMap{
		names:   make(map[string]int),
		ids:     make(map[int]int),
		targets: make(map[int]string),
		opts:    opts,
	}

	for i, e := range entries {
		if e.ID < 0 {
			return nil, fmt.Errorf("class entry %d: negative target id %d", i, e.ID)
		}
		if e.Name == "" && e.SourceID == nil {
			return nil, fmt.Errorf("class entry %d: name or source_id is required", i)
		}
		if e.Name != "" {
			if prev, ok := m.names[e.Name]; ok && prev != e.ID {
				return nil, fmt.Errorf("class %q mapped to both %d and %d", e.Name, prev, e.ID)
			}
			m.names[e.Name] = e.ID
			if _, ok := m.targets[e.ID]; !ok {
				m.targets[e.ID] = e.Name
			}
		}
		if e.SourceID != nil {
			if prev, ok := m.ids[*e.SourceID]; ok && prev != e.ID {
				return nil, fmt.Errorf("source id %d mapped to both %d and %d", *e.SourceID, prev, e.ID)
			}
			m.ids[*e.SourceID] = e.ID
		}
	}
	return m, nil
}

// Map returns the target id for tok.
//
// Names are looked up exactly. Source ids are looked up in the id table, then retried
// with FallbackIDOffset, then passed through when PassthroughIDs is set.
func (m *ClassMap) Map(tok Token) (int, error) {
	if !tok.IsID {
		if id, ok := m.names[tok.Name]; ok {
			return id, nil
		}
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, tok.Name)
	}

	if id, ok := m.ids[tok.ID]; ok {
		return id, nil
	}
	candidate := tok.ID
	if m.opts.FallbackIDOffset != 0 {
		candidate = tok.ID - m.opts.FallbackIDOffset
		if id, ok := m.ids[candidate]; ok {
			return id, nil
		}
	}
	if m.opts.PassthroughIDs && candidate >= 0 {
		return candidate, nil
	}
	return 0, fmt.Errorf("%w: id %d", ErrUnknownClass, tok.ID)
}

// Names returns the display name of every target id that has one. Target ids known
// only through source ids are absent.
func (m *ClassMap) Names() map[int]string {
	out := make(map[int]string, len(m.targets))
	for id, name := range m.targets {
		out[id] = name
	}
	return out
}

// TargetIDs returns every target id reachable through the tables, sorted.
func (m *ClassMap) TargetIDs() []int {
	seen := make(map[int]bool)
	for _, id := range m.names {
		seen[id] = true
	}
	for _, id := range m.ids {
		seen[id] = true
	}
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
