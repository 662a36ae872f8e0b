// Package state defines the shared state flowing between graph nodes.
//
// A State maps channel names to channel values. Nodes receive a State and return a
// partial State holding only the channels they want to update; the graph merges the
// partial update through each channel's merge policy.
package state

import (
	"maps"
	"slices"
)

// State maps channel names to values.
type State map[string]any

// Clone returns a shallow copy of s. Channel values are treated as immutable, so a
// shallow copy is enough to keep the original untouched by map writes.
func (s State) Clone() State {
	if s == nil {
		return State{}
	}
	return maps.Clone(s)
}

// Keys returns the channel names present in s, sorted.
func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Has reports whether the channel is present.
func (s State) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Lookup returns the value stored under key when it exists and has type V.
func Lookup[V any](s State, key string) (V, bool) {
	var zero V
	raw, ok := s[key]
	if !ok {
		return zero, false
	}
	v, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return v, true
}

// Get returns the value stored under key, or the zero value of V.
func Get[V any](s State, key string) V {
	v, _ := Lookup[V](s, key)
	return v
}
