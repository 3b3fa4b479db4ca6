// Package registry maps broker topic keys to bus group addresses.
package registry

import (
	"errors"
	"sort"
	"strings"

	"knx2mqtt/internal/knx"
)

var (
	// ErrInvalidEntry is returned for a configuration entry that cannot be used.
	ErrInvalidEntry = errors.New("registry: invalid entry")

	// ErrUnknownDevice is returned when a topic key has no entry.
	ErrUnknownDevice = errors.New("registry: unknown device")
)

// Entry is one logical device.
type Entry struct {
	Description string
	// Primary carries reads and values: the brightness byte of a dimmable
	// entry, the on/off bit otherwise.
	Primary knx.GroupAddress
	// Dimmable entries switch on/off through Secondary.
	Dimmable bool
	// Secondary is the on/off channel of a dimmable entry. Optional.
	Secondary *knx.GroupAddress
	// Percent entries take 0-100 instead of a raw 0-255 byte.
	Percent bool
}

// Match is the result of an address lookup.
type Match struct {
	Key          string
	Entry        Entry
	ViaSecondary bool
}

// Registry is immutable after New and safe for concurrent reads.
type Registry struct {
	entries map[string]Entry
	keys    []string
	byAddr  map[knx.GroupAddress]Match
}

// New builds a registry. Keys are normalised with NormalizeKey; of keys that
// normalise alike the lexically first one is kept. When two entries share an
// address, primary addresses win over secondary ones and otherwise the
// lexically first key wins.
func New(entries map[string]Entry) *Registry {
	r := &Registry{
		entries: make(map[string]Entry, len(entries)),
		byAddr:  make(map[knx.GroupAddress]Match, len(entries)),
	}
	raw := make([]string, 0, len(entries))
	for k := range entries {
		raw = append(raw, k)
	}
	sort.Strings(raw)
	for _, k := range raw {
		norm := NormalizeKey(k)
		if _, ok := r.entries[norm]; ok {
			continue
		}
		r.entries[norm] = entries[k]
		r.keys = append(r.keys, norm)
	}
	sort.Strings(r.keys)

	for _, k := range r.keys {
		e := r.entries[k]
		if _, ok := r.byAddr[e.Primary]; !ok {
			r.byAddr[e.Primary] = Match{Key: k, Entry: e}
		}
	}
	for _, k := range r.keys {
		e := r.entries[k]
		if e.Secondary == nil {
			continue
		}
		if _, ok := r.byAddr[*e.Secondary]; !ok {
			r.byAddr[*e.Secondary] = Match{Key: k, Entry: e, ViaSecondary: true}
		}
	}
	return r
}

// NormalizeKey returns key with exactly one leading slash and no trailing slash.
func NormalizeKey(key string) string {
	return "/" + strings.Trim(key, "/")
}

// Lookup returns the entry for a topic key.
func (r *Registry) Lookup(key string) (Entry, bool) {
	e, ok := r.entries[NormalizeKey(key)]
	return e, ok
}

// Match finds the entry that owns ga.
func (r *Registry) Match(ga knx.GroupAddress) (Match, bool) {
	m, ok := r.byAddr[ga]
	return m, ok
}

// Keys returns the topic keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of entries.
func (r *Registry) Len() int {
	return len(r.entries)
}
