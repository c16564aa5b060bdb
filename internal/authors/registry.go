// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package authors

import (
	"fmt"
	"slices"
	"strings"

	"github.com/pdiddy/proceedings-engine/internal/cache"
	"github.com/pdiddy/proceedings-engine/pkg/types"
)

// RegistryTable is the cache table name of the author registry.
const RegistryTable = "authors"

// RegistryEntry is one merged author across papers.
type RegistryEntry struct {
	First       string         `json:"first"`
	Last        string         `json:"last"`
	Affiliation string         `json:"affiliation,omitempty"`
	Location    types.Location `json:"location"`
	Papers      []string       `json:"papers"`
}

// Registry merges the same author across papers and holds one canonical
// location per merged author. Normalized-name merging over-merges
// namesakes; name-and-affiliation merging under-merges people who moved.
type Registry struct {
	strategy types.MergeStrategy
	table    *cache.JSONTable[RegistryEntry]
}

// OpenRegistry loads the registry persisted at path.
func OpenRegistry(path string, strategy types.MergeStrategy) (*Registry, error) {
	switch strategy {
	case "":
		strategy = types.MergeNormalizedName
	case types.MergeNormalizedName, types.MergeNameAndAffiliation, types.MergeNone:
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}
	t, err := cache.OpenTable[RegistryEntry](path)
	if err != nil {
		return nil, err
	}
	return &Registry{strategy: strategy, table: t}, nil
}

// MergeKey returns the identity of a under the registry's strategy, or ""
// when authors are never merged.
func (r *Registry) MergeKey(a types.Author) string {
	switch r.strategy {
	case types.MergeNone:
		return ""
	case types.MergeNameAndAffiliation:
		return a.Key + "|" + strings.ToLower(Fold(a.Affiliation))
	default:
		return a.Key
	}
}

// Canonical records that a wrote paperID and returns the canonical
// location for a. The first resolved location seen for a merged author
// wins; later resolved locations do not replace it.
func (r *Registry) Canonical(paperID string, a types.Author) types.Location {
	if r == nil || a.Key == "" {
		return a.Location
	}
	key := r.MergeKey(a)
	if key == "" {
		return a.Location
	}
	e := r.table.Update(key, func(e RegistryEntry, ok bool) RegistryEntry {
		if !ok {
			e = RegistryEntry{First: a.First, Last: a.Last, Affiliation: a.Affiliation}
		}
		if !e.Location.Resolved() && a.Location.Resolved() {
			e.Location = a.Location
		}
		if !slices.Contains(e.Papers, paperID) {
			e.Papers = append(e.Papers, paperID)
		}
		return e
	})
	if e.Location.Resolved() {
		return e.Location
	}
	return a.Location
}

// Lookup returns the merged entry for a key.
func (r *Registry) Lookup(key string) (RegistryEntry, bool) {
	return r.table.Get(key)
}

// Len returns the number of merged authors.
func (r *Registry) Len() int { return r.table.Len() }

// Flush persists the registry.
func (r *Registry) Flush() error { return r.table.Flush() }
