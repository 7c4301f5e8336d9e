// Copyright 2026 Chainguard, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package closure

import (
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Entry is a package with at least one unresolved requirement.
type Entry struct {
	Package    *Package
	Unresolved sets.Set[string]
}

// Requirements returns the unresolved requirements in sorted order.
func (e Entry) Requirements() []string {
	return sets.List(e.Unresolved)
}

// Stats summarizes the work done by a resolution run.
type Stats struct {
	// Candidates is the number of packages checked.
	Candidates int
	// Queries is the number of index lookups performed.
	Queries int
	// CacheHits counts requirements answered from the cache.
	CacheHits int
	// Bypassed counts requirements skipped because of a reserved prefix.
	Bypassed int
}

// Report maps packages to their unresolved requirements. Packages whose
// requirements are all satisfied are never present.
type Report struct {
	entries map[ID]*Entry
	cache   *Cache
	stats   Stats
}

func newReport(cache *Cache) *Report {
	return &Report{
		entries: map[ID]*Entry{},
		cache:   cache,
	}
}

func (r *Report) add(pkg *Package, unresolved sets.Set[string]) {
	if unresolved.Len() == 0 {
		return
	}
	if e, ok := r.entries[pkg.ID]; ok {
		e.Unresolved = e.Unresolved.Union(unresolved)
		return
	}
	r.entries[pkg.ID] = &Entry{Package: pkg, Unresolved: unresolved}
}

// Len returns the number of packages with unresolved requirements.
func (r *Report) Len() int {
	return len(r.entries)
}

// Get returns the unresolved requirements recorded for id.
func (r *Report) Get(id ID) (sets.Set[string], bool) {
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.Unresolved, true
}

// Entries returns the report sorted by package identity.
func (r *Report) Entries() []Entry {
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		return a.Package.ID.Compare(b.Package.ID)
	})
	return out
}

// Cache returns the final state of the run's resolution cache.
func (r *Report) Cache() *Cache {
	return r.cache
}

// Stats returns counters collected during the run.
func (r *Report) Stats() Stats {
	return r.stats
}
