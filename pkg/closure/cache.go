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
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"
)

type classification int

const (
	unknown classification = iota
	resolved
	unresolved
)

// Cache memoizes requirement classifications for a single resolution run.
//
// The resolved and unresolved sets are disjoint and append-only: once a
// requirement is classified, later attempts to classify it are ignored.
type Cache struct {
	mu         sync.RWMutex
	resolved   sets.Set[string]
	unresolved sets.Set[string]
}

func newCache() *Cache {
	return &Cache{
		resolved:   sets.New[string](),
		unresolved: sets.New[string](),
	}
}

func (c *Cache) classify(requirement string) classification {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch {
	case c.resolved.Has(requirement):
		return resolved
	case c.unresolved.Has(requirement):
		return unresolved
	default:
		return unknown
	}
}

// markResolved records the requirement as satisfiable. It returns false if the
// requirement was already classified.
func (c *Cache) markResolved(requirement string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved.Has(requirement) || c.unresolved.Has(requirement) {
		return false
	}
	c.resolved.Insert(requirement)
	return true
}

// markUnresolved records the requirement as having no provider. It returns
// false if the requirement was already classified.
func (c *Cache) markUnresolved(requirement string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved.Has(requirement) || c.unresolved.Has(requirement) {
		return false
	}
	c.unresolved.Insert(requirement)
	return true
}

// Resolved returns the sorted requirements known to be satisfiable.
func (c *Cache) Resolved() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sets.List(c.resolved)
}

// Unresolved returns the sorted requirements known to have no provider.
func (c *Cache) Unresolved() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sets.List(c.unresolved)
}
