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
	"context"
	"fmt"
	"sync/atomic"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"
)

// Resolver computes the closure report for a set of candidate packages.
// A Resolver holds no state between calls to Resolve; every run gets its own
// Cache.
type Resolver struct {
	index       Index
	parallelism int
}

type Option func(*Resolver)

// WithParallelism resolves up to n candidates concurrently. Values below 1
// mean sequential resolution.
func WithParallelism(n int) Option {
	return func(r *Resolver) {
		r.parallelism = n
	}
}

// New returns a Resolver that looks up providers in index.
func New(index Index, opts ...Option) *Resolver {
	r := &Resolver{
		index:       index,
		parallelism: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.parallelism < 1 {
		r.parallelism = 1
	}
	return r
}

// ComputeClosure resolves candidates sequentially against index.
func ComputeClosure(ctx context.Context, candidates []*Package, index Index) (*Report, error) {
	return New(index).Resolve(ctx, candidates)
}

// run is the state of a single Resolve call.
type run struct {
	index Index
	cache *Cache

	queries   atomic.Int64
	cacheHits atomic.Int64
	bypassed  atomic.Int64
}

// Resolve checks every requirement of every candidate and returns the packages
// that have at least one requirement no package in the index provides.
// Index errors abort the run.
func (r *Resolver) Resolve(ctx context.Context, candidates []*Package) (*Report, error) {
	ctx, span := otel.Tracer("repoclosure").Start(ctx, "closure.Resolve", trace.WithAttributes(
		attribute.Int("candidates", len(candidates)),
		attribute.Int("parallelism", r.parallelism),
	))
	defer span.End()

	log := clog.FromContext(ctx)

	st := &run{
		index: r.index,
		cache: newCache(),
	}
	results := make([]sets.Set[string], len(candidates))

	if r.parallelism == 1 {
		for i, pkg := range candidates {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			unresolved, err := st.resolvePackage(ctx, pkg)
			if err != nil {
				return nil, err
			}
			results[i] = unresolved
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.parallelism)
		for i, pkg := range candidates {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				unresolved, err := st.resolvePackage(gctx, pkg)
				if err != nil {
					return err
				}
				results[i] = unresolved
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	report := newReport(st.cache)
	for i, pkg := range candidates {
		if results[i].Len() == 0 {
			continue
		}
		log.Debugf("%s has %d unresolved requirements", pkg.ID, results[i].Len())
		report.add(pkg, results[i])
	}
	report.stats = Stats{
		Candidates: len(candidates),
		Queries:    int(st.queries.Load()),
		CacheHits:  int(st.cacheHits.Load()),
		Bypassed:   int(st.bypassed.Load()),
	}

	span.SetAttributes(
		attribute.Int("unresolved_packages", report.Len()),
		attribute.Int("index_queries", report.stats.Queries),
	)

	return report, nil
}

func (st *run) resolvePackage(ctx context.Context, pkg *Package) (sets.Set[string], error) {
	unresolvedReqs := sets.New[string]()

	for _, req := range pkg.Requires {
		known := st.cache.classify(req)
		if known == resolved {
			st.cacheHits.Add(1)
			continue
		}
		if known == unresolved {
			// Reported for every package that declares it.
			st.cacheHits.Add(1)
			unresolvedReqs.Insert(req)
		}

		if IsReserved(req) {
			// Never reported, even when already known unresolved.
			st.bypassed.Add(1)
			st.cache.markResolved(req)
			unresolvedReqs.Delete(req)
			continue
		}

		if known == unresolved {
			continue
		}

		st.queries.Add(1)
		providers, err := st.index.ProvidersOf(ctx, req)
		if err != nil {
			return nil, &LookupError{Package: pkg.ID, Requirement: req, Wrapped: err}
		}
		if len(providers) == 0 {
			unresolvedReqs.Insert(req)
			st.cache.markUnresolved(req)
		} else {
			st.cache.markResolved(req)
		}
	}

	return unresolvedReqs, nil
}

// LookupError is returned when the index fails to answer a provider lookup.
type LookupError struct {
	Package     ID
	Requirement string
	Wrapped     error
}

func (e *LookupError) Unwrap() error {
	return e.Wrapped
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("looking up providers of %q for %s: %s", e.Requirement, e.Package, e.Wrapped.Error())
}
