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

// Package repoindex answers provider queries over the latest version of every
// package in a set of APK repositories.
package repoindex

import (
	"context"
	"slices"

	"github.com/chainguard-dev/clog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/apimachinery/pkg/util/sets"

	"chainguard.dev/repoclosure/pkg/apk/apk"
	"chainguard.dev/repoclosure/pkg/closure"
)

// provider is a package able to satisfy a name, at the version it offers it.
// An empty version means the name is provided without a version.
type provider struct {
	pkg     *closure.Package
	version string
}

type nameArch struct {
	name string
	arch string
}

// Index is the latest-only view of a set of repositories.
type Index struct {
	latest  []*closure.Package
	sources map[closure.ID]*apk.RepositoryPackage
	nameMap map[string][]provider
	total   int
}

var _ closure.Index = (*Index)(nil)

// New builds the latest-only view of indexes. For every (name, arch) pair only
// the highest version is kept; on equal versions the package from the
// earlier index wins.
func New(ctx context.Context, indexes []apk.NamedIndex) *Index {
	_, span := otel.Tracer("repoclosure").Start(ctx, "repoindex.New")
	defer span.End()

	type selected struct {
		repo string
		pkg  *apk.RepositoryPackage
	}

	var (
		order  []nameArch
		chosen = map[nameArch]selected{}
		total  int
	)
	for _, index := range indexes {
		for _, pkg := range index.Packages() {
			total++
			key := nameArch{name: pkg.Name, arch: pkg.Arch}
			cur, ok := chosen[key]
			if !ok {
				order = append(order, key)
				chosen[key] = selected{repo: index.Name(), pkg: pkg}
				continue
			}
			if apk.CompareVersionStrings(pkg.Version, cur.pkg.Version) > 0 {
				chosen[key] = selected{repo: index.Name(), pkg: pkg}
			}
		}
	}

	idx := &Index{
		latest:  make([]*closure.Package, 0, len(order)),
		sources: make(map[closure.ID]*apk.RepositoryPackage, len(order)),
		nameMap: make(map[string][]provider, len(order)),
		total:   total,
	}
	for _, key := range order {
		sel := chosen[key]
		pkg := toClosurePackage(sel.repo, sel.pkg.Package)
		idx.latest = append(idx.latest, pkg)
		idx.sources[pkg.ID] = sel.pkg
	}
	slices.SortFunc(idx.latest, func(a, b *closure.Package) int {
		return a.ID.Compare(b.ID)
	})

	for _, pkg := range idx.latest {
		src := idx.sources[pkg.ID]
		idx.nameMap[pkg.Name] = append(idx.nameMap[pkg.Name], provider{pkg: pkg, version: src.Version})
		for _, provide := range src.Provides {
			c := apk.CachedParseConstraint(provide)
			if c.Name == pkg.Name {
				continue
			}
			idx.nameMap[c.Name] = append(idx.nameMap[c.Name], provider{pkg: pkg, version: c.Version})
		}
	}

	span.SetAttributes(
		attribute.Int("packages", total),
		attribute.Int("latest", len(idx.latest)),
	)
	clog.FromContext(ctx).Debugf("indexed %d packages from %d repositories, %d latest", total, len(indexes), len(idx.latest))

	return idx
}

func toClosurePackage(repo string, pkg *apk.Package) *closure.Package {
	version, release := apk.SplitRelease(pkg.Version)
	return &closure.Package{
		ID: closure.ID{
			Name:       pkg.Name,
			Version:    version,
			Release:    release,
			Arch:       pkg.Arch,
			Repository: repo,
		},
		Requires: pkg.Requirements(),
	}
}

// AvailableLatest returns the latest version of every package, sorted by ID.
func (idx *Index) AvailableLatest() []*closure.Package {
	return slices.Clone(idx.latest)
}

// Total is the number of packages read from all repositories, before the
// latest-only filter.
func (idx *Index) Total() int {
	return idx.total
}

// Source returns the repository package a closure package was built from.
func (idx *Index) Source(id closure.ID) (*apk.RepositoryPackage, bool) {
	pkg, ok := idx.sources[id]
	return pkg, ok
}

// ProvidersOf returns the latest packages that satisfy requirement, read as an
// apk dependency ("name", "name>=version", "so:libc.so.6", ...). A package
// satisfies a name it carries itself at its own version, or a name it lists in
// its provides at the version given there. Repository pins are ignored.
func (idx *Index) ProvidersOf(ctx context.Context, requirement string) ([]*closure.Package, error) {
	_, span := otel.Tracer("repoclosure").Start(ctx, "repoindex.ProvidersOf", trace.WithAttributes(
		attribute.String("requirement", requirement),
	))
	defer span.End()

	c := apk.CachedParseConstraint(requirement)

	var out []*closure.Package
	for _, p := range idx.nameMap[c.Name] {
		if !c.SatisfiedBy(p.version) {
			continue
		}
		if slices.Contains(out, p.pkg) {
			continue
		}
		out = append(out, p.pkg)
	}

	span.SetAttributes(attribute.Int("providers", len(out)))
	return out, nil
}

// FilterByName returns the packages called name.
func FilterByName(pkgs []*closure.Package, name string) []*closure.Package {
	var out []*closure.Package
	for _, pkg := range pkgs {
		if pkg.Name == name {
			out = append(out, pkg)
		}
	}
	return out
}

// FilterByNames returns the packages matching any of names, in their original
// order and without duplicates.
func FilterByNames(pkgs []*closure.Package, names ...string) []*closure.Package {
	want := sets.New(names...)
	var out []*closure.Package
	for _, pkg := range pkgs {
		if want.Has(pkg.Name) {
			out = append(out, pkg)
		}
	}
	return out
}
