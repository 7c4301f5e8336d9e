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
	"cmp"
	"context"
	"strings"
)

// Reserved requirement prefixes. Requirements starting with these are solver
// bookkeeping tokens (libsolv "solvable:" markers and rpm's internal
// "rpmlib(...)" features), not capabilities a package in a repository can
// provide, so they are always treated as satisfied.
// See https://bugzilla.redhat.com/show_bug.cgi?id=1186721.
const (
	SolvablePrefix = "solvable:"
	RPMLibPrefix   = "rpmlib("
)

var reservedPrefixes = []string{
	SolvablePrefix,
	RPMLibPrefix,
}

// IsReserved reports whether the requirement is a reserved bookkeeping token.
func IsReserved(requirement string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(requirement, prefix) {
			return true
		}
	}
	return false
}

// ID identifies a package within a repository set.
type ID struct {
	Name       string
	Version    string
	Release    string
	Arch       string
	Repository string
}

// String returns the name-version-release.arch form of the ID.
func (id ID) String() string {
	var sb strings.Builder
	sb.WriteString(id.Name)
	sb.WriteByte('-')
	sb.WriteString(id.Version)
	if id.Release != "" {
		sb.WriteByte('-')
		sb.WriteString(id.Release)
	}
	if id.Arch != "" {
		sb.WriteByte('.')
		sb.WriteString(id.Arch)
	}
	return sb.String()
}

// Compare orders IDs by name, version, release, arch and repository.
func (id ID) Compare(other ID) int {
	if c := cmp.Compare(id.Name, other.Name); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Version, other.Version); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Release, other.Release); c != 0 {
		return c
	}
	if c := cmp.Compare(id.Arch, other.Arch); c != 0 {
		return c
	}
	return cmp.Compare(id.Repository, other.Repository)
}

// Package is a package together with the requirements it declares.
// Packages are owned by the index; the resolver never modifies them.
type Package struct {
	ID
	Requires []string
}

// Index answers provider lookups for requirement strings.
type Index interface {
	// ProvidersOf returns every package providing the requirement.
	// An empty result means the requirement cannot be satisfied.
	ProvidersOf(ctx context.Context, requirement string) ([]*Package, error)
}

// IndexFunc adapts a function to the Index interface.
type IndexFunc func(ctx context.Context, requirement string) ([]*Package, error)

func (f IndexFunc) ProvidersOf(ctx context.Context, requirement string) ([]*Package, error) {
	return f(ctx, requirement)
}
