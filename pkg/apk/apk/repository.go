// Copyright 2023 Chainguard, Inc.
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

package apk

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// LocalRepositoryName names the repository that holds packages read from
// .PKGINFO files given on the command line.
const LocalRepositoryName = "local"

type Repository struct {
	URI string
}

// WithIndex returns a RepositoryWithIndex for the repository and its parsed index.
func (r *Repository) WithIndex(index *APKIndex) *RepositoryWithIndex {
	rwi := &RepositoryWithIndex{
		Repository: r,
		index:      index,
	}
	rwi.pkgs = make([]*RepositoryPackage, 0, len(index.Packages))
	for _, pkg := range index.Packages {
		rwi.pkgs = append(rwi.pkgs, NewRepositoryPackage(pkg, rwi))
	}
	return rwi
}

// IndexURI returns the uri of the APKINDEX for this repository
func (r *Repository) IndexURI() string {
	if r.URI == LocalRepositoryName {
		return ""
	}
	return fmt.Sprintf("%s/%s", r.URI, indexFilename)
}

// IsRemote returns whether the repository is considered remote and needs to be
// fetched over http(s)
func (r *Repository) IsRemote() bool {
	return strings.HasPrefix(r.URI, "https://") || strings.HasPrefix(r.URI, "http://")
}

// RepositoryWithIndex represents a repository with the index read and parsed
type RepositoryWithIndex struct {
	*Repository
	index *APKIndex
	pkgs  []*RepositoryPackage
}

// Packages returns a list of RepositoryPackage in this repository
func (r *RepositoryWithIndex) Packages() []*RepositoryPackage {
	return r.pkgs
}

// Count returns the amount of packages that are available in this repository
func (r *RepositoryWithIndex) Count() int {
	return len(r.pkgs)
}

// Description is the DESCRIPTION member of the index archive, if any.
func (r *RepositoryWithIndex) Description() string {
	return strings.TrimSpace(r.index.Description)
}

type RepositoryPackage struct {
	*Package
	repository *RepositoryWithIndex
}

func NewRepositoryPackage(pkg *Package, repo *RepositoryWithIndex) *RepositoryPackage {
	return &RepositoryPackage{
		Package:    pkg,
		repository: repo,
	}
}

func (rp *RepositoryPackage) URL() string {
	return fmt.Sprintf("%s/%s", rp.repository.URI, url.QueryEscape(rp.Filename()))
}

func (rp *RepositoryPackage) Repository() *RepositoryWithIndex {
	return rp.repository
}

// NamedIndex is the index of one repository under the id it was configured with.
type NamedIndex interface {
	Name() string
	Packages() []*RepositoryPackage
	Source() string
	Count() int
}

type namedRepositoryWithIndex struct {
	name string
	repo *RepositoryWithIndex
}

func NewNamedRepositoryWithIndex(name string, repo *RepositoryWithIndex) NamedIndex {
	return &namedRepositoryWithIndex{
		name: name,
		repo: repo,
	}
}

func (n *namedRepositoryWithIndex) Name() string {
	return n.name
}

func (n *namedRepositoryWithIndex) Count() int {
	if n.repo == nil {
		return 0
	}
	return n.repo.Count()
}

func (n *namedRepositoryWithIndex) Packages() []*RepositoryPackage {
	if n.repo == nil {
		return nil
	}
	return n.repo.Packages()
}

func (n *namedRepositoryWithIndex) Source() string {
	if n.repo == nil {
		return ""
	}
	return n.repo.IndexURI()
}

// NewLocalIndex wraps packages that did not come from a repository index,
// e.g. parsed .PKGINFO files, so they can be searched like any other index.
func NewLocalIndex(pkgs []*Package) NamedIndex {
	repo := &Repository{URI: LocalRepositoryName}
	return NewNamedRepositoryWithIndex(LocalRepositoryName, repo.WithIndex(&APKIndex{Packages: pkgs}))
}

// RepositoryRef is a repository as configured: the id it is reported under
// and the base URL (or local path) the per-arch index lives below.
type RepositoryRef struct {
	ID  string
	URL string
}

func (r RepositoryRef) String() string {
	return "@" + r.ID + " " + r.URL
}

// ParseRepositoryRef parses one line of an /etc/apk/repositories file. Both
// "URL" and the pinned "@id URL" forms are accepted; an unpinned repository is
// identified by its URL without the scheme.
func ParseRepositoryRef(line string) (RepositoryRef, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return RepositoryRef{}, fmt.Errorf("empty repository line")
	}
	if !strings.HasPrefix(line, "@") {
		if strings.ContainsAny(line, " \t") {
			return RepositoryRef{}, fmt.Errorf("invalid repository line: %q", line)
		}
		return RepositoryRef{ID: stripURLScheme(line), URL: line}, nil
	}

	parts := strings.Fields(line)
	if len(parts) != 2 || len(parts[0]) < 2 {
		return RepositoryRef{}, fmt.Errorf("invalid repository line: %q", line)
	}
	return RepositoryRef{ID: parts[0][1:], URL: parts[1]}, nil
}

// ReadRepositoriesFile parses an /etc/apk/repositories style list, skipping
// blank lines and comments.
func ReadRepositoriesFile(r io.Reader) ([]RepositoryRef, error) {
	var refs []RepositoryRef
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ref, err := ParseRepositoryRef(line)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return refs, nil
}

func stripURLScheme(url string) string {
	return strings.TrimPrefix(
		strings.TrimPrefix(url, "https://"),
		"http://",
	)
}
