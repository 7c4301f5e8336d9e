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

package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"chainguard.dev/repoclosure/pkg/closure"
)

const JSONFormat = "json"

// Document is the JSON form of a report for one architecture.
type Document struct {
	Arch     string        `json:"arch,omitempty"`
	Packages []PackageJSON `json:"packages"`
}

type PackageJSON struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	Release    string   `json:"release,omitempty"`
	Arch       string   `json:"arch,omitempty"`
	Repository string   `json:"repository"`
	PURL       string   `json:"purl"`
	Unresolved []string `json:"unresolved"`
}

type jsonFormatter struct{}

func (*jsonFormatter) Key() string { return JSONFormat }

func (*jsonFormatter) Format(_ context.Context, w io.Writer, r *closure.Report, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	doc := Document{
		Arch:     opts.Arch,
		Packages: make([]PackageJSON, 0, r.Len()),
	}
	for _, entry := range r.Entries() {
		id := entry.Package.ID
		doc.Packages = append(doc.Packages, PackageJSON{
			Name:       id.Name,
			Version:    id.Version,
			Release:    id.Release,
			Arch:       id.Arch,
			Repository: id.Repository,
			PURL:       PURL(id, opts.Namespace),
			Unresolved: entry.Requirements(),
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	return nil
}
