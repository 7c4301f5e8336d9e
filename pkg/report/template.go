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
	"fmt"
	"io"
	"strings"
	"text/template"

	"chainguard.dev/repoclosure/pkg/closure"
)

// TemplateVars are the fields available to a --format template.
type TemplateVars struct {
	ID         string
	Name       string
	Version    string
	Release    string
	Arch       string
	Repository string
	PURL       string
	Unresolved []string
}

type templateFormatter struct {
	tmpl *template.Template
}

func newTemplate(format string) (*templateFormatter, error) {
	tmpl, err := template.New("format").Funcs(template.FuncMap{
		"join": strings.Join,
	}).Parse(format)
	if err != nil {
		return nil, err
	}
	return &templateFormatter{tmpl: tmpl}, nil
}

func (*templateFormatter) Key() string { return "template" }

func (t *templateFormatter) Format(_ context.Context, w io.Writer, r *closure.Report, opts *Options) error {
	if opts == nil {
		opts = &Options{}
	}
	for _, entry := range r.Entries() {
		id := entry.Package.ID
		vars := TemplateVars{
			ID:         id.String(),
			Name:       id.Name,
			Version:    id.Version,
			Release:    id.Release,
			Arch:       id.Arch,
			Repository: id.Repository,
			PURL:       PURL(id, opts.Namespace),
			Unresolved: entry.Requirements(),
		}
		if err := t.tmpl.Execute(w, vars); err != nil {
			return fmt.Errorf("failed to execute template: %w", err)
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}
