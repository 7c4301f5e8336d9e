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

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/template"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"
)

const (
	formatNameSpaceVersion                 = `{{ .Name }} {{ .Version }}`
	formatNameSpaceVersionWithSource       = `{{ .Name }} {{ .Version }} {{ .Source }}`
	formatNameSpaceEqualsVersion           = `{{ .Name }}={{ .Version }}`
	formatNameSpaceEqualsVersionWithSource = `{{ .Name }}={{ .Version }} {{ .Source }}`
	formatNameBracketsVersion              = `{{ .Name }} ({{ .Version }})`
	formatNameBracketsVersionWithSource    = `{{ .Name }} ({{ .Version }}) {{ .Source }}`
	formatNameVersionRepository            = `{{ .Name }}-{{ .Version }}.{{ .Arch }} {{ .Repository }}`
	showPkgsFormatDefault                  = formatNameSpaceVersion
)

var (
	showPkgsFormats = map[string]string{
		"name-version":          formatNameSpaceVersion,
		"name-version-source":   formatNameSpaceVersionWithSource,
		"name=version":          formatNameSpaceEqualsVersion,
		"name=version-source":   formatNameSpaceEqualsVersionWithSource,
		"name-(version)":        formatNameBracketsVersion,
		"name-(version)-source": formatNameBracketsVersionWithSource,
		"nevra-repository":      formatNameVersionRepository,
	}
)

type pkgInfo struct {
	Name       string
	Version    string
	Arch       string
	Repository string
	Source     string
}

func packages() *cobra.Command {
	o := &repoOptions{}
	var format string

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "Show the packages a check would consider",
		Long: `Show the packages a check would consider: the latest version of every
package in the enabled repositories, restricted by --pkg and --pkginfo.

The output is one of several pre-defined formats, or can be customized to any go template, using
the provided vars. See https://pkg.go.dev/text/template for more information. Available vars are
.Name, .Version, .Arch, .Repository, .Source

The pre-defined formats are:
  name-version:          {{ .Name }} {{ .Version }}
  name-version-source:   {{ .Name }} {{ .Version }} {{ .Source }}
  name=version:          {{ .Name }}={{ .Version }}
  name=version-source:   {{ .Name }}={{ .Version }} {{ .Source }}
  name-(version):        {{ .Name }} ({{ .Version }})
  name-(version)-source: {{ .Name }} ({{ .Version }}) {{ .Source }}
  nevra-repository:      {{ .Name }}-{{ .Version }}.{{ .Arch }} {{ .Repository }}

The default format is name-version.
`,
		Example: `  repoclosure packages -X https://packages.wolfi.dev/os --allow-untrusted --format name=version`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tmpl, ok := showPkgsFormats[format]
			if !ok {
				// assume it's a template
				tmpl = format
			}
			return PackagesCmd(cmd.Context(), cmd.OutOrStdout(), tmpl, o)
		},
	}

	o.addFlags(cmd)
	cmd.Flags().StringVar(&format, "format", showPkgsFormatDefault, "format for showing packages; if pre-defined from list, will use that, else go template. See https://pkg.go.dev/text/template for more information. Available vars are `.Name`, `.Version`, `.Arch`, `.Repository`, `.Source`")

	return cmd
}

func PackagesCmd(ctx context.Context, w io.Writer, format string, o *repoOptions) error {
	log := clog.FromContext(ctx)

	tmpl, err := template.New("format").Parse(format)
	if err != nil {
		return fmt.Errorf("failed to parse format: %w", err)
	}

	cfg, err := o.configuration(ctx)
	if err != nil {
		return err
	}
	local, err := o.localPackages()
	if err != nil {
		return err
	}
	keys, err := o.keys(ctx, cfg)
	if err != nil {
		return err
	}

	archs := cfg.APKArchs()
	log.Infof("Determining packages for %d architectures: %+v", len(archs), archs)

	for _, arch := range archs {
		log := clog.New(slog.Default().Handler()).With("arch", arch)
		ctx := clog.WithLogger(ctx, log)

		idx, err := o.loadIndex(ctx, cfg, arch, keys, local)
		if err != nil {
			return err
		}

		for _, pkg := range selectCandidates(ctx, idx, o.candidateNames(local)) {
			p := pkgInfo{
				Name:       pkg.Name,
				Version:    pkg.Version,
				Arch:       pkg.Arch,
				Repository: pkg.Repository,
			}
			if pkg.Release != "" {
				p.Version += "-" + pkg.Release
			}
			if src, ok := idx.Source(pkg.ID); ok {
				p.Source = src.URL()
			}
			if err := tmpl.Execute(w, p); err != nil {
				return fmt.Errorf("failed to execute template: %w", err)
			}
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
	}
	return nil
}
