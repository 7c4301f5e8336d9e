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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/spf13/cobra"

	"chainguard.dev/repoclosure/pkg/closure"
	"chainguard.dev/repoclosure/pkg/metrics"
	"chainguard.dev/repoclosure/pkg/report"
)

// ErrUnresolved is returned by check with --fail-on-unresolved when at least
// one package has an unresolved requirement.
var ErrUnresolved = errors.New("unresolved dependencies found")

type checkOptions struct {
	repoOptions

	format           string
	output           string
	jobs             int
	metricsFile      string
	failOnUnresolved bool
}

func check() *cobra.Command {
	o := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report packages with requirements no package in the repositories provides",
		Long: `Report packages with requirements no package in the repositories provides.

Only the latest version of every package is checked, and requirements are
only satisfied by the latest version of their providers. Each architecture is
checked independently.

The output is one of the formats ` + strings.Join(report.Formats(), ", ") + `, or a go template
executed once per reported package. See https://pkg.go.dev/text/template for
more information. Available vars are .ID, .Name, .Version, .Release, .Arch,
.Repository, .PURL and .Unresolved; the join function joins a list of strings.

Unresolved requirements are the normal output of this command and do not make
it fail, unless --fail-on-unresolved is given.`,
		Example: `  repoclosure check -X https://packages.wolfi.dev/os -k https://packages.wolfi.dev/os/wolfi-signing.rsa.pub
  repoclosure check -c repoclosure.yaml --repoid os --pkg busybox --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			if o.output != "" {
				f, err := os.Create(o.output)
				if err != nil {
					return fmt.Errorf("creating output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return CheckCmd(cmd.Context(), w, o)
		},
	}

	o.addFlags(cmd)
	cmd.Flags().StringVar(&o.format, "format", report.TextFormat, "output format: one of "+strings.Join(report.Formats(), ", ")+", or a go template")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().IntVarP(&o.jobs, "jobs", "j", 1, "number of packages resolved concurrently")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics for the run to this file")
	cmd.Flags().BoolVar(&o.failOnUnresolved, "fail-on-unresolved", false, "exit with an error when any package has unresolved requirements")

	return cmd
}

func CheckCmd(ctx context.Context, w io.Writer, o *checkOptions) error {
	log := clog.FromContext(ctx)

	cfg, err := o.configuration(ctx)
	if err != nil {
		return err
	}
	cfg.Summarize(ctx)

	formatter, err := report.New(o.format)
	if err != nil {
		return err
	}

	local, err := o.localPackages()
	if err != nil {
		return err
	}
	names := o.candidateNames(local)

	keys, err := o.keys(ctx, cfg)
	if err != nil {
		return err
	}

	rec := metrics.New()
	archs := cfg.APKArchs()
	log.Infof("checking closure for %d architectures: %v", len(archs), archs)

	unresolved := 0
	for _, arch := range archs {
		log := clog.New(slog.Default().Handler()).With("arch", arch)
		ctx := clog.WithLogger(ctx, log)

		idx, err := o.loadIndex(ctx, cfg, arch, keys, local)
		if err != nil {
			return err
		}
		rec.ObserveIndex(arch, len(idx.AvailableLatest()))

		candidates := selectCandidates(ctx, idx, names)
		log.Infof("checking %d of %d packages", len(candidates), idx.Total())

		start := time.Now()
		r, err := closure.New(idx, closure.WithParallelism(o.jobs)).Resolve(ctx, candidates)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", arch, err)
		}
		rec.ObserveReport(arch, r, time.Since(start))
		log.Infof("%d packages with unresolved requirements", r.Len())
		unresolved += r.Len()

		if err := formatter.Format(ctx, w, r, &report.Options{Arch: arch, Namespace: cfg.Namespace}); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	rec.Done(time.Now())
	if o.metricsFile != "" {
		if err := rec.WriteFile(o.metricsFile); err != nil {
			return err
		}
	}

	if o.failOnUnresolved && unresolved != 0 {
		return fmt.Errorf("%w: %d packages", ErrUnresolved, unresolved)
	}
	return nil
}
