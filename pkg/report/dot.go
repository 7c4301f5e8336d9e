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
	"io"

	"github.com/tmc/dot"

	"chainguard.dev/repoclosure/pkg/closure"
)

const DOTFormat = "dot"

// dotFormatter renders the report as a digraph from each package to the
// requirements it is missing, e.g.
//
//	repoclosure check --format dot | dot -Tsvg > closure.svg
type dotFormatter struct{}

func (*dotFormatter) Key() string { return DOTFormat }

func (*dotFormatter) Format(_ context.Context, w io.Writer, r *closure.Report, opts *Options) error {
	name := "repoclosure"
	if opts != nil && opts.Arch != "" {
		name += "_" + opts.Arch
	}

	out := dot.NewGraph(name)
	if err := out.Set("rankdir", "LR"); err != nil {
		return err
	}
	out.SetType(dot.DIGRAPH)

	reqs := map[string]*dot.Node{}
	for _, entry := range r.Entries() {
		n := dot.NewNode(entry.Package.ID.String())
		if err := n.Set("tooltip", entry.Package.Repository); err != nil {
			return err
		}
		out.AddNode(n)

		for _, req := range entry.Requirements() {
			d, ok := reqs[req]
			if !ok {
				d = dot.NewNode(req)
				if err := d.Set("shape", "rect"); err != nil {
					return err
				}
				if err := d.Set("color", "red"); err != nil {
					return err
				}
				out.AddNode(d)
				reqs[req] = d
			}
			out.AddEdge(dot.NewEdge(n, d))
		}
	}

	_, err := io.WriteString(w, out.String())
	return err
}
