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
	"bufio"
	"context"
	"fmt"
	"io"

	"chainguard.dev/repoclosure/pkg/closure"
)

const TextFormat = "text"

// text is the classic repoclosure listing:
//
//	package: hello-2.12-r0.x86_64 from os
//	  unresolved deps:
//	    so:libmissing.so.1
type text struct{}

func (*text) Key() string { return TextFormat }

func (*text) Format(_ context.Context, w io.Writer, r *closure.Report, _ *Options) error {
	bw := bufio.NewWriter(w)
	for _, entry := range r.Entries() {
		fmt.Fprintf(bw, "package: %s from %s\n", entry.Package.ID, entry.Package.Repository)
		fmt.Fprintln(bw, "  unresolved deps:")
		for _, req := range entry.Requirements() {
			fmt.Fprintf(bw, "    %s\n", req)
		}
	}
	return bw.Flush()
}
