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

package metrics

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"chainguard.dev/repoclosure/pkg/closure"
)

func testReport(t *testing.T) *closure.Report {
	t.Helper()
	index := closure.IndexFunc(func(_ context.Context, req string) ([]*closure.Package, error) {
		if strings.HasPrefix(req, "missing") {
			return nil, nil
		}
		return []*closure.Package{{}}, nil
	})
	r, err := closure.ComputeClosure(context.Background(), []*closure.Package{{
		ID:       closure.ID{Name: "a", Version: "1", Release: "r0", Arch: "x86_64", Repository: "os"},
		Requires: []string{"ok", "missing-x", "solvable:x"},
	}, {
		ID:       closure.ID{Name: "b", Version: "1", Release: "r0", Arch: "x86_64", Repository: "os"},
		Requires: []string{"ok", "missing-x", "missing-y"},
	}}, index)
	require.NoError(t, err)
	return r
}

func TestObserveReport(t *testing.T) {
	rec := New()
	report := testReport(t)
	rec.ObserveIndex("x86_64", 42)
	rec.ObserveReport("x86_64", report, 2*time.Second)

	stats := report.Stats()
	require.Equal(t, 3, stats.Queries)

	require.InDelta(t, 42, testutil.ToFloat64(rec.indexPackages.WithLabelValues("x86_64")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(rec.candidates.WithLabelValues("x86_64")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(rec.unresolvedPackages.WithLabelValues("x86_64")), 0)
	require.InDelta(t, 2, testutil.ToFloat64(rec.unresolvedRequires.WithLabelValues("x86_64")), 0)
	require.InDelta(t, float64(stats.Queries), testutil.ToFloat64(rec.queries.WithLabelValues("x86_64")), 0)
	require.InDelta(t, float64(stats.CacheHits), testutil.ToFloat64(rec.cacheHits.WithLabelValues("x86_64")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(rec.bypassed.WithLabelValues("x86_64")), 0)

	require.Equal(t, 1, testutil.CollectAndCount(rec.resolutionDuration))
}

func TestArchesAreSeparateSeries(t *testing.T) {
	rec := New()
	rec.ObserveIndex("x86_64", 10)
	rec.ObserveIndex("aarch64", 7)

	require.Equal(t, 2, testutil.CollectAndCount(rec.indexPackages))
	require.InDelta(t, 7, testutil.ToFloat64(rec.indexPackages.WithLabelValues("aarch64")), 0)
}

func TestWriteFile(t *testing.T) {
	rec := New()
	rec.ObserveIndex("x86_64", 3)
	rec.ObserveReport("x86_64", testReport(t), time.Second)
	rec.Done(time.Unix(1700000000, 0))

	p := filepath.Join(t.TempDir(), "repoclosure.prom")
	require.NoError(t, rec.WriteFile(p))

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	out := string(b)
	require.Contains(t, out, `repoclosure_index_packages{arch="x86_64"} 3`)
	require.Contains(t, out, `repoclosure_unresolved_packages{arch="x86_64"} 2`)
	require.Contains(t, out, "repoclosure_last_run_timestamp_seconds 1.7e+09")
	require.Contains(t, out, "# HELP repoclosure_index_queries_total")
}

func TestWriteFileBadPath(t *testing.T) {
	rec := New()
	err := rec.WriteFile(filepath.Join(t.TempDir(), "missing", "dir", "out.prom"))
	require.ErrorContains(t, err, "writing metrics")
}
