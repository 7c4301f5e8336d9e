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

// Package metrics collects Prometheus metrics for a repoclosure run. Each run
// owns its registry so results can be written as a node-exporter textfile
// without mixing in process metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chainguard.dev/repoclosure/pkg/closure"
)

type Recorder struct {
	registry *prometheus.Registry

	indexPackages        *prometheus.GaugeVec
	candidates           *prometheus.GaugeVec
	unresolvedPackages   *prometheus.GaugeVec
	unresolvedRequires   *prometheus.GaugeVec
	queries              *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	bypassed             *prometheus.CounterVec
	resolutionDuration   *prometheus.HistogramVec
	lastSuccessTimestamp prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		indexPackages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoclosure_index_packages",
			Help: "Number of packages in the latest-only view of the enabled repositories.",
		}, []string{"arch"}),
		candidates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoclosure_candidates",
			Help: "Number of packages checked.",
		}, []string{"arch"}),
		unresolvedPackages: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoclosure_unresolved_packages",
			Help: "Number of packages with at least one unresolved requirement.",
		}, []string{"arch"}),
		unresolvedRequires: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "repoclosure_unresolved_requirements",
			Help: "Number of distinct requirement strings without a provider.",
		}, []string{"arch"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoclosure_index_queries_total",
			Help: "Number of provider lookups sent to the package index.",
		}, []string{"arch"}),
		cacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoclosure_cache_hits_total",
			Help: "Number of requirements answered from the resolution cache.",
		}, []string{"arch"}),
		bypassed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoclosure_bypassed_requirements_total",
			Help: "Number of requirements treated as satisfied because of a reserved prefix.",
		}, []string{"arch"}),
		resolutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repoclosure_resolution_duration_seconds",
			Help:    "Time taken to compute the closure.",
			Buckets: prometheus.DefBuckets,
		}, []string{"arch"}),
		lastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repoclosure_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		}),
	}
	r.registry.MustRegister(
		r.indexPackages,
		r.candidates,
		r.unresolvedPackages,
		r.unresolvedRequires,
		r.queries,
		r.cacheHits,
		r.bypassed,
		r.resolutionDuration,
		r.lastSuccessTimestamp,
	)
	return r
}

// Registry exposes the underlying registry, e.g. for serving or testing.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveIndex records the size of the index built for arch.
func (r *Recorder) ObserveIndex(arch string, packages int) {
	r.indexPackages.WithLabelValues(arch).Set(float64(packages))
}

// ObserveReport records the outcome of one resolution run for arch.
func (r *Recorder) ObserveReport(arch string, report *closure.Report, took time.Duration) {
	stats := report.Stats()
	r.candidates.WithLabelValues(arch).Set(float64(stats.Candidates))
	r.unresolvedPackages.WithLabelValues(arch).Set(float64(report.Len()))
	r.unresolvedRequires.WithLabelValues(arch).Set(float64(len(report.Cache().Unresolved())))
	r.queries.WithLabelValues(arch).Add(float64(stats.Queries))
	r.cacheHits.WithLabelValues(arch).Add(float64(stats.CacheHits))
	r.bypassed.WithLabelValues(arch).Add(float64(stats.Bypassed))
	r.resolutionDuration.WithLabelValues(arch).Observe(took.Seconds())
}

// Done marks the run as completed.
func (r *Recorder) Done(now time.Time) {
	r.lastSuccessTimestamp.Set(float64(now.Unix()))
}

// WriteFile writes all metrics in the text exposition format. The file is
// replaced atomically, as the node-exporter textfile collector expects.
func (r *Recorder) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
