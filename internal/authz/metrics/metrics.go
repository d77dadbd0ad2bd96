/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package metrics defines Prometheus metrics for the authorization core.
//
// Metric naming follows Prometheus conventions:
//   - authz_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder bundles the metric vectors a Check/BatchCheck call updates, so
// callers that construct multiple check.Service instances (e.g. per
// tenant in tests) don't reregister against the global registry.
type Recorder struct {
	ChecksTotal          *prometheus.CounterVec
	CheckDurationSeconds *prometheus.HistogramVec
	BatchSize            prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter

	hits   uint64 // mirrors CacheHitsTotal for CacheHitRatio, since Prometheus counters aren't locally readable
	misses uint64
}

// RecordCacheHit increments both the Prometheus counter and the local
// mirror CacheHitRatio reads from.
func (r *Recorder) RecordCacheHit() {
	r.CacheHitsTotal.Inc()
	atomic.AddUint64(&r.hits, 1)
}

// RecordCacheMiss increments both the Prometheus counter and the local
// mirror CacheHitRatio reads from.
func (r *Recorder) RecordCacheMiss() {
	r.CacheMissesTotal.Inc()
	atomic.AddUint64(&r.misses, 1)
}

// NewRecorder builds a Recorder with unregistered metric vectors. Call
// MustRegister to attach them to a prometheus.Registerer.
func NewRecorder() *Recorder {
	return &Recorder{
		ChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authz_checks_total",
				Help: "Total number of unified checks by resolution path and outcome.",
			},
			[]string{"resolved_via", "allowed"},
		),
		CheckDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authz_check_duration_seconds",
				Help:    "Duration of check components in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"component"},
		),
		BatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authz_batch_size",
				Help:    "Number of entries per BatchCheck call.",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_cache_hits_total",
				Help: "Total cache hits across all check resolutions.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "authz_cache_misses_total",
				Help: "Total cache misses across all check resolutions.",
			},
		),
	}
}

// MustRegister registers every metric in r against reg, panicking on
// duplicate registration the same way prometheus.MustRegister does.
func (r *Recorder) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.ChecksTotal, r.CheckDurationSeconds, r.BatchSize, r.CacheHitsTotal, r.CacheMissesTotal)
}

// CacheHitRatio derives a point-in-time hit ratio from the local mirror
// counters; it is not itself a registered metric (Prometheus computes
// ratios via PromQL over the counters), but is useful for
// logging/diagnostics.
func (r *Recorder) CacheHitRatio() float64 {
	hits := atomic.LoadUint64(&r.hits)
	misses := atomic.LoadUint64(&r.misses)
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}
