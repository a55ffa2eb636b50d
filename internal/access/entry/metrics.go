// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Crewkeeper Contributors

package entry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Evaluation results recorded by the metrics.
const (
	resultPermit = "permit"
	resultDeny   = "deny"
	resultError  = "error"
)

// Metrics for access evaluations driven by the service.
var (
	// evaluateDuration tracks the latency of entry and grant evaluations.
	evaluateDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crewkeeper_access_evaluate_duration_seconds",
		Help:    "Histogram of access evaluation latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
	}, []string{"source"})

	// evaluations counts evaluations by source and result.
	evaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crewkeeper_access_evaluations_total",
		Help: "Total number of access evaluations",
	}, []string{"source", "result"})

	// entryWrites counts entry lifecycle operations.
	entryWrites = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crewkeeper_access_entry_writes_total",
		Help: "Total number of access entry writes by operation",
	}, []string{"operation"})
)

// RegisterMetrics registers the access metrics with the given registry.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(evaluateDuration, evaluations, entryWrites, cacheLookups, cacheInvalidations)
}

func recordEvaluation(source string, start time.Time, permitted bool, err error) {
	evaluateDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
	result := resultDeny
	switch {
	case err != nil:
		result = resultError
	case permitted:
		result = resultPermit
	}
	evaluations.WithLabelValues(source, result).Inc()
}
