// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the insights service.
//
// # Description
//
// Metrics cover the three orchestration-core subsystems:
//   - Analysis lifecycle (submissions, executions, retries, durations)
//   - Result cache (hits, misses, expirations, durable-tier degradation)
//   - Realtime channel (messages, reconnects, heartbeats, status)
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for insights metrics
const insightsSubsystem = "insights"

// Metrics holds all Prometheus metrics for the insights service.
//
// Initialize once at startup via InitMetrics(). Packages consult the
// DefaultMetrics singleton and treat a nil value as "metrics disabled",
// so unit tests run without touching the default registry.
type Metrics struct {
	// SubmissionsTotal counts analysis submissions.
	// Labels: analysis_type, outcome (accepted, dedup, invalid)
	SubmissionsTotal *prometheus.CounterVec

	// ExecutionsTotal counts background executions by terminal outcome.
	// Labels: analysis_type, outcome (completed, failed, cancelled)
	ExecutionsTotal *prometheus.CounterVec

	// ExecutionDurationSeconds measures background execution duration.
	// Labels: analysis_type
	ExecutionDurationSeconds *prometheus.HistogramVec

	// RetriesTotal counts explicit retry requests that were accepted.
	RetriesTotal prometheus.Counter

	// CacheOpsTotal counts result-cache operations.
	// Labels: op (hit, miss, expired, set, delete, invalidate)
	CacheOpsTotal *prometheus.CounterVec

	// CacheVolatileEntries tracks the current volatile-tier entry count.
	CacheVolatileEntries prometheus.Gauge

	// CacheDurableErrorsTotal counts durable-tier failures that degraded
	// the cache to volatile-only operation.
	CacheDurableErrorsTotal prometheus.Counter

	// RealtimeMessagesTotal counts dispatched realtime messages.
	// Labels: type (PATTERN_DETECTED, INSIGHT_GENERATED, ...)
	RealtimeMessagesTotal *prometheus.CounterVec

	// RealtimeParseErrorsTotal counts malformed or unknown-type frames
	// that were logged and dropped.
	RealtimeParseErrorsTotal prometheus.Counter

	// RealtimeReconnectsTotal counts automatic reconnect attempts.
	RealtimeReconnectsTotal prometheus.Counter

	// RealtimeHeartbeatsTotal counts keepalive frames actually sent.
	RealtimeHeartbeatsTotal prometheus.Counter

	// RealtimeConnectionStatus reports the channel status as a gauge:
	// 0=disconnected, 1=connecting, 2=connected, 3=error.
	RealtimeConnectionStatus prometheus.Gauge
}

// DefaultMetrics is the singleton instance of Metrics.
// Initialized by InitMetrics(); nil until then.
var DefaultMetrics *Metrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup; calling it twice panics on duplicate registration.
//
// # Outputs
//
//   - *Metrics: The initialized metrics instance.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		SubmissionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "submissions_total",
				Help:      "Total analysis submissions by type and outcome",
			},
			[]string{"analysis_type", "outcome"},
		),

		ExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "executions_total",
				Help:      "Total background executions by type and terminal outcome",
			},
			[]string{"analysis_type", "outcome"},
		),

		ExecutionDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "execution_duration_seconds",
				Help:      "Background execution duration by analysis type",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"analysis_type"},
		),

		RetriesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "retries_total",
				Help:      "Total accepted retry requests",
			},
		),

		CacheOpsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "cache_ops_total",
				Help:      "Total result-cache operations by kind",
			},
			[]string{"op"},
		),

		CacheVolatileEntries: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "cache_volatile_entries",
				Help:      "Current number of volatile-tier cache entries",
			},
		),

		CacheDurableErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "cache_durable_errors_total",
				Help:      "Durable-tier cache failures degraded to volatile-only",
			},
		),

		RealtimeMessagesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "realtime_messages_total",
				Help:      "Dispatched realtime messages by type",
			},
			[]string{"type"},
		),

		RealtimeParseErrorsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "realtime_parse_errors_total",
				Help:      "Malformed or unknown realtime frames dropped",
			},
		),

		RealtimeReconnectsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "realtime_reconnects_total",
				Help:      "Automatic reconnect attempts",
			},
		),

		RealtimeHeartbeatsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "realtime_heartbeats_total",
				Help:      "Keepalive frames sent while connected",
			},
		),

		RealtimeConnectionStatus: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "realtime_connection_status",
				Help:      "Channel status: 0=disconnected 1=connecting 2=connected 3=error",
			},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Nil-safe helpers
// =============================================================================

// CountSubmission records a submission outcome if metrics are initialized.
func CountSubmission(analysisType, outcome string) {
	if DefaultMetrics != nil {
		DefaultMetrics.SubmissionsTotal.WithLabelValues(analysisType, outcome).Inc()
	}
}

// CountExecution records an execution outcome and duration.
func CountExecution(analysisType, outcome string, seconds float64) {
	if DefaultMetrics != nil {
		DefaultMetrics.ExecutionsTotal.WithLabelValues(analysisType, outcome).Inc()
		DefaultMetrics.ExecutionDurationSeconds.WithLabelValues(analysisType).Observe(seconds)
	}
}

// CountRetry records an accepted retry.
func CountRetry() {
	if DefaultMetrics != nil {
		DefaultMetrics.RetriesTotal.Inc()
	}
}

// CountCacheOp records a cache operation.
func CountCacheOp(op string) {
	if DefaultMetrics != nil {
		DefaultMetrics.CacheOpsTotal.WithLabelValues(op).Inc()
	}
}

// SetCacheVolatileEntries updates the volatile entry gauge.
func SetCacheVolatileEntries(n int) {
	if DefaultMetrics != nil {
		DefaultMetrics.CacheVolatileEntries.Set(float64(n))
	}
}

// CountCacheDurableError records a durable-tier degradation.
func CountCacheDurableError() {
	if DefaultMetrics != nil {
		DefaultMetrics.CacheDurableErrorsTotal.Inc()
	}
}

// CountRealtimeMessage records a dispatched message.
func CountRealtimeMessage(msgType string) {
	if DefaultMetrics != nil {
		DefaultMetrics.RealtimeMessagesTotal.WithLabelValues(msgType).Inc()
	}
}

// CountRealtimeParseError records a dropped frame.
func CountRealtimeParseError() {
	if DefaultMetrics != nil {
		DefaultMetrics.RealtimeParseErrorsTotal.Inc()
	}
}

// CountRealtimeReconnect records a scheduled reconnect attempt.
func CountRealtimeReconnect() {
	if DefaultMetrics != nil {
		DefaultMetrics.RealtimeReconnectsTotal.Inc()
	}
}

// CountRealtimeHeartbeat records a sent keepalive frame.
func CountRealtimeHeartbeat() {
	if DefaultMetrics != nil {
		DefaultMetrics.RealtimeHeartbeatsTotal.Inc()
	}
}

// SetRealtimeConnectionStatus updates the channel status gauge.
func SetRealtimeConnectionStatus(v float64) {
	if DefaultMetrics != nil {
		DefaultMetrics.RealtimeConnectionStatus.Set(v)
	}
}
