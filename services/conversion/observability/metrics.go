// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the conversion
// pipeline.
//
// Metrics are exposed on /metrics. All operations are thread-safe via
// Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "conversionpulse"

	pipelineSubsystem = "pipeline"
	realtimeSubsystem = "realtime"
)

// PipelineMetrics holds all Prometheus metrics for the pipeline.
//
// # Fields
//
//   - EventsIngestedTotal: Events accepted by the sink, by type.
//   - EventBatchesTotal: Ingestion batches, by outcome (ok, invalid).
//   - ConfidenceScore: Distribution of computed confidence scores.
//   - ConversionUpsertsTotal: Upserts, by resulting state.
//   - ValidationsTotal: Finalizations, by terminal state.
//   - SubscribersActive: Currently attached realtime consumers.
//   - NotificationsDroppedTotal: Missed push notifications, by topic.
type PipelineMetrics struct {
	EventsIngestedTotal       *prometheus.CounterVec
	EventBatchesTotal         *prometheus.CounterVec
	ConfidenceScore           prometheus.Histogram
	ConversionUpsertsTotal    *prometheus.CounterVec
	ValidationsTotal          *prometheus.CounterVec
	SubscribersActive         prometheus.Gauge
	NotificationsDroppedTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, initialized by InitMetrics.
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all pipeline metrics. Call once at
// startup.
func InitMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		EventsIngestedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "events_ingested_total",
			Help:      "Interaction events accepted by the ingestion sink.",
		}, []string{"type"}),
		EventBatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "event_batches_total",
			Help:      "Ingestion batches by outcome.",
		}, []string{"outcome"}),
		ConfidenceScore: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "confidence_score",
			Help:      "Distribution of computed confidence scores.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ConversionUpsertsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "conversion_upserts_total",
			Help:      "Conversion record upserts by resulting validation state.",
		}, []string{"state"}),
		ValidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "validations_total",
			Help:      "Human validation decisions by terminal state.",
		}, []string{"state"}),
		SubscribersActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: realtimeSubsystem,
			Name:      "subscribers_active",
			Help:      "Currently attached realtime subscribers.",
		}),
		NotificationsDroppedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: realtimeSubsystem,
			Name:      "notifications_dropped_total",
			Help:      "Push notifications missed by slow subscribers.",
		}, []string{"topic"}),
	}
	DefaultMetrics = m
	return m
}
