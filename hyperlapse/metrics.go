// Copyright 2025 The Hyperlapse Authors
// SPDX-License-Identifier: Apache-2.0

package hyperlapse

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hyperlapse"

// Metrics tracks the outcome of a run. Each Pipeline owns its registry so
// runs (and tests) never share counters.
type Metrics struct {
	registry *prometheus.Registry

	RoutePoints    prometheus.Gauge
	RouteDistance  prometheus.Gauge
	ImagesFetched  prometheus.Counter
	ImagesFailed   *prometheus.CounterVec
	ImagesSkipped  prometheus.Counter
	VideoFrames    prometheus.Gauge
	StageDurations *prometheus.GaugeVec
	Outcome        *prometheus.GaugeVec
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RoutePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "points",
			Help:      "Number of coordinates decoded from the route",
		}),
		RouteDistance: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "route",
			Name:      "distance_meters",
			Help:      "Route distance reported by the routing service",
		}),
		ImagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagery",
			Name:      "fetched_total",
			Help:      "Panoramas fetched and stored",
		}),
		ImagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagery",
			Name:      "failed_total",
			Help:      "Panoramas that could not be fetched or stored",
		}, []string{"reason"}),
		ImagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "imagery",
			Name:      "skipped_total",
			Help:      "Coordinates skipped because they share an H3 cell with the previous request",
		}),
		VideoFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "video",
			Name:      "frames",
			Help:      "Frames handed to the video encoder",
		}),
		StageDurations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall time spent in each pipeline stage",
		}, []string{"stage"}),
		Outcome: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "outcome",
			Help:      "1 for the terminal state the run ended in, and the video stage result",
		}, []string{"state", "video"}),
	}

	m.registry.MustRegister(
		m.RoutePoints,
		m.RouteDistance,
		m.ImagesFetched,
		m.ImagesFailed,
		m.ImagesSkipped,
		m.VideoFrames,
		m.StageDurations,
		m.Outcome,
	)

	return m
}

// Registry exposes the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes the metrics in the Prometheus text format, suitable for
// the node exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}

	return nil
}
