/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package metrics exposes the core's in-flight-request count, open
// HTTP/2 stream count, and streamed-body buffered-byte gauge through
// github.com/prometheus/client_golang, giving an embedder an
// observable signal for the backpressure contract spec.md §4.1 and §8
// property 6 describe but don't surface on their own. The teacher
// carries no metrics of any kind; this is the "enrich from the rest of
// the pack" case SPEC_FULL.md §7 calls out, grounded on docker-compose's
// go.mod dependency on client_golang.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry implements httpcore.MetricsRegistry (and, structurally,
// connhandler.Metrics) backed by a prometheus.Registerer.
type Registry struct {
	requestsInProgress prometheus.Gauge
	openStreams        prometheus.Gauge
	streamingBuffered  prometheus.Gauge
}

// New registers the core's three gauges against reg and returns a
// Registry ready to pass as ServerConfig.MetricsRegistry. Passing
// prometheus.NewRegistry() keeps the core's metrics isolated from the
// default registry, matching how an embedder typically scopes a
// library's metrics away from the host application's own.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		requestsInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpcore",
			Name:      "requests_in_progress",
			Help:      "Number of requests currently being handled across all connections.",
		}),
		openStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpcore",
			Name:      "http2_open_streams",
			Help:      "Number of currently open HTTP/2 streams across all connections.",
		}),
		streamingBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpcore",
			Name:      "streaming_body_buffered_bytes",
			Help:      "Current total buffered bytes across all streaming request bodies.",
		}),
	}
}

// RequestStarted implements connhandler.Metrics.
func (r *Registry) RequestStarted() { r.requestsInProgress.Inc() }

// RequestFinished implements connhandler.Metrics.
func (r *Registry) RequestFinished() { r.requestsInProgress.Dec() }

// StreamOpened implements httpcore.MetricsRegistry.
func (r *Registry) StreamOpened() { r.openStreams.Inc() }

// StreamClosed implements httpcore.MetricsRegistry.
func (r *Registry) StreamClosed() { r.openStreams.Dec() }

// SetStreamingBufferedBytes implements httpcore.MetricsRegistry.
func (r *Registry) SetStreamingBufferedBytes(n uint64) { r.streamingBuffered.Set(float64(n)) }
