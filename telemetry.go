/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/badu/httpcore/connhandler"
)

// Logger is the structured, leveled logger every package in this core
// accepts rather than calling log.Printf the way conn.go's srv.logf did.
// A zero Logger is zerolog's no-op logger, so a Server constructed
// without one simply doesn't log, matching the teacher's own silent
// default when ErrorLog is nil.
type Logger = zerolog.Logger

// Tracer instruments one span per HTTP/2 stream lifecycle (in wire2) and
// one span per request on those streams (in connhandler); HTTP/1.1
// connections are not handed the Tracer, so their requests get no span.
// A nil Tracer disables tracing entirely; every call site checks before
// using it.
type Tracer = trace.Tracer

// MetricsRegistry is the optional Prometheus surface a Server reports
// through: in-flight request count, open HTTP/2 stream count, and
// current streamed-body buffered bytes, giving spec.md §4.1/§8's
// backpressure contract an observable signal an embedder can alert on.
// connhandler.Metrics is embedded so a MetricsRegistry can be passed
// directly as a connhandler.Handler.Metrics value.
type MetricsRegistry interface {
	connhandler.Metrics
	StreamOpened()
	StreamClosed()
	SetStreamingBufferedBytes(n uint64)
}

// noopMetrics is used when ServerConfig.MetricsRegistry is nil, so call
// sites never need a nil check.
type noopMetrics struct{}

func (noopMetrics) RequestStarted()               {}
func (noopMetrics) RequestFinished()              {}
func (noopMetrics) StreamOpened()                 {}
func (noopMetrics) StreamClosed()                 {}
func (noopMetrics) SetStreamingBufferedBytes(uint64) {}
