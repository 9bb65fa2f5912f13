/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package wire2 is the HTTP/2 TransportCodec: it drives
// golang.org/x/net/http2's Server over an already ALPN-negotiated
// net.Conn, translates each stream's *http.Request into the same
// assembler.Head/BodyChunk/End event sequence wire1 drives off raw
// bytes, and writes the Responder's reply back through a respwriter.Sink
// built over http.ResponseWriter. It is the http2-native rendering of
// conn.go's serve() loop: where wire1 owns framing and buffering itself,
// wire2 delegates those to x/net/http2 and only supplies the
// request/response translation and the per-connection open-stream
// accounting conn.go's own numcalls-free goroutine-per-request model
// doesn't need but a multiplexed transport does.
package wire2

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/http2"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/connhandler"
	"github.com/badu/httpcore/h2tracker"
)

const bodyReadBufferSize = 4096

// Metrics is the subset of httpcore.MetricsRegistry wire2 reports
// through; a concrete Registry satisfies this structurally, so the root
// package can pass its own MetricsRegistry value straight through.
type Metrics interface {
	connhandler.Metrics
	StreamOpened()
	StreamClosed()
	SetStreamingBufferedBytes(n uint64)
}

// Config is wire2's connection-level configuration, the HTTP/2 sibling
// of wire1.Config. It stays a package-local struct rather than importing
// the root httpcore package to avoid an import cycle (httpcore imports
// wire2, not the other way around).
type Config struct {
	ServerName             string
	MaxUploadSize          uint64
	MaxStreamingBufferSize uint64
	MaxConcurrentStreams   uint32

	// IdleTimeout bounds how long a connection may sit with no open stream
	// before x/net/http2's own Server closes it - the HTTP/2 sibling of
	// wire1.IdleTimeouts.ReadTimeout, since http2.Server exposes only one
	// combined idle duration rather than separate read/write halves.
	IdleTimeout time.Duration

	OutboundHeaderValidation bool
}

// Conn is a TrackedConn driving one HTTP/2 connection. It satisfies
// lifecycle.TrackedConn and lifecycle.Quiescer.
type Conn struct {
	netConn   net.Conn
	cfg       Config
	responder connhandler.Responder
	logger    zerolog.Logger
	tracer    trace.Tracer
	metrics   Metrics

	h2      *http2.Server
	tracker *h2tracker.Tracker
}

// NewConn returns a Conn ready to Serve netConn, which must already have
// completed TLS and ALPN negotiation down to "h2" - the secure-upgrade
// dispatch spec.md's ChannelInitializer performs before handing off to
// either this package or wire1.
func NewConn(netConn net.Conn, cfg Config, responder connhandler.Responder, logger zerolog.Logger, tracer trace.Tracer, metrics Metrics) *Conn {
	c := &Conn{
		netConn:   netConn,
		cfg:       cfg,
		responder: responder,
		logger:    logger,
		tracer:    tracer,
		metrics:   metrics,
		h2:        &http2.Server{MaxConcurrentStreams: cfg.MaxConcurrentStreams, IdleTimeout: cfg.IdleTimeout},
	}
	c.tracker = h2tracker.New(func() { netConn.Close() })
	c.tracker.Tracer = tracer
	return c
}

// Idle reports whether this connection currently has no open stream.
func (c *Conn) Idle() bool { return c.tracker.OpenCount() == 0 }

// Close forcibly terminates the underlying connection.
func (c *Conn) Close() error { return c.netConn.Close() }

// Quiesce marks the connection to close once every open stream finishes
// (or immediately, if none is open). The close itself, when it happens,
// runs through the Tracker's onClose callback rather than a synchronous
// return here, since an HTTP/2 connection's readiness to close is an
// event (last stream closed), not a point-in-time check.
func (c *Conn) Quiesce() (closeNow bool) {
	c.tracker.Quiesce()
	return false
}

// Serve runs golang.org/x/net/http2's Server loop for this connection's
// entire lifetime, translating each stream through ServeHTTP.
func (c *Conn) Serve(ctx context.Context) error {
	defer c.netConn.Close()
	c.h2.ServeConn(c.netConn, &http2.ServeConnOpts{
		Context: ctx,
		Handler: http.HandlerFunc(c.serveHTTP),
	})
	return nil
}

// serveHTTP is the http.Handler golang.org/x/net/http2 invokes once per
// stream, on a goroutine of its own - the HTTP/2 transport's equivalent
// of wire1's one-goroutine-per-connection binding, except here it's one
// goroutine per stream since streams are independently multiplexed.
func (c *Conn) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if c.tracer != nil {
		ctx, span := c.tracer.Start(r.Context(), "httpcore.h2stream")
		defer span.End()
		r = r.WithContext(ctx)
	}
	c.tracker.StreamCreated()
	if c.metrics != nil {
		c.metrics.StreamOpened()
	}
	defer func() {
		c.tracker.StreamClosed()
		if c.metrics != nil {
			c.metrics.StreamClosed()
		}
	}()

	head := headFromRequest(r)

	asm := assembler.New(c.cfg.MaxUploadSize, func(max uint64) assembler.Streamer {
		return newBackpressureStream(max, c.cfg.MaxStreamingBufferSize, c.metrics)
	})
	handler := &connhandler.Handler{
		Assembler:               asm,
		Responder:               c.responder,
		Sink:                    newSink(w),
		ServerName:              c.cfg.ServerName,
		Logger:                  c.logger,
		Tracer:                  c.tracer,
		Metrics:                 c.metrics,
		ValidateOutboundHeaders: c.cfg.OutboundHeaderValidation,
	}

	if err := asm.Head(head); err != nil {
		asm.Fail(err)
		req := &assembler.Request{Head: head, Body: assembler.EmptyBody{}}
		_, _ = handler.HandleRequest(r.Context(), req, nil, true)
		return
	}

	if head.HasUnrecognizedExpectation() {
		w.WriteHeader(http.StatusExpectationFailed)
		return
	}

	c.pumpBody(r.Context(), asm, handler, r.Body)
}

// pumpBody reads r.Body in bodyReadBufferSize chunks, feeding
// assembler.BodyChunk exactly the way wire1's serveRequestWithBody feeds
// bytes read off the wire, preserving the same buffered-to-streamed
// promotion semantics even though http2.Server already framed the body
// for us. 100-continue needs no explicit emission here: x/net/http2's
// Server transparently sends the interim response on the stream's first
// Body.Read when the client set Expect: 100-continue, before this call
// ever observes a byte.
func (c *Conn) pumpBody(ctx context.Context, asm *assembler.Assembler, handler *connhandler.Handler, body io.ReadCloser) {
	var (
		launched bool
		resultCh = make(chan error, 1)
		bps      *backpressureStream
	)
	launch := func(req *assembler.Request) {
		launched = true
		stream := reqStreamOf(req)
		go func() {
			_, err := handler.HandleRequest(ctx, req, stream, true)
			resultCh <- err
		}()
	}

	buf := make([]byte, bodyReadBufferSize)
	for {
		if bps != nil {
			if err := bps.waitForRoom(ctx); err != nil {
				asm.Fail(err)
				if launched {
					<-resultCh
				}
				return
			}
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			req, aerr := asm.BodyChunk(buf[:n])
			if aerr != nil {
				asm.Fail(aerr)
				if launched {
					<-resultCh
				}
				return
			}
			if req != nil {
				launch(req)
				if sb, ok := req.Body.(assembler.StreamedBody); ok {
					bps, _ = sb.Stream.(*backpressureStream)
				}
			}
			if bps != nil {
				bps.report()
			}
		}

		if rerr != nil {
			if rerr != io.EOF {
				asm.Fail(rerr)
				if launched {
					<-resultCh
				}
				return
			}
			req, aerr := asm.End()
			if aerr != nil {
				asm.Fail(aerr)
			}
			if req != nil {
				_, _ = handler.HandleRequest(ctx, req, nil, true)
				return
			}
			if launched {
				<-resultCh
			}
			return
		}
	}
}
