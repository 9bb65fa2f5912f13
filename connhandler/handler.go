/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package connhandler glues RequestAssembler, responder invocation, and
// ResponseWriter together, the rendering of conn.go's serve() for-loop
// body (readRequest, dispatch to serverHandler, finishRequest,
// shouldReuseConnection) generalized away from the teacher's bufio-backed
// *conn so it sits behind any codec's Sink/event adapter.
package connhandler

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/coreerr"
	"github.com/badu/httpcore/respwriter"
)

// StreamerProducer adapts a promoted request's Streamer into a
// respwriter.Producer, the glue a proxy-shaped Responder uses to pipe an
// inbound streamed body straight through to an outbound streamed response
// without buffering it first.
type StreamerProducer struct {
	Stream assembler.Streamer
}

// Next implements respwriter.Producer.
func (p StreamerProducer) Next(ctx context.Context) (respwriter.Chunk, error) {
	data, end, err := p.Stream.Next(ctx)
	return respwriter.Chunk{Data: data, End: end}, err
}

// Responder is the collaborator that turns a Request into a Response,
// the core's rendering of spec's "respond(request, context, onComplete)"
// contract. The context passed to Respond carries whatever deadline or
// cancellation the connection's quiesce/half-close signal demands.
type Responder interface {
	Respond(ctx context.Context, req *assembler.Request) (*respwriter.Response, error)
}

// Metrics is the optional Prometheus surface connhandler reports
// in-flight request counts through; nil-safe, every method is a no-op
// when Metrics itself is nil.
type Metrics interface {
	RequestStarted()
	RequestFinished()
}

// Handler is the ConnectionHandler: per-connection glue holding the
// fields spec names explicitly (requestsInProgress,
// closeAfterResponseWritten, propagatedError via its Assembler) plus the
// collaborators needed to carry a request from assembly through response
// write.
type Handler struct {
	Assembler  *assembler.Assembler
	Responder  Responder
	Sink       respwriter.Sink
	ServerName string
	Logger     zerolog.Logger
	Tracer     trace.Tracer
	Metrics    Metrics
	// ValidateOutboundHeaders mirrors ServerConfig.OutboundHeaderValidation
	// down to the respwriter.Writer call that actually emits headers.
	ValidateOutboundHeaders bool

	requestsInProgress        int32
	closeAfterResponseWritten atomic.Bool
}

// RequestsInProgress reports the current in-flight request count.
func (h *Handler) RequestsInProgress() int32 {
	return atomic.LoadInt32(&h.requestsInProgress)
}

// HalfClose and Quiesce implement the design's rule: if a request is
// in-flight, defer the close until that response is written; otherwise
// the caller should close immediately (reported via the bool return).
func (h *Handler) HalfClose() (closeNow bool) {
	return h.requestClosePolicy()
}

func (h *Handler) Quiesce() (closeNow bool) {
	return h.requestClosePolicy()
}

func (h *Handler) requestClosePolicy() (closeNow bool) {
	if atomic.LoadInt32(&h.requestsInProgress) > 0 {
		h.closeAfterResponseWritten.Store(true)
		return false
	}
	return true
}

// HandleRequest runs one full request cycle: propagated-error synthesis,
// responder invocation, keep-alive computation, and response write. It
// returns whether the connection must close after this response.
func (h *Handler) HandleRequest(ctx context.Context, req *assembler.Request, reqStream respwriter.RequestStreamer, continueSent bool) (closeConn bool, err error) {
	if propagated := h.Assembler.PropagatedError(); propagated != nil {
		resp := h.errorResponse(propagated)
		return h.write(ctx, resp, req, reqStream, false, continueSent)
	}

	atomic.AddInt32(&h.requestsInProgress, 1)
	if h.Metrics != nil {
		h.Metrics.RequestStarted()
	}
	wasFirstInFlight := atomic.LoadInt32(&h.requestsInProgress) == 1

	var span trace.Span
	if h.Tracer != nil {
		ctx, span = h.Tracer.Start(ctx, "httpcore.respond",
			trace.WithAttributes(attribute.String("http.method", req.Head.Method), attribute.String("http.target", req.Head.RequestURI)))
	}

	resp, respErr := h.Responder.Respond(ctx, req)

	if span != nil {
		if respErr != nil {
			span.SetStatus(codes.Error, respErr.Error())
		}
		span.End()
	}

	if respErr != nil {
		var rb coreerr.ResponseBearing
		if !errors.As(respErr, &rb) {
			h.Logger.Info().Err(respErr).Str("method", req.Head.Method).Str("uri", req.Head.RequestURI).Msg("responder error")
		}
		resp = h.errorResponse(&coreerr.ResponderError{Err: respErr})
	}

	keepAlive := req.Head.IsKeepAlive() && !(h.closeAfterResponseWritten.Load() && wasFirstInFlight)

	closeConn, werr := h.write(ctx, resp, req, reqStream, keepAlive, continueSent)

	atomic.AddInt32(&h.requestsInProgress, -1)
	if h.Metrics != nil {
		h.Metrics.RequestFinished()
	}
	return closeConn, werr
}

func (h *Handler) write(ctx context.Context, resp *respwriter.Response, req *assembler.Request, reqStream respwriter.RequestStreamer, keepAlive, continueSent bool) (bool, error) {
	info := respwriter.RequestInfo{
		Method:          req.Head.Method,
		ProtoAtLeast11:  req.Head.ProtoAtLeast(1, 1),
		ExpectsContinue: req.Head.ExpectsContinue(),
		ContinueSent:    continueSent,
	}
	return respwriter.Writer{}.Write(ctx, h.Sink, resp, info, reqStream, respwriter.Options{
		ServerName:      h.ServerName,
		KeepAlive:       keepAlive,
		ValidateHeaders: h.ValidateOutboundHeaders,
	})
}

// errorResponse converts a propagated or responder error into an
// HTTPResponse, per spec's "response-bearing" contract rule: errors that
// carry their own status/body (also when wrapped) are used directly
// (logged at debug); a bad request becomes a 400, a PayloadTooLargeError a
// 413, and everything else a 500 (logged at info, already done by the
// caller for responder errors).
func (h *Handler) errorResponse(err error) *respwriter.Response {
	var rb coreerr.ResponseBearing
	if errors.As(err, &rb) {
		h.Logger.Debug().Err(rb).Msg("response-bearing error")
		return &respwriter.Response{
			Head: respwriter.Head{Status: rb.HTTPStatus(), Header: make(map[string][]string)},
			Body: respwriter.BufferedBody(rb.HTTPBody()),
		}
	}
	status := 500
	if assembler.IsBadRequest(err) {
		status = 400
	}
	if _, ok := err.(*coreerr.PayloadTooLargeError); ok {
		status = 413
	}
	return &respwriter.Response{
		Head: respwriter.Head{Status: status, Header: make(map[string][]string)},
		Body: respwriter.EmptyBody{},
	}
}
