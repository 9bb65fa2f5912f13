/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package respwriter serializes an HTTPResponse over a codec-supplied
// Sink, the rendering of chunk_writer.go's writeHeader/Write/close trio
// generalized away from a concrete bufio-backed *conn so any codec can
// plug in underneath. It owns the same Content-Length/Connection header
// policy chunk_writer.go computes in writeHeader, and the same
// post-response connection disposition response_server.go computes in
// shouldReuseConnection.
package respwriter

import (
	"context"

	"github.com/badu/httpcore/hdr"
)

// Head is the status line and header block a response carries.
type Head struct {
	Status int
	Header hdr.Header
}

// Chunk is one part pulled from a streamed response body producer.
type Chunk struct {
	Data []byte
	End  bool
}

// Producer is the outbound counterpart of a request ByteStreamer: pulled
// from, rather than fed into. Its shape mirrors assembler.Streamer's Next
// method deliberately; connhandler.StreamerProducer adapts one to the
// other so a handler can pipe a request body straight through to a
// response (the common proxy shape) without buffering it.
type Producer interface {
	Next(ctx context.Context) (Chunk, error)
}

// Body is the sealed ResponseBody sum type.
type Body interface {
	isResponseBody()
}

// BufferedBody is a response body that's already fully in memory.
type BufferedBody []byte

func (BufferedBody) isResponseBody() {}

// StreamedBody pulls its body from a Producer, one chunk at a time.
type StreamedBody struct {
	Producer Producer
}

func (StreamedBody) isResponseBody() {}

// EmptyBody marks a response with no body at all.
type EmptyBody struct{}

func (EmptyBody) isResponseBody() {}

// Response is the HTTPResponse entity.
type Response struct {
	Head    Head
	Body    Body
	Trailer hdr.Header // emitted after the last body part: chunked trailer on HTTP/1.1, TrailerPrefix headers on HTTP/2
}

// RequestStreamer is the subset of a request's ByteStreamer the writer
// needs to drop an undrained body after the response completes.
type RequestStreamer interface {
	Drop()
	Drained() bool
}

// Sink is the codec-facing write surface: emit a head, zero or more body
// parts, and a terminal end. A codec implementation decides how these map
// onto wire bytes (chunked framing, HTTP/2 DATA frames, ...); this package
// only decides what to emit and when.
type Sink interface {
	WriteHead(status int, header hdr.Header) error
	WriteBodyPart(p []byte) error
	WriteEnd(trailer hdr.Header) error
	// CloseWrite signals an abrupt stop, used when a streamed body errors
	// mid-response after headers are already flushed.
	CloseWrite() error
}
