/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire2

import (
	"net/http"
	"strings"

	"github.com/badu/httpcore/hdr"
)

// sink adapts an http.ResponseWriter (as golang.org/x/net/http2's Server
// hands to a stream's Handler) into a respwriter.Sink, the rendering of
// chunk_writer.go's writeHeader/Write pair for a transport that already
// does its own framing and flow control. Unlike wire1's sink it never
// needs to compute Content-Length-vs-chunked framing itself - http2
// frames a DATA stream regardless - so it only copies headers and writes
// bytes, plus trailers via the http.TrailerPrefix convention.
type sink struct {
	w http.ResponseWriter
}

func newSink(w http.ResponseWriter) *sink {
	return &sink{w: w}
}

// WriteHead copies header onto the ResponseWriter and commits status.
// Connection and Transfer-Encoding are connection-specific headers RFC
// 7540 §8.1.2.2 forbids in HTTP/2; respwriter.Writer sets Connection
// unconditionally for any request at HTTP/1.1 semantics or later (which
// an HTTP/2 request satisfies), so this is where that header gets
// stripped rather than teaching respwriter.Writer about per-codec rules.
func (s *sink) WriteHead(status int, header hdr.Header) error {
	dst := s.w.Header()
	for k, vv := range header {
		if strings.EqualFold(k, hdr.Connection) || strings.EqualFold(k, hdr.TransferEncoding) {
			continue
		}
		dst[k] = vv
	}
	s.w.WriteHeader(status)
	return nil
}

// WriteBodyPart writes and flushes one body part, so a streamed response
// reaches the peer as separate DATA frames instead of being buffered
// until the handler returns.
func (s *sink) WriteBodyPart(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.w.Write(p)
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
	return err
}

// WriteEnd sets trailer values via the http.TrailerPrefix convention,
// the only way to emit trailers after the header block has already been
// sent to a ResponseWriter.
func (s *sink) WriteEnd(trailer hdr.Header) error {
	for k, vv := range trailer {
		for _, v := range vv {
			s.w.Header().Add(http.TrailerPrefix+k, v)
		}
	}
	return nil
}

// CloseWrite aborts the stream abruptly via the sentinel net/http (and,
// transitively, golang.org/x/net/http2) recovers from a handler goroutine
// without logging a stack trace, resetting the stream instead of sending
// a well-formed response.
func (s *sink) CloseWrite() error {
	panic(http.ErrAbortHandler)
}
