/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package respwriter

import (
	"context"
	"strconv"

	"github.com/badu/httpcore/hdr"
)

// RequestInfo carries the bits of the originating request the writer's
// header policy needs, without requiring a dependency on the assembler
// package's Head type.
type RequestInfo struct {
	Method          string
	ProtoAtLeast11  bool
	ExpectsContinue bool
	ContinueSent    bool
}

// Options configures one Write call.
type Options struct {
	ServerName string
	// KeepAlive is the keepAlive value connhandler computed in step 4 of
	// its per-request glue; Write only decides how to express it on the
	// wire, it never second-guesses it except for the forced-close cases
	// chunk_writer.go itself forces (see Write's doc).
	KeepAlive bool
	// ValidateHeaders, when true, strips any outbound header name/value
	// that fails hdr.ValidHeaderFieldName/ValidHeaderFieldValue before
	// the head is written, instead of letting a Responder-supplied
	// header corrupt the wire - the outbound counterpart of the same
	// validation assembler.Head already applies to inbound headers.
	ValidateHeaders bool
}

// sanitizeHeader drops any header name or value that doesn't satisfy the
// token/field-value grammar, in place.
func sanitizeHeader(header hdr.Header) {
	for k, vv := range header {
		if !hdr.ValidHeaderFieldName(k) {
			header.Del(k)
			continue
		}
		kept := vv[:0]
		for _, v := range vv {
			if hdr.ValidHeaderFieldValue(v) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			header.Del(k)
		} else {
			header[k] = kept
		}
	}
}

// Writer is the ResponseWriter: serializes one Response at a time onto a
// Sink, in order, matching the ordering guarantee that all writes for one
// response happen before any write of the next response on the same
// connection - trivially true here since Write blocks until done.
type Writer struct{}

// Write serializes resp onto sink. It returns the connection disposition:
// closeConn is true if the connection must not be reused for another
// request, mirroring response_server.go's shouldReuseConnection plus
// chunk_writer.go's writeHeader forced-close cases.
func (Writer) Write(ctx context.Context, sink Sink, resp *Response, req RequestInfo, reqStream RequestStreamer, opt Options) (closeConn bool, err error) {
	header := resp.Head.Header
	if header == nil {
		header = make(hdr.Header)
	}

	if opt.ServerName != "" && header.Get(hdr.ServerHeader) == "" {
		header.Set(hdr.ServerHeader, opt.ServerName)
	}

	if opt.ValidateHeaders {
		sanitizeHeader(header)
	}

	isHEAD := req.Method == "HEAD"

	switch body := resp.Body.(type) {
	case BufferedBody:
		if header.Get(hdr.ContentLength) == "" {
			header.Set(hdr.ContentLength, strconv.Itoa(len(body)))
		}
	case EmptyBody:
		if header.Get(hdr.ContentLength) == "" && !isHEAD {
			header.Set(hdr.ContentLength, "0")
		}
	case StreamedBody:
		header.Del(hdr.ContentLength)
		header.Set(hdr.TransferEncoding, "chunked")
	}

	// req.ExpectsContinue && !req.ContinueSent means the client asked for
	// 100-continue but the handler never read the body far enough to
	// trigger it; the request body's state is now ambiguous on the wire,
	// so this connection can't be trusted for a next request - matching
	// chunk_writer.go's expectContinueReader.sawEOF check.
	forceClose := req.ExpectsContinue && !req.ContinueSent

	keepAlive := opt.KeepAlive && !forceClose
	if req.ProtoAtLeast11 {
		if keepAlive {
			header.Set(hdr.Connection, "keep-alive")
		} else {
			header.Set(hdr.Connection, "close")
		}
	}

	if err := sink.WriteHead(resp.Head.Status, header); err != nil {
		return true, err
	}

	switch body := resp.Body.(type) {
	case BufferedBody:
		if !isHEAD {
			if err := sink.WriteBodyPart(body); err != nil {
				return true, err
			}
		}
		if err := sink.WriteEnd(nil); err != nil {
			return true, err
		}
	case EmptyBody:
		if err := sink.WriteEnd(nil); err != nil {
			return true, err
		}
	case StreamedBody:
		for {
			c, err := body.Producer.Next(ctx)
			if err != nil {
				sink.WriteEnd(nil)
				sink.CloseWrite()
				return true, err
			}
			if c.End {
				break
			}
			if !isHEAD {
				if err := sink.WriteBodyPart(c.Data); err != nil {
					return true, err
				}
			}
		}
		if err := sink.WriteEnd(resp.Trailer); err != nil {
			return true, err
		}
	}

	if reqStream != nil && !reqStream.Drained() {
		reqStream.Drop()
	}

	return !keepAlive, nil
}
