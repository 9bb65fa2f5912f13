/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package assembler turns the codec's head/bodyChunk/end event stream into
// HTTPRequest values, promoting a request's body from buffered to streamed
// the moment a second body chunk arrives. It is the per-connection
// counterpart of conn.go's readRequest/serve head-validation block: where
// the teacher built one *Request per readRequest call directly off a
// textproto-parsed head, this package assumes the head is already parsed
// and only assembles the body, so it can sit behind any codec.
package assembler

import (
	"context"
	"strings"
	"time"

	"github.com/badu/httpcore/hdr"
)

// Head is the parsed request line and header block a codec hands to
// Assembler.Head. It carries just enough for the core to validate and
// route a request without re-parsing anything codec-specific.
type Head struct {
	Method        string
	RequestURI    string
	Proto         string
	ProtoMajor    int
	ProtoMinor    int
	Header        hdr.Header
	ContentLength int64 // -1 means unknown (chunked/unspecified), 0 means none
	Host          string
	RemoteAddr    string
	ReceivedAt    time.Time
}

// ProtoAtLeast reports whether the request's HTTP version is at least
// major.minor, mirroring net/http's Request.ProtoAtLeast.
func (h Head) ProtoAtLeast(major, minor int) bool {
	return h.ProtoMajor > major || (h.ProtoMajor == major && h.ProtoMinor >= minor)
}

// ExpectsContinue reports whether the client sent Expect: 100-continue.
func (h Head) ExpectsContinue() bool {
	return hdr.TrimString(h.Header.Get(hdr.Expect)) == "100-continue"
}

// HasUnrecognizedExpectation reports whether the client set an Expect
// header that isn't the 100-continue form this core understands.
func (h Head) HasUnrecognizedExpectation() bool {
	v := h.Header.Get(hdr.Expect)
	return v != "" && hdr.TrimString(v) != "100-continue"
}

// IsKeepAlive reports whether this request keeps the connection open for
// another request, following the same HTTP/1.0-vs-1.1 default-flip
// conn.go's wantsHttp10KeepAlive/wantsClose pair encodes: HTTP/1.1
// defaults to keep-alive unless Connection: close is present; HTTP/1.0
// defaults to close unless Connection: keep-alive is present.
func (h Head) IsKeepAlive() bool {
	hasClose := tokenListContains(h.Header.Get(hdr.Connection), "close")
	if hasClose {
		return false
	}
	if h.ProtoAtLeast(1, 1) {
		return true
	}
	return tokenListContains(h.Header.Get(hdr.Connection), "keep-alive")
}

func tokenListContains(list, token string) bool {
	for _, part := range splitComma(list) {
		if strings.EqualFold(hdr.TrimString(part), token) {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

// Body is the sealed RequestBody sum type: exactly one of BufferedBody,
// StreamedBody, or EmptyBody.
type Body interface {
	isRequestBody()
}

// BufferedBody is a request body that arrived as a single chunk
// and was fully materialized without ever allocating a Streamer.
type BufferedBody []byte

func (BufferedBody) isRequestBody() {}

// StreamedBody is a request body promoted to streaming because a second
// body chunk arrived before the first one's consumer saw an end event.
type StreamedBody struct {
	Stream Streamer
}

func (StreamedBody) isRequestBody() {}

// EmptyBody marks a request that never carried a body at all.
type EmptyBody struct{}

func (EmptyBody) isRequestBody() {}

// Streamer is the subset of streambody.Streamer's surface the assembler
// depends on; kept as an interface here so assembler doesn't import
// streambody's concrete type and so tests can substitute a fake.
type Streamer interface {
	Feed(buf []byte)
	FeedEnd()
	FeedError(err error)
	BufferedSize() uint64
	Drop()
	Drained() bool

	// Next delivers the stream's next chunk to a consumer (the Responder),
	// blocking until data, the terminal marker, or ctx cancellation. It's
	// named and shaped independently of streambody.Chunk so this interface
	// never needs to import streambody's concrete type.
	Next(ctx context.Context) (data []byte, end bool, err error)
}

// Request is the HTTPRequest entity: a parsed head paired with a body of
// one of the three shapes above.
type Request struct {
	Head Head
	Body Body
}
