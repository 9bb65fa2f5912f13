/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire1

import (
	"bufio"
	"fmt"
	"net"
	"strconv"

	"github.com/badu/httpcore/hdr"
)

// statusText is the minimal reason-phrase table this core needs; a full
// table lives in net/http, but this core has no dependency on net/http
// and the wire format only requires a non-empty phrase.
var statusText = map[int]string{
	100: "Continue", 101: "Switching Protocols",
	200: "OK", 201: "Created", 202: "Accepted", 204: "No Content",
	301: "Moved Permanently", 302: "Found", 304: "Not Modified",
	400: "Bad Request", 401: "Unauthorized", 403: "Forbidden", 404: "Not Found",
	405: "Method Not Allowed", 408: "Request Timeout", 413: "Payload Too Large",
	417: "Expectation Failed", 500: "Internal Server Error",
	501: "Not Implemented", 503: "Service Unavailable",
}

func reasonPhrase(status int) string {
	if t, ok := statusText[status]; ok {
		return t
	}
	return "Status " + strconv.Itoa(status)
}

// crlf is written so often it earns a package-level constant, matching
// chunk_writer.go's CrLf.
var crlf = []byte("\r\n")

// sink is the respwriter.Sink for one HTTP/1.1 response, the wire1
// rendering of chunk_writer.go's Write/flush/close trio generalized away
// from a concrete *conn. Chunked framing is decided once, in WriteHead,
// from whether the header names Transfer-Encoding: chunked - respwriter
// already set that header for StreamedBody before calling WriteHead.
// HEAD-request body suppression is respwriter.Writer's job, not this
// sink's - it never calls WriteBodyPart for a HEAD response.
type sink struct {
	bw       *bufio.Writer
	conn     net.Conn
	proto    string
	chunking bool
}

func newSink(bw *bufio.Writer, conn net.Conn, proto string) *sink {
	return &sink{bw: bw, conn: conn, proto: proto}
}

// WriteHead implements respwriter.Sink.
func (s *sink) WriteHead(status int, header hdr.Header) error {
	s.chunking = hdr.TrimString(header.Get(hdr.TransferEncoding)) == "chunked"

	if _, err := fmt.Fprintf(s.bw, "%s %d %s\r\n", s.proto, status, reasonPhrase(status)); err != nil {
		return s.fail(err)
	}
	if err := header.Write(s.bw); err != nil {
		return s.fail(err)
	}
	if _, err := s.bw.Write(crlf); err != nil {
		return s.fail(err)
	}
	return nil
}

// WriteBodyPart implements respwriter.Sink.
func (s *sink) WriteBodyPart(p []byte) error {
	if s.chunking {
		if _, err := fmt.Fprintf(s.bw, "%x\r\n", len(p)); err != nil {
			return s.fail(err)
		}
		if _, err := s.bw.Write(p); err != nil {
			return s.fail(err)
		}
		if _, err := s.bw.Write(crlf); err != nil {
			return s.fail(err)
		}
		return nil
	}
	if _, err := s.bw.Write(p); err != nil {
		return s.fail(err)
	}
	return nil
}

// WriteEnd implements respwriter.Sink. For a chunked body it writes the
// zero-length terminator chunk and any trailer, matching
// chunk_writer.go's close(). For a fixed-length or empty body it's a
// pure flush point.
func (s *sink) WriteEnd(trailer hdr.Header) error {
	if s.chunking {
		if _, err := s.bw.WriteString("0\r\n"); err != nil {
			return s.fail(err)
		}
		if trailer != nil {
			if err := trailer.Write(s.bw); err != nil {
				return s.fail(err)
			}
		}
		if _, err := s.bw.Write(crlf); err != nil {
			return s.fail(err)
		}
	}
	if err := s.bw.Flush(); err != nil {
		return s.fail(err)
	}
	return nil
}

// CloseWrite implements respwriter.Sink: a streamed response body
// errored after headers were already flushed, so the only remaining
// option is to close the transport, matching response_server.go's
// handling of a write error mid-response.
func (s *sink) CloseWrite() error {
	return s.conn.Close()
}

func (s *sink) fail(err error) error {
	s.conn.Close()
	return err
}
