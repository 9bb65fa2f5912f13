/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire1

import (
	"bufio"
	"errors"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/hdr"
)

// errBadRequestLine, errBadHTTPVersion and errUnsupportedVer mirror the
// teacher's badStringError shape for the three ways a request line can be
// rejected, kept as sentinels here since this package has no reason for a
// typed error like assembler's badRequestError - the caller treats every
// parse failure alike (a 400 when HTTPErrorHandling is set, then close).
var (
	errBadRequestLine = errors.New("wire1: malformed request line")
	errBadHTTPVersion = errors.New("wire1: malformed HTTP version")
	errUnsupportedVer = errors.New("wire1: unsupported HTTP version")
)

// readHead parses the request line and MIME header block off br into an
// assembler.Head, the wire1 rendering of utils_request.go's readRequest
// minus body materialization (the body is a separate, lazy phase here).
func readHead(br *bufio.Reader, remoteAddr string) (assembler.Head, error) {
	tp := textproto.NewReader(br)
	line, err := tp.ReadLine()
	if err != nil {
		return assembler.Head{}, err
	}

	method, requestURI, proto, ok := parseRequestLine(line)
	if !ok {
		return assembler.Head{}, errBadRequestLine
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return assembler.Head{}, errBadHTTPVersion
	}
	if major != 1 {
		return assembler.Head{}, errUnsupportedVer
	}

	mh, err := tp.ReadMIMEHeader()
	if err != nil && len(mh) == 0 {
		return assembler.Head{}, err
	}

	header := make(hdr.Header, len(mh))
	for k, vv := range mh {
		header[hdr.CanonicalHeaderKey(k)] = vv
	}

	host := header.Get(hdr.Host)
	header.Del(hdr.Host)

	return assembler.Head{
		Method:        method,
		RequestURI:    requestURI,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        header,
		ContentLength: parseContentLength(header),
		Host:          host,
		RemoteAddr:    remoteAddr,
		ReceivedAt:    time.Now(),
	}, nil
}

// parseRequestLine parses "GET /foo HTTP/1.1" into its three parts,
// byte-for-byte the algorithm in utils_request.go's parseRequestLine.
func parseRequestLine(line string) (method, requestURI, proto string, ok bool) {
	s1 := strings.Index(line, " ")
	if s1 < 0 {
		return "", "", "", false
	}
	s2 := strings.Index(line[s1+1:], " ")
	if s2 < 0 {
		return "", "", "", false
	}
	s2 += s1 + 1
	return line[:s1], line[s1+1 : s2], line[s2+1:], true
}

// parseHTTPVersion parses "HTTP/1.1" into (1, 1, true), the same shape as
// the teacher's ParseHTTPVersion.
func parseHTTPVersion(vers string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(vers, prefix) {
		return 0, 0, false
	}
	rest := vers[len(prefix):]
	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err := strconv.Atoi(rest[:dot])
	if err != nil || maj < 0 {
		return 0, 0, false
	}
	min, err := strconv.Atoi(rest[dot+1:])
	if err != nil || min < 0 {
		return 0, 0, false
	}
	return maj, min, true
}

// parseContentLength returns -1 when the length is unspecified or the
// body is chunked, matching assembler.Head.ContentLength's documented
// convention.
func parseContentLength(header hdr.Header) int64 {
	if isChunked(header) {
		return -1
	}
	v := header.Get(hdr.ContentLength)
	if v == "" {
		return -1
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// isChunked reports whether Transfer-Encoding is exactly chunked (the only
// coding this core decodes); a list naming other codings as well, such as
// "gzip, chunked", is not recognized as chunked.
func isChunked(header hdr.Header) bool {
	te := header.Get(hdr.TransferEncoding)
	return strings.EqualFold(strings.TrimSpace(te), "chunked")
}
