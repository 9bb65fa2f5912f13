/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire2

import (
	"net/http"
	"time"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/hdr"
	"github.com/badu/httpcore/respwriter"
)

// headFromRequest builds an assembler.Head from a *http.Request already
// parsed by golang.org/x/net/http2 - this core's rendering of
// readRequest's own request-line-to-Head conversion, minus any wire
// parsing since http2.Server did all of that already.
func headFromRequest(r *http.Request) assembler.Head {
	return assembler.Head{
		Method:        r.Method,
		RequestURI:    r.URL.RequestURI(),
		Proto:         r.Proto,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Header:        hdr.Header(r.Header),
		ContentLength: r.ContentLength,
		Host:          r.Host,
		RemoteAddr:    r.RemoteAddr,
		ReceivedAt:    time.Now(),
	}
}

// reqStreamOf extracts the RequestStreamer respwriter.Writer needs to
// drop an undrained body, mirroring wire1's helper of the same name.
// assembler.Streamer's method set is a superset of RequestStreamer's, so
// no adapter type is needed - Go satisfies the assignment structurally.
func reqStreamOf(req *assembler.Request) respwriter.RequestStreamer {
	if sb, ok := req.Body.(assembler.StreamedBody); ok {
		return sb.Stream
	}
	return nil
}
