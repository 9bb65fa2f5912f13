/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr carries the Header type and wire-format helpers the core
// needs on both the request-validation side (the assembler package) and
// the response-writing side (the respwriter package). It does not parse
// raw bytes into headers - that's the assumed codec's job - it only
// validates and serializes key/value pairs the codec already split out.
package hdr

import (
	"io"
	"strings"
	"sync"
	"time"
)

const (
	toLower = 'a' - 'A'

	Accept           = "Accept"
	AcceptEncoding   = "Accept-Encoding"
	CacheControl     = "Cache-Control"
	Connection       = "Connection"
	ContentEncoding  = "Content-Encoding"
	ContentLength    = "Content-Length"
	ContentType      = "Content-Type"
	Date             = "Date"
	Expect           = "Expect"
	Host             = "Host"
	ServerHeader     = "Server"
	TransferEncoding = "Transfer-Encoding"
	Trailer          = "Trailer"
	UpgradeHeader    = "Upgrade"
	UserAgent        = "User-Agent"

	// TimeFormat is the time format to use when generating times in HTTP
	// headers. It is like time.RFC1123 but hard-codes GMT as the time zone.
	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	timeFormats = []string{
		TimeFormat,
		time.RFC850,
		time.ANSIC,
	}

	headerNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() interface{} { return new(headerSorter) },
	}

	// commonHeader interns common header strings.
	commonHeader = make(map[string]string)

	// isTokenTable is a copy of net/http/lex.go's isTokenTable.
	// See https://httpwg.github.io/specs/rfc7230.html#rule.token.separators
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,

		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,

		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,

		'!':  true,
		'#':  true,
		'$':  true,
		'%':  true,
		'&':  true,
		'\'': true,
		'*':  true,
		'+':  true,
		'-':  true,
		'.':  true,
		'^':  true,
		'_':  true,
		'`':  true,
		'|':  true,
		'~':  true,
	}
)

type (
	// Header represents the key-value pairs of an HTTP head, either
	// request or response.
	Header map[string][]string

	// @comment : in "strings" package there is the same thing called stringWriterIface
	writeStringer interface {
		WriteString(string) (int, error)
	}

	// @comment : in "strings" package there is something similar called stringWriter
	stringWriter struct {
		w io.Writer
	}

	keyValues struct {
		key    string
		values []string
	}

	// headerSorter implements sort.Interface by sorting a []keyValues by
	// key. It's used as a pointer, so it can fit in a sort.Interface
	// interface value without allocation.
	headerSorter struct {
		kvs []keyValues
	}
)

func init() {
	for _, v := range []string{
		Accept, AcceptEncoding, CacheControl, Connection, ContentEncoding,
		ContentLength, ContentType, Date, Expect, Host, ServerHeader,
		TransferEncoding, Trailer, UpgradeHeader, UserAgent,
	} {
		commonHeader[v] = v
	}
}
