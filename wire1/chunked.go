/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire1

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/textproto"

	"github.com/badu/httpcore/hdr"
)

// maxLineLength and errLineTooLong bound a chunk-size line the way
// utils_chunks.go's readChunkLine does, guarding against a peer that
// never sends a newline.
const maxLineLength = 4096

var errLineTooLong = errors.New("wire1: chunk header line too long")

// chunkedReader decodes an HTTP/1.1 chunked transfer-coded body, the
// wire1 rendering of utils_chunks.go's readChunkLine/parseHexUint pair
// plus the trailer-reading tail end utils_transfer.go's transferReader
// does after the final 0-length chunk.
type chunkedReader struct {
	br   *bufio.Reader
	n    uint64 // bytes remaining in the current chunk
	err  error
	done bool
}

func newChunkedReader(br *bufio.Reader) *chunkedReader {
	return &chunkedReader{br: br}
}

// next reads one chunk's worth of data (not exceeding len(buf)) or the
// trailer once the 0-length terminator chunk is seen. It returns io.EOF,
// together with the trailer, once the trailer has been fully consumed;
// every later call returns (0, io.EOF) with no trailer.
func (c *chunkedReader) next(buf []byte) (n int, trailer hdr.Header, err error) {
	if c.err != nil {
		return 0, nil, c.err
	}
	if c.done {
		return 0, nil, io.EOF
	}
	if c.n == 0 {
		size, lineErr := c.beginChunk()
		if lineErr != nil {
			c.err = lineErr
			return 0, nil, lineErr
		}
		if size == 0 {
			trailer, err = c.readTrailer()
			c.done = true
			if err != nil {
				c.err = err
				return 0, nil, err
			}
			return 0, trailer, io.EOF
		}
		c.n = size
	}

	if uint64(len(buf)) > c.n {
		buf = buf[:c.n]
	}
	n, rerr := c.br.Read(buf)
	c.n -= uint64(n)
	if rerr != nil && rerr != io.EOF {
		c.err = rerr
		return n, nil, rerr
	}
	if c.n == 0 {
		if err := c.consumeChunkCRLF(); err != nil {
			c.err = err
			return n, nil, err
		}
	}
	return n, nil, nil
}

func (c *chunkedReader) beginChunk() (uint64, error) {
	line, err := c.readChunkLine()
	if err != nil {
		return 0, err
	}
	return parseHexUint(line)
}

// readChunkLine reads one CRLF-terminated line and strips any
// chunk-extension, the direct adaptation of utils_chunks.go's
// readChunkLine/removeChunkExtension pair.
func (c *chunkedReader) readChunkLine() ([]byte, error) {
	p, err := c.br.ReadSlice('\n')
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		} else if err == bufio.ErrBufferFull {
			err = errLineTooLong
		}
		return nil, err
	}
	if len(p) >= maxLineLength {
		return nil, errLineTooLong
	}
	p = trimTrailingWhitespace(p)
	if semi := bytes.IndexByte(p, ';'); semi != -1 {
		p = p[:semi]
	}
	return p, nil
}

func (c *chunkedReader) consumeChunkCRLF() error {
	buf := make([]byte, 2)
	_, err := io.ReadFull(c.br, buf)
	if err != nil {
		return err
	}
	if buf[0] != '\r' || buf[1] != '\n' {
		return errors.New("wire1: malformed chunk trailing CRLF")
	}
	return nil
}

func (c *chunkedReader) readTrailer() (hdr.Header, error) {
	tp := textproto.NewReader(c.br)
	mh, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(mh) == 0 {
		return nil, nil
	}
	h := make(hdr.Header, len(mh))
	for k, vv := range mh {
		h[hdr.CanonicalHeaderKey(k)] = vv
	}
	return h, nil
}

func trimTrailingWhitespace(b []byte) []byte {
	for len(b) > 0 && isASCIISpace(b[len(b)-1]) {
		b = b[:len(b)-1]
	}
	return b
}

func isASCIISpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// parseHexUint parses a hex chunk-size line, byte-for-byte the algorithm
// in utils_chunks.go's parseHexUint.
func parseHexUint(v []byte) (uint64, error) {
	if len(v) == 0 {
		return 0, errors.New("wire1: empty chunk length")
	}
	var n uint64
	for i, b := range v {
		var digit byte
		switch {
		case '0' <= b && b <= '9':
			digit = b - '0'
		case 'a' <= b && b <= 'f':
			digit = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			digit = b - 'A' + 10
		default:
			return 0, errors.New("wire1: invalid byte in chunk length")
		}
		if i == 16 {
			return 0, errors.New("wire1: chunk length too large")
		}
		n <<= 4
		n |= uint64(digit)
	}
	return n, nil
}
