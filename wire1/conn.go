/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package wire1 is the HTTP/1.1 codec: it turns a net.Conn into the
// head/bodyChunk/end event stream assembler.Assembler expects, and
// implements respwriter.Sink to turn an HTTPResponse back into bytes.
// It is the wire1 rendering of conn.go's serve() loop, split across
// readHead (utils_request.go), chunkedReader (utils_chunks.go) and sink
// (chunk_writer.go) the way the rest of this core splits conn.go's
// responsibilities into standalone collaborators.
package wire1

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/connhandler"
	"github.com/badu/httpcore/respwriter"
)

// bodyReadBufferSize matches the teacher's bufio.Reader default; large
// enough to keep the syscall count down without holding an outsized
// buffer per idle connection.
const bodyReadBufferSize = 4096

// IdleTimeouts bounds how long Conn waits for the next byte from the
// peer, split the way server.go splits ReadTimeout from WriteTimeout.
type IdleTimeouts struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Config carries the per-connection knobs wire1 needs from ServerConfig,
// kept as its own small struct so this package doesn't import the root
// module (which imports wire1) and create a cycle.
type Config struct {
	ServerName               string
	MaxUploadSize            uint64
	MaxStreamingBufferSize   uint64
	IdleTimeouts             IdleTimeouts
	HTTPErrorHandling        bool
	OutboundHeaderValidation bool
}

// Metrics is the subset of httpcore.MetricsRegistry wire1 reports
// through; a concrete Registry satisfies this structurally, so the root
// package can pass its own MetricsRegistry value straight through.
type Metrics interface {
	connhandler.Metrics
	SetStreamingBufferedBytes(n uint64)
}

// Conn is the TrackedConn lifecycle.Machine supervises for one accepted
// HTTP/1.1 connection: it owns the bufio reader/writer pair, drives the
// assembler with bytes read off netConn, and hands finished requests to
// a connhandler.Handler.
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	cfg     Config
	asm     *assembler.Assembler
	handler *connhandler.Handler
	logger  zerolog.Logger

	remoteAddr string
}

// NewConn wires one accepted connection's assembler, sink and handler
// together. responder and the observability collaborators are supplied
// by the root package's lifecycle.Initializer closure.
func NewConn(netConn net.Conn, cfg Config, responder connhandler.Responder, logger zerolog.Logger, metrics Metrics) *Conn {
	br := bufio.NewReaderSize(netConn, bodyReadBufferSize)
	bw := bufio.NewWriterSize(netConn, bodyReadBufferSize)

	asm := assembler.New(cfg.MaxUploadSize, func(maxUploadSize uint64) assembler.Streamer {
		return newBackpressureStreamer(maxUploadSize, cfg.MaxStreamingBufferSize, metrics)
	})

	c := &Conn{
		netConn:    netConn,
		br:         br,
		bw:         bw,
		cfg:        cfg,
		asm:        asm,
		logger:     logger,
		remoteAddr: netConn.RemoteAddr().String(),
	}
	c.handler = &connhandler.Handler{
		Assembler:               asm,
		Responder:               responder,
		Sink:                    newSink(bw, netConn, "HTTP/1.1"),
		ServerName:              cfg.ServerName,
		Logger:                  logger,
		Metrics:                 metrics,
		ValidateOutboundHeaders: cfg.OutboundHeaderValidation,
	}
	return c
}

// Idle implements lifecycle.TrackedConn.
func (c *Conn) Idle() bool {
	return c.handler.RequestsInProgress() == 0
}

// Close implements lifecycle.TrackedConn.
func (c *Conn) Close() error {
	return c.netConn.Close()
}

// Quiesce forwards to the handler, the same deferred-close rule
// connhandler.Handler.Quiesce documents. lifecycle.Machine calls this
// through the optional Quiescer capability.
func (c *Conn) Quiesce() bool {
	return c.handler.Quiesce()
}

// Serve implements lifecycle.TrackedConn: it reads requests off netConn
// until the peer goes away, a malformed request forces a close, or a
// handled request asks for the connection to close (no keep-alive, or a
// deferred half-close/quiesce is now due).
func (c *Conn) Serve(ctx context.Context) error {
	defer c.netConn.Close()
	for {
		if rt := c.cfg.IdleTimeouts.ReadTimeout; rt > 0 {
			_ = c.netConn.SetReadDeadline(time.Now().Add(rt))
		}

		head, err := readHead(c.br, c.remoteAddr)
		if err != nil {
			return c.handleHeadReadError(err)
		}

		if wt := c.cfg.IdleTimeouts.WriteTimeout; wt > 0 {
			_ = c.netConn.SetWriteDeadline(time.Now().Add(wt))
		}

		if aerr := c.asm.Head(head); aerr != nil {
			c.asm.Fail(aerr)
			req := &assembler.Request{Head: head, Body: assembler.EmptyBody{}}
			if _, werr := c.handler.HandleRequest(ctx, req, nil, true); werr != nil {
				return werr
			}
			return nil
		}

		closeConn, err := c.serveOneRequest(ctx, head)
		if err != nil {
			return err
		}
		if closeConn {
			return nil
		}
	}
}

// handleHeadReadError distinguishes a graceful peer-initiated close
// (io.EOF between requests, the common case) from an actually malformed
// request line or header block.
func (c *Conn) handleHeadReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	c.logger.Debug().Err(err).Str("remote", c.remoteAddr).Msg("malformed request line or headers")
	if c.cfg.HTTPErrorHandling {
		_ = c.writeSimpleStatus(400, "Bad Request")
	}
	return err
}

// writeSimpleStatus writes a minimal, bodyless status line + Connection:
// close response directly to the wire, used for failures too early in
// the request to have a Head at all - there's no assembler.Request to
// hand the normal response pipeline in that case.
func (c *Conn) writeSimpleStatus(status int, reason string) error {
	if _, err := c.bw.WriteString("HTTP/1.1 " + strconv.Itoa(status) + " " + reason + "\r\n" +
		"Connection: close\r\nContent-Length: 0\r\n\r\n"); err != nil {
		return err
	}
	return c.bw.Flush()
}

// serveOneRequest drives one request's body (if any) into the assembler
// and hands the resulting Request to the handler, the per-iteration body
// of conn.go's serve() loop.
func (c *Conn) serveOneRequest(ctx context.Context, head assembler.Head) (closeConn bool, err error) {
	if head.HasUnrecognizedExpectation() {
		if werr := c.writeSimpleStatus(417, "Expectation Failed"); werr != nil {
			return true, werr
		}
		return true, nil
	}

	chunked := isChunked(head.Header)
	hasBody := chunked || head.ContentLength > 0

	if !hasBody {
		req, aerr := c.asm.End()
		if aerr != nil {
			return true, aerr
		}
		return c.handler.HandleRequest(ctx, req, nil, true)
	}

	return c.serveRequestWithBody(ctx, head, chunked)
}

type pumpResult struct {
	closeConn bool
	err       error
}

// serveRequestWithBody pumps wire bytes into the assembler, launching the
// handler as soon as the body promotes to streaming (the handler's
// responder may then consume concurrently with this goroutine still
// reading off the wire), or invoking it directly once a small body has
// been read in full. Either way this call doesn't return until the
// handler for this request has finished, preserving in-order responses.
func (c *Conn) serveRequestWithBody(ctx context.Context, head assembler.Head, chunked bool) (closeConn bool, err error) {
	resultCh := make(chan pumpResult, 1)
	continueSent := !head.ExpectsContinue()
	launched := false

	// launch hands req to the handler on its own goroutine so this
	// goroutine can keep feeding the streamer. Safe to share bw across
	// both goroutines only because continueSent is already pinned true by
	// the time a promotion (the trigger for launch) can ever happen - see
	// emit100 below - so the two goroutines never write bw concurrently.
	launch := func(req *assembler.Request) {
		launched = true
		go func() {
			cc, herr := c.handler.HandleRequest(ctx, req, reqStreamOf(req), continueSent)
			resultCh <- pumpResult{cc, herr}
		}()
	}

	emit100 := func() error {
		if continueSent {
			return nil
		}
		if _, werr := c.bw.WriteString(head.Proto + " 100 Continue\r\n\r\n"); werr != nil {
			return werr
		}
		if werr := c.bw.Flush(); werr != nil {
			return werr
		}
		continueSent = true
		return nil
	}

	var cr *chunkedReader
	if chunked {
		cr = newChunkedReader(c.br)
	}
	remaining := head.ContentLength
	buf := make([]byte, bodyReadBufferSize)
	var bps *backpressureStreamer

	for {
		if err := emit100(); err != nil {
			c.asm.Fail(err)
			return true, err
		}

		if bps != nil {
			if err := bps.waitForRoom(ctx); err != nil {
				c.asm.Fail(err)
				res := <-resultCh
				return true, res.err
			}
		}

		var n int
		var rerr error
		if chunked {
			n, _, rerr = cr.next(buf)
		} else {
			readInto := buf
			if int64(len(buf)) > remaining {
				readInto = buf[:remaining]
			}
			n, rerr = c.br.Read(readInto)
			remaining -= int64(n)
		}

		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			req, aerr := c.asm.BodyChunk(chunk)
			if aerr != nil {
				c.asm.Fail(aerr)
				if launched {
					res := <-resultCh
					return true, res.err
				}
				return true, aerr
			}
			if req != nil {
				launch(req)
				if sb, ok := req.Body.(assembler.StreamedBody); ok {
					bps, _ = sb.Stream.(*backpressureStreamer)
				}
			}
			if bps != nil {
				bps.report()
			}
		}

		bodyDone := rerr == io.EOF || (!chunked && remaining <= 0)
		if bodyDone {
			req, aerr := c.asm.End()
			if aerr != nil {
				c.asm.Fail(aerr)
				if launched {
					res := <-resultCh
					return true, res.err
				}
				return true, aerr
			}
			if req != nil {
				// Buffered path: never promoted, End() produced the Request.
				return c.handler.HandleRequest(ctx, req, nil, continueSent)
			}
			break // Promoted path: End() fed the terminator into the streamer.
		}

		if rerr != nil {
			c.asm.Fail(rerr)
			if launched {
				res := <-resultCh
				return true, res.err
			}
			return true, rerr
		}
	}

	res := <-resultCh
	return res.closeConn, res.err
}

// reqStreamOf extracts the respwriter.RequestStreamer a streamed body's
// own Streamer already satisfies structurally (Drop/Drained), so no
// adapter type is needed.
func reqStreamOf(req *assembler.Request) respwriter.RequestStreamer {
	if sb, ok := req.Body.(assembler.StreamedBody); ok {
		return sb.Stream
	}
	return nil
}
