/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package httpcore is the connection-and-request core of an embeddable
// HTTP server: it accepts TCP/TLS connections, drives the HTTP/1.1 and
// HTTP/2 wire codecs in wire1 and wire2, assembles requests via
// assembler, dispatches to a Responder, writes responses via respwriter,
// and supervises the whole thing through lifecycle.Machine. It is the
// rendering of src/http/server.go's Server/ListenAndServe/Serve trio,
// generalized away from net/http's own Handler/ResponseWriter shapes.
package httpcore

import (
	"crypto/tls"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// BindAddress is either a host:port pair or a Unix domain socket path.
// Exactly one of the two forms is meaningful; UnixPath takes precedence
// when non-empty, matching types_server.go's "server.go doesn't care how
// its Listener was built" indifference to transport.
type BindAddress struct {
	Host string `validate:"omitempty,hostname|ip"`
	Port uint16 // 0 means "ephemeral; resolved at bind"

	UnixPath string `validate:"omitempty"`
}

// IsUnix reports whether this address names a Unix domain socket.
func (b BindAddress) IsUnix() bool { return b.UnixPath != "" }

// Network returns the net.Listen network name this address binds on.
func (b BindAddress) Network() string {
	if b.IsUnix() {
		return "unix"
	}
	return "tcp"
}

// Address returns the net.Listen address string this address binds on.
func (b BindAddress) Address() string {
	if b.IsUnix() {
		return b.UnixPath
	}
	return hostPort(b.Host, b.Port)
}

// IdleTimeouts bounds how long a connection may sit without read or
// write activity before the core closes it. Either field left zero
// disables that half of the policy, matching net/http's own
// ReadTimeout/WriteTimeout zero-means-off convention.
type IdleTimeouts struct {
	ReadTimeout  time.Duration `validate:"gte=0"`
	WriteTimeout time.Duration `validate:"gte=0"`
}

// TLSOptions configures the TLS engine fronting accepted connections.
// Certificate loading and cipher policy are the embedder's concern
// (spec's Non-goals); this core only consumes the resulting *tls.Config
// and the ALPN protocol IDs it negotiates.
type TLSOptions struct {
	Config *tls.Config `validate:"required"`
	// EnableHTTP2 advertises "h2" in ALPN and, when negotiated, hands the
	// connection to wire2 instead of wire1 - the secure-upgrade path
	// spec.md's ChannelInitializer calls out explicitly.
	EnableHTTP2 bool
}

// ServerConfig is the immutable-after-construction configuration spec.md
// §3 names, plus the ambient-stack fields SPEC_FULL.md §6/§7 add
// (Logger, Tracer, MetricsRegistry, and struct tags for validator/v10).
type ServerConfig struct {
	Address BindAddress `validate:"required"`

	// ServerName, when set, is emitted as the Server response header.
	ServerName string

	// MaxUploadSize is the upper bound, in bytes, on an accepted request
	// body; exceeding it fails the request body stream with
	// coreerr.PayloadTooLargeError.
	MaxUploadSize uint64 `validate:"required,gt=0"`

	// MaxStreamingBufferSize is the soft ceiling, in bytes, on buffered
	// streaming-body bytes before backpressure suspends transport reads.
	MaxStreamingBufferSize uint64 `validate:"required,gt=0,ltefield=MaxUploadSize"`

	// Backlog, when positive, caps the number of simultaneously open
	// accepted connections via golang.org/x/net/netutil.LimitListener on
	// every platform; the kernel's listen backlog is left as the net
	// package sets it.
	Backlog int `validate:"gte=0"`

	ReuseAddress bool
	TCPNoDelay   bool

	// WithPipeliningAssistance, when true, serializes responses so a
	// pipelined request's response cannot overtake an earlier request's
	// response on the same connection. wire1 implements this by
	// construction (one connection goroutine, one response written at a
	// time); the flag exists so an embedder can observe the policy is in
	// effect and so tests can assert on it.
	WithPipeliningAssistance bool

	// HTTPErrorHandling, when true, auto-replies 400 to an HTTP/1.1
	// request line or header block that cannot be parsed, instead of
	// silently closing the connection. A request that parses but fails
	// head validation (e.g. its Host rules) gets an error response either
	// way.
	HTTPErrorHandling bool

	// OutboundHeaderValidation, when true, validates outbound response
	// headers for spec compliance before writing them.
	OutboundHeaderValidation bool

	HTTP1IdleTimeouts IdleTimeouts
	HTTP2IdleTimeouts IdleTimeouts

	// HTTP2MaxConcurrentStreams bounds how many streams a single HTTP/2
	// connection may have open at once; zero lets golang.org/x/net/http2
	// apply its own default (at least 100, per the spec's recommendation).
	HTTP2MaxConcurrentStreams uint32

	TLSOptions *TLSOptions

	// Logger, Tracer, and MetricsRegistry are the ambient-stack additions
	// SPEC_FULL.md §6/§7 carry even though spec.md's Non-goals exclude
	// "logging setup" as a concern this core configures from scratch -
	// it still accepts and uses a caller-supplied zerolog.Logger,
	// otel trace.Tracer, and prometheus registry the way
	// nabbar-golib/httpserver accepts caller-supplied collaborators.
	Logger          Logger
	Tracer          Tracer
	MetricsRegistry MetricsRegistry
}

var validate = validator.New()

// Validate checks ServerConfig's struct tags, replacing the ad hoc
// "if field == 0" checks the teacher's NewServer-equivalent would have
// used, matching nabbar-golib/httpserver/config.go's use of the same
// library for its own server config.
func (c *ServerConfig) Validate() error {
	return validate.Struct(c)
}

func hostPort(host string, port uint16) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return host + ":" + strconv.Itoa(int(port))
}
