/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"crypto/tls"
	"net"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"github.com/badu/httpcore/connhandler"
	"github.com/badu/httpcore/lifecycle"
	"github.com/badu/httpcore/pipeline"
	"github.com/badu/httpcore/wire1"
	"github.com/badu/httpcore/wire2"
)

// tlsHandshakeTimeout bounds how long the Initializer waits for a TLS
// handshake (and the ALPN negotiation riding on it) before giving up on
// an accepted connection, the handshake-side counterpart of conn.go's
// own per-request read-header deadline.
const tlsHandshakeTimeout = 10 * time.Second

// tunedListener applies conn.go's tcpKeepAliveListener policy, plus the
// Nagle's-algorithm toggle ServerConfig.TCPNoDelay names, to every
// accepted *net.TCPConn. It wraps a *net.TCPListener only - Unix domain
// socket listeners skip this, since neither keep-alive nor TCP_NODELAY
// means anything there.
type tunedListener struct {
	*net.TCPListener
	noDelay bool
}

func (l tunedListener) Accept() (net.Conn, error) {
	conn, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}
	conn.SetKeepAlive(true)
	conn.SetKeepAlivePeriod(3 * time.Minute)
	conn.SetNoDelay(l.noDelay)
	return conn, nil
}

// connHandlerStage is the terminal pipeline.Stage every built pipeline
// ends in: the point where a connection's bytes stop flowing through
// ChannelInitializer stages and start flowing through whichever codec
// (wire1 or wire2) the ALPN dispatch in Initializer selected.
type connHandlerStage struct{}

func (connHandlerStage) Name() string { return "connhandler" }

// tlsHandshakeStage is the pipeline.SecureUpgrade.LeadingTLS stage: the
// distinguished single-position handler installed before anything else,
// the first to receive bytes. initConn performs the actual handshake
// itself (tls.Conn.HandshakeContext, before ALPN selection can even
// happen), so this stage exists to give that already-completed step a
// name in the built pipeline rather than to perform the handshake a
// second time.
type tlsHandshakeStage struct{}

func (tlsHandshakeStage) Name() string { return "tls-handshake" }

// Server is the ServerLifecycle's embedder-facing handle: it owns
// binding, the ChannelInitializer's ALPN dispatch between wire1 and
// wire2, and delegates everything else to lifecycle.Machine.
type Server struct {
	cfg       *ServerConfig
	responder connhandler.Responder
	metrics   MetricsRegistry
	machine   *lifecycle.Machine
	upgrade   *pipeline.SecureUpgrade
}

// NewServer validates cfg and returns a Server bound to responder, not
// yet listening. responder is the embedder's Responder: the single
// collaborator this core never implements itself, matching spec.md's
// framing of request handling as wholly external to the core.
func NewServer(cfg *ServerConfig, responder connhandler.Responder) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	metrics := cfg.MetricsRegistry
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if cfg.TLSOptions != nil && cfg.TLSOptions.EnableHTTP2 {
		ensureALPN(cfg.TLSOptions.Config)
	}

	s := &Server{
		cfg:       cfg,
		responder: responder,
		metrics:   metrics,
		machine:   lifecycle.New(cfg.Logger),
	}

	http1 := pipeline.HTTP1Initializer(nil, nil, nil, func() pipeline.Stage { return connHandlerStage{} })
	http2 := pipeline.HTTP2Initializer(nil, nil, func() pipeline.Stage { return connHandlerStage{} })
	s.upgrade = pipeline.NewSecureUpgrade(func() pipeline.Stage { return tlsHandshakeStage{} }, http1, http2)

	return s, nil
}

// ensureALPN appends "h2" ahead of "http/1.1" to cfg.NextProtos if
// neither is already present, the way http2.ConfigureServer prepares an
// *http.Server's TLSConfig for ALPN-driven protocol selection.
func ensureALPN(cfg *tls.Config) {
	has := func(proto string) bool {
		for _, p := range cfg.NextProtos {
			if p == proto {
				return true
			}
		}
		return false
	}
	if !has("h2") {
		cfg.NextProtos = append([]string{"h2"}, cfg.NextProtos...)
	}
	if !has("http/1.1") {
		cfg.NextProtos = append(cfg.NextProtos, "http/1.1")
	}
}

// Start binds cfg.Address and starts accepting connections; it returns
// once the listener is bound, not once the server stops - the accept
// loop runs on lifecycle.Machine's own goroutine.
func (s *Server) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	if s.cfg.ReuseAddress {
		// Go's net package already sets SO_REUSEADDR on most platforms by
		// default; this makes the intent explicit for embedders that rely
		// on ServerConfig.ReuseAddress rather than the runtime's default.
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var ctrlErr error
			if err := c.Control(func(fd uintptr) {
				ctrlErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			}); err != nil {
				return err
			}
			return ctrlErr
		}
	}
	ln, err := lc.Listen(ctx, s.cfg.Address.Network(), s.cfg.Address.Address())
	if err != nil {
		return err
	}

	if tcpLn, ok := ln.(*net.TCPListener); ok {
		ln = tunedListener{TCPListener: tcpLn, noDelay: s.cfg.TCPNoDelay}
	}
	if s.cfg.Backlog > 0 {
		ln = netutil.LimitListener(ln, s.cfg.Backlog)
	}
	if s.cfg.TLSOptions != nil {
		ln = tls.NewListener(ln, s.cfg.TLSOptions.Config)
	}

	return s.machine.Start(s.initConn, ln)
}

// initConn is the lifecycle.Initializer: it completes any TLS handshake
// (so ALPN's negotiated protocol is known), builds the ChannelInitializer
// pipeline that protocol selects, and returns the codec-specific
// TrackedConn the pipeline's terminal connHandlerStage represents.
func (s *Server) initConn(ctx context.Context, conn net.Conn) (lifecycle.TrackedConn, error) {
	negotiated := ""
	viaTLS := false
	if tlsConn, ok := conn.(*tls.Conn); ok {
		hctx, cancel := context.WithTimeout(ctx, tlsHandshakeTimeout)
		defer cancel()
		if err := tlsConn.HandshakeContext(hctx); err != nil {
			return nil, err
		}
		negotiated = tlsConn.ConnectionState().NegotiatedProtocol
		viaTLS = true
	}

	var stages []pipeline.Stage
	if viaTLS {
		stages = s.upgrade.BuildStages(negotiated)
	} else {
		stages = s.upgrade.Select(negotiated).Build()
	}
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.Name()
	}
	s.cfg.Logger.Debug().Str("alpn", negotiated).Strs("stages", names).Msg("connection pipeline built")

	if negotiated == "h2" {
		cfg := wire2.Config{
			ServerName:               s.cfg.ServerName,
			MaxUploadSize:            s.cfg.MaxUploadSize,
			MaxStreamingBufferSize:   s.cfg.MaxStreamingBufferSize,
			MaxConcurrentStreams:     s.cfg.HTTP2MaxConcurrentStreams,
			IdleTimeout:              s.cfg.HTTP2IdleTimeouts.ReadTimeout,
			OutboundHeaderValidation: s.cfg.OutboundHeaderValidation,
		}
		return wire2.NewConn(conn, cfg, s.responder, s.cfg.Logger, s.cfg.Tracer, s.metrics), nil
	}

	cfg := wire1.Config{
		ServerName:               s.cfg.ServerName,
		MaxUploadSize:            s.cfg.MaxUploadSize,
		MaxStreamingBufferSize:   s.cfg.MaxStreamingBufferSize,
		IdleTimeouts:             wire1.IdleTimeouts(s.cfg.HTTP1IdleTimeouts),
		HTTPErrorHandling:        s.cfg.HTTPErrorHandling,
		OutboundHeaderValidation: s.cfg.OutboundHeaderValidation,
	}
	return wire1.NewConn(conn, cfg, s.responder, s.cfg.Logger, s.metrics), nil
}

// Stop gracefully quiesces every tracked connection, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	return s.machine.Stop(ctx)
}

// Wait blocks until the server reaches Shutdown, or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	return s.machine.Wait(ctx)
}

// Close immediately terminates the listener and every connection.
func (s *Server) Close() error {
	return s.machine.Close()
}

// Port reports the bound TCP port.
func (s *Server) Port() (int, error) {
	return s.machine.Port()
}
