/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package httpcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/respwriter"
)

type helloResponder struct{}

func (helloResponder) Respond(ctx context.Context, req *assembler.Request) (*respwriter.Response, error) {
	return &respwriter.Response{Head: respwriter.Head{Status: 200}, Body: respwriter.BufferedBody("hello")}, nil
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Address:                BindAddress{Host: "127.0.0.1", Port: 0},
		MaxUploadSize:          1 << 20,
		MaxStreamingBufferSize: 1 << 16,
		Logger:                 zerolog.Nop(),
	}
}

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadSize = 0
	_, err := NewServer(cfg, helloResponder{})
	require.Error(t, err)
}

func TestEnsureALPNAddsH2AheadOfHTTP11(t *testing.T) {
	cfg := &tls.Config{}
	ensureALPN(cfg)
	require.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)

	// idempotent: running it again doesn't duplicate either entry.
	ensureALPN(cfg)
	require.Equal(t, []string{"h2", "http/1.1"}, cfg.NextProtos)
}

func TestServerServesPlainHTTP1Request(t *testing.T) {
	srv, err := NewServer(testConfig(), helloResponder{})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	port, err := srv.Port()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var resp strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := conn.Read(buf)
		resp.Write(buf[:n])
		if rerr != nil {
			break
		}
	}
	require.True(t, strings.HasPrefix(resp.String(), "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, resp.String(), "hello")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

// echoSizeResponder drains a streamed request body and replies with the
// total byte count, exercising the buffered-to-streamed promotion path
// end to end through Server rather than just wire1/wire2 in isolation.
type echoSizeResponder struct{}

func (echoSizeResponder) Respond(ctx context.Context, req *assembler.Request) (*respwriter.Response, error) {
	var total int
	switch b := req.Body.(type) {
	case assembler.BufferedBody:
		total = len(b)
	case assembler.StreamedBody:
		for {
			data, end, err := b.Stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			total += len(data)
			if end {
				break
			}
		}
	}
	return &respwriter.Response{
		Head: respwriter.Head{Status: 200},
		Body: respwriter.BufferedBody(fmt.Sprintf("got %d bytes", total)),
	}, nil
}

func TestServerPromotesLargePOSTToStreaming(t *testing.T) {
	cfg := testConfig()
	cfg.MaxStreamingBufferSize = 1 << 10 // small, so backpressure engages while the big body streams
	srv, err := NewServer(cfg, echoSizeResponder{})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	port, err := srv.Port()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	body := strings.Repeat("x", 64*1024)
	req := fmt.Sprintf("POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s", len(body), body)
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := conn.Read(buf)
		resp.Write(buf[:n])
		if rerr != nil {
			break
		}
	}
	require.True(t, strings.HasPrefix(resp.String(), "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, resp.String(), fmt.Sprintf("got %d bytes", len(body)))
}

func TestServerRejectsOversizedPOST(t *testing.T) {
	cfg := testConfig()
	cfg.MaxUploadSize = 16
	cfg.MaxStreamingBufferSize = 16
	srv, err := NewServer(cfg, echoSizeResponder{})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	port, err := srv.Port()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	body := strings.Repeat("y", 1024)
	req := fmt.Sprintf("POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	_, err = conn.Write([]byte(req))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp strings.Builder
	buf := make([]byte, 4096)
	for {
		n, rerr := conn.Read(buf)
		resp.Write(buf[:n])
		if rerr != nil {
			break
		}
	}
	require.Contains(t, resp.String(), "413")
}

func TestServerPipelinedKeepAliveRequests(t *testing.T) {
	srv, err := NewServer(testConfig(), helloResponder{})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	port, err := srv.Port()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	reqs := strings.Repeat("GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", 3)
	_, err = conn.Write([]byte(reqs))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var resp strings.Builder
	buf := make([]byte, 4096)
	for strings.Count(resp.String(), "HTTP/1.1 200 OK") < 3 {
		n, rerr := conn.Read(buf)
		resp.Write(buf[:n])
		if rerr != nil {
			break
		}
	}
	require.Equal(t, 3, strings.Count(resp.String(), "HTTP/1.1 200 OK"))
}

func TestServerStopAfterResponseAlreadyInFlight(t *testing.T) {
	srv, err := NewServer(testConfig(), helloResponder{})
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))

	port, err := srv.Port()
	require.NoError(t, err)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 4096)
	n, _ := conn.Read(buf)
	require.Contains(t, string(buf[:n]), "200")
}
