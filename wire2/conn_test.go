/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

package wire2

import (
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/respwriter"
)

func TestHeadFromRequestMapsFields(t *testing.T) {
	r := httptest.NewRequest("POST", "/upload?x=1", nil)
	r.Proto, r.ProtoMajor, r.ProtoMinor = "HTTP/2.0", 2, 0
	r.ContentLength = 42
	r.Host = "example.com"
	r.RemoteAddr = "10.0.0.1:1234"

	head := headFromRequest(r)
	require.Equal(t, "POST", head.Method)
	require.Equal(t, "/upload?x=1", head.RequestURI)
	require.Equal(t, 2, head.ProtoMajor)
	require.Equal(t, int64(42), head.ContentLength)
	require.Equal(t, "example.com", head.Host)
	require.Equal(t, "10.0.0.1:1234", head.RemoteAddr)
}

func TestSinkStripsConnectionSpecificHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newSink(rec)

	err := s.WriteHead(200, map[string][]string{
		"Connection":        {"close"},
		"Transfer-Encoding": {"chunked"},
		"Content-Type":      {"text/plain"},
	})
	require.NoError(t, err)
	require.Equal(t, 200, rec.Code)
	require.Empty(t, rec.Header().Get("Connection"))
	require.Empty(t, rec.Header().Get("Transfer-Encoding"))
	require.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
}

func TestSinkWriteBodyPartFlushes(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newSink(rec)
	require.NoError(t, s.WriteHead(200, nil))
	require.NoError(t, s.WriteBodyPart([]byte("hello")))
	require.Equal(t, "hello", rec.Body.String())
	require.True(t, rec.Flushed)
}

func TestSinkWriteEndSetsTrailerPrefix(t *testing.T) {
	rec := httptest.NewRecorder()
	s := newSink(rec)
	require.NoError(t, s.WriteHead(200, nil))
	require.NoError(t, s.WriteEnd(map[string][]string{"X-Checksum": {"abc"}}))
	require.Equal(t, "abc", rec.Header().Get("Trailer:X-Checksum"))
}

func TestBackpressureStreamBlocksUntilConsumed(t *testing.T) {
	s := newBackpressureStream(1<<20, 4, nil)
	s.Feed([]byte("1234"))

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { done <- s.waitForRoom(ctx) }()

	select {
	case <-done:
		t.Fatal("waitForRoom returned before any bytes were consumed")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := s.Consume(context.Background())
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waitForRoom never unblocked after Consume")
	}
}

type echoResponder struct{}

func (echoResponder) Respond(ctx context.Context, req *assembler.Request) (*respwriter.Response, error) {
	return &respwriter.Response{Head: respwriter.Head{Status: 200}, Body: respwriter.BufferedBody("ok")}, nil
}

func TestConnIdleAndQuiesce(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	c := NewConn(server, Config{MaxUploadSize: 1 << 20}, echoResponder{}, zerolog.Nop(), nil, nil)
	require.True(t, c.Idle())
	require.False(t, c.Quiesce())

	require.True(t, c.tracker.Closing())
}
