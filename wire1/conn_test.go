package wire1

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/badu/httpcore/assembler"
	"github.com/badu/httpcore/respwriter"
)

type echoResponder struct{}

func (echoResponder) Respond(ctx context.Context, req *assembler.Request) (*respwriter.Response, error) {
	switch b := req.Body.(type) {
	case assembler.EmptyBody:
		return &respwriter.Response{Head: respwriter.Head{Status: 200}, Body: respwriter.BufferedBody("ok")}, nil
	case assembler.BufferedBody:
		return &respwriter.Response{Head: respwriter.Head{Status: 200}, Body: respwriter.BufferedBody(b)}, nil
	case assembler.StreamedBody:
		var all []byte
		for {
			data, end, err := b.Stream.Next(ctx)
			if err != nil {
				return nil, err
			}
			all = append(all, data...)
			if end {
				break
			}
		}
		return &respwriter.Response{Head: respwriter.Head{Status: 200}, Body: respwriter.BufferedBody(all)}, nil
	}
	return &respwriter.Response{Head: respwriter.Head{Status: 500}, Body: respwriter.EmptyBody{}}, nil
}

func newTestConn(t *testing.T, responder echoResponder, cfg Config) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	c := NewConn(server, cfg, responder, zerolog.Nop(), nil)
	return c, client
}

// recordingMetrics satisfies Metrics, recording every buffered-byte
// sample SetStreamingBufferedBytes receives instead of a Registry's
// Prometheus gauge.
type recordingMetrics struct {
	mu      sync.Mutex
	samples []uint64
}

func (*recordingMetrics) RequestStarted()  {}
func (*recordingMetrics) RequestFinished() {}
func (m *recordingMetrics) SetStreamingBufferedBytes(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, n)
}
func (m *recordingMetrics) sawNonZero() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.samples {
		if s > 0 {
			return true
		}
	}
	return false
}

func TestConnServesSimpleGet(t *testing.T) {
	c, client := newTestConn(t, echoResponder{}, Config{ServerName: "test-core", MaxUploadSize: 1 << 20})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	_, err := client.Write([]byte("GET / HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)

	resp := readAll(t, client)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, resp, "Server: test-core")
	require.Contains(t, resp, "ok")

	require.NoError(t, <-errCh)
}

func TestConnServesSmallBufferedPost(t *testing.T) {
	c, client := newTestConn(t, echoResponder{}, Config{MaxUploadSize: 1 << 20})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	body := "hello"
	req := "POST /echo HTTP/1.1\r\nHost: example.com\r\nContent-Length: 5\r\nConnection: close\r\n\r\n" + body
	_, err := client.Write([]byte(req))
	require.NoError(t, err)

	resp := readAll(t, client)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	require.True(t, strings.HasSuffix(resp, "hello"))

	require.NoError(t, <-errCh)
}

func TestConnPromotesLargeBodyToStreaming(t *testing.T) {
	c, client := newTestConn(t, echoResponder{}, Config{MaxUploadSize: 1 << 20})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	payload := strings.Repeat("x", bodyReadBufferSize*3)
	req := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: " +
		strconv.Itoa(len(payload)) + "\r\nConnection: close\r\n\r\n" + payload
	go func() {
		_, _ = client.Write([]byte(req))
	}()

	resp := readAll(t, client)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	require.True(t, strings.HasSuffix(resp, payload))

	require.NoError(t, <-errCh)
}

func TestConnReportsStreamingBufferedBytes(t *testing.T) {
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	metrics := &recordingMetrics{}
	cfg := Config{MaxUploadSize: 1 << 20, MaxStreamingBufferSize: 1 << 16}
	c := NewConn(server, cfg, echoResponder{}, zerolog.Nop(), metrics)

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	payload := strings.Repeat("x", bodyReadBufferSize*3)
	req := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: " +
		strconv.Itoa(len(payload)) + "\r\nConnection: close\r\n\r\n" + payload
	go func() {
		_, _ = client.Write([]byte(req))
	}()

	resp := readAll(t, client)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	require.NoError(t, <-errCh)

	require.True(t, metrics.sawNonZero(), "expected at least one nonzero buffered-bytes sample during streaming")
}

func TestConnChunkedRequestBody(t *testing.T) {
	c, client := newTestConn(t, echoResponder{}, Config{MaxUploadSize: 1 << 20})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	req := "POST /echo HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n" +
		"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n"
	go func() { _, _ = client.Write([]byte(req)) }()

	resp := readAll(t, client)
	require.True(t, strings.HasSuffix(resp, "Wikipedia"))

	require.NoError(t, <-errCh)
}

func TestConnKeepAliveServesTwoRequests(t *testing.T) {
	c, client := newTestConn(t, echoResponder{}, Config{MaxUploadSize: 1 << 20})

	errCh := make(chan error, 1)
	go func() { errCh <- c.Serve(context.Background()) }()

	br := bufio.NewReader(client)

	_, err := client.Write([]byte("GET /one HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	line1, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line1)
	drainHeaders(t, br)
	require.Equal(t, "ok", readN(t, br, 2))

	_, err = client.Write([]byte("GET /two HTTP/1.1\r\nHost: example.com\r\nConnection: close\r\n\r\n"))
	require.NoError(t, err)
	line2, err := br.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "HTTP/1.1 200 OK\r\n", line2)
	drainHeaders(t, br)
	require.Equal(t, "ok", readN(t, br, 2))

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after second Connection: close response")
	}
}

func drainHeaders(t *testing.T, br *bufio.Reader) {
	t.Helper()
	for {
		line, err := br.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			return
		}
	}
}

func readN(t *testing.T, br *bufio.Reader, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_, err := br.Read(buf)
	require.NoError(t, err)
	return string(buf)
}

func readAll(t *testing.T, client net.Conn) string {
	t.Helper()
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	var out strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := client.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return out.String()
}
