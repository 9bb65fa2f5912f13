package wire1

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/httpcore/hdr"
)

func TestSinkWritesFixedLengthResponse(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	bw := bufio.NewWriter(server)
	s := newSink(bw, server, "HTTP/1.1")

	go func() {
		require.NoError(t, s.WriteHead(200, hdr.Header{hdr.ContentLength: {"5"}}))
		require.NoError(t, s.WriteBodyPart([]byte("hello")))
		require.NoError(t, s.WriteEnd(nil))
	}()

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)

	out := string(buf[:n])
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, out, "hello")
}

func TestSinkChunkedFraming(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	bw := bufio.NewWriter(server)
	s := newSink(bw, server, "HTTP/1.1")

	go func() {
		require.NoError(t, s.WriteHead(200, hdr.Header{hdr.TransferEncoding: {"chunked"}}))
		require.NoError(t, s.WriteBodyPart([]byte("ab")))
		require.NoError(t, s.WriteEnd(nil))
	}()

	buf := make([]byte, 256)
	n, err := client.Read(buf)
	require.NoError(t, err)

	out := string(buf[:n])
	require.Contains(t, out, "2\r\nab\r\n")
	require.Contains(t, out, "0\r\n\r\n")
}
