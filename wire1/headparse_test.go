package wire1

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/httpcore/hdr"
)

func TestReadHeadParsesRequestLineAndHeaders(t *testing.T) {
	raw := "GET /widgets?x=1 HTTP/1.1\r\nHost: example.com\r\nAccept: */*\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	head, err := readHead(br, "10.0.0.1:1234")

	require.NoError(t, err)
	require.Equal(t, "GET", head.Method)
	require.Equal(t, "/widgets?x=1", head.RequestURI)
	require.Equal(t, 1, head.ProtoMajor)
	require.Equal(t, 1, head.ProtoMinor)
	require.Equal(t, "example.com", head.Host)
	require.Equal(t, "*/*", head.Header.Get("Accept"))
	require.Equal(t, int64(-1), head.ContentLength)
	require.Equal(t, "10.0.0.1:1234", head.RemoteAddr)
	_, hasHost := head.Header[hdr.Host]
	require.False(t, hasHost, "Host is lifted out of Header into head.Host")
}

func TestReadHeadContentLength(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: example.com\r\nContent-Length: 42\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	head, err := readHead(br, "")

	require.NoError(t, err)
	require.Equal(t, int64(42), head.ContentLength)
}

func TestReadHeadChunkedIgnoresContentLength(t *testing.T) {
	raw := "POST /upload HTTP/1.1\r\nHost: example.com\r\nTransfer-Encoding: chunked\r\n\r\n"
	br := bufio.NewReader(strings.NewReader(raw))

	head, err := readHead(br, "")

	require.NoError(t, err)
	require.Equal(t, int64(-1), head.ContentLength)
}

func TestReadHeadRejectsMalformedRequestLine(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("NOT A REQUEST LINE AT ALL\r\n\r\n"))

	_, err := readHead(br, "")

	// The line still splits on its first two spaces, so it is the version
	// part ("REQUEST LINE AT ALL") that gets it rejected.
	require.ErrorIs(t, err, errBadHTTPVersion)
}

func TestParseHTTPVersion(t *testing.T) {
	maj, min, ok := parseHTTPVersion("HTTP/1.1")
	require.True(t, ok)
	require.Equal(t, 1, maj)
	require.Equal(t, 1, min)

	_, _, ok = parseHTTPVersion("garbage")
	require.False(t, ok)
}
