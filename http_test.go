package reactorhttp

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	reqA = "GET /a HTTP/1.1\r\nHost: x\r\n\r\n"
	reqB = "GET /b HTTP/1.0\r\n\r\n"
)

func TestParse(t *testing.T) {
	t.Run("pipelined", func(t *testing.T) {
		requests, consumed, err := Parse([]byte(reqA + reqB))
		require.NoError(t, err)
		require.Len(t, requests, 2)
		assert.Equal(t, len(reqA)+len(reqB), consumed)

		assert.Equal(t, "GET", requests[0].Method)
		assert.Equal(t, "/a", requests[0].Url)
		assert.Equal(t, "1.1", requests[0].Version)
		assert.Equal(t, map[string]string{"Host": "x"}, requests[0].Headers)
		assert.Equal(t, len(reqA), requests[0].Len)

		assert.Equal(t, "GET", requests[1].Method)
		assert.Equal(t, "/b", requests[1].Url)
		assert.Equal(t, "1.0", requests[1].Version)
		assert.Empty(t, requests[1].Headers)
		assert.Equal(t, len(reqB), requests[1].Len)
	})

	t.Run("many pipelined", func(t *testing.T) {
		var b strings.Builder
		urls := []string{"/1", "/2?x=y", "/3#frag", "*", "http://example.com:8080/abc"}
		for _, u := range urls {
			b.WriteString("OPTIONS " + u + " HTTP/1.1\r\nX-Seq: " + u + "\r\n\r\n")
		}

		requests, consumed, err := Parse([]byte(b.String()))
		require.NoError(t, err)
		require.Len(t, requests, len(urls))
		assert.Equal(t, b.Len(), consumed)
		for i, u := range urls {
			assert.Equal(t, u, requests[i].Url)
			assert.Equal(t, u, requests[i].Headers["X-Seq"])
		}
	})

	t.Run("trailing partial request is left alone", func(t *testing.T) {
		buf := []byte(reqA + "GET /b HTTP/1.0\r\nHo")
		requests, consumed, err := Parse(buf)
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, len(reqA), consumed)
	})

	t.Run("every method", func(t *testing.T) {
		for m := range methods {
			requests, _, err := Parse([]byte(m + " / HTTP/1.1\r\n\r\n"))
			require.NoError(t, err)
			require.Len(t, requests, 1, m)
			assert.Equal(t, m, requests[0].Method)
		}
	})

	t.Run("header overwrite", func(t *testing.T) {
		requests, _, err := Parse([]byte("GET / HTTP/1.1\r\nX-A: 1\r\nX-A: 2\r\n\r\n"))
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, map[string]string{"X-A": "2"}, requests[0].Headers)
	})

	t.Run("header value trimming", func(t *testing.T) {
		requests, _, err := Parse([]byte("GET / HTTP/1.1\r\nA:\t v \t\r\nB:w\r\nc-D: a:b\r\n\r\n"))
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, map[string]string{"A": "v", "B": "w", "c-D": "a:b"}, requests[0].Headers)
	})

	t.Run("value with inner space is not recorded", func(t *testing.T) {
		requests, _, err := Parse([]byte("GET / HTTP/1.1\r\nUser-Agent: curl 8\r\nHost: x\r\n\r\n"))
		require.NoError(t, err)
		require.Len(t, requests, 1)
		assert.Equal(t, map[string]string{"Host": "x"}, requests[0].Headers)
	})
}

func TestParseNoMatch(t *testing.T) {
	cases := []struct {
		name string
		buf  string
	}{
		{"empty", ""},
		{"request line only", "GET /a HTTP/1.1\r\n"},
		{"headers without blank line", "GET /a HTTP/1.1\r\nHost: x\r\n"},
		{"partial terminator", "GET /a HTTP/1.1\r\n\r"},
		{"unknown method", "BREW /pot HTTP/1.1\r\n\r\n"},
		{"lower case method", "get / HTTP/1.1\r\n\r\n"},
		{"http/2", "GET / HTTP/2.0\r\n\r\n"},
		{"double space", "GET  / HTTP/1.1\r\n\r\n"},
		{"no url", "GET HTTP/1.1\r\n\r\n"},
		{"bad header name", "GET / HTTP/1.1\r\nX_A: 1\r\n\r\n"},
		{"empty header value", "GET / HTTP/1.1\r\nX-A:\r\n\r\n"},
		{"bare LF in header value", "GET / HTTP/1.1\r\nA: b\nc\r\n\r\n"},
		{"garbage first", "hello\r\n" + reqA},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			for i := 0; i < 2; i++ { // unchanged buffer, unchanged answer
				requests, consumed, err := Parse([]byte(c.buf))
				require.NoError(t, err)
				assert.Empty(t, requests)
				assert.Zero(t, consumed)
			}
		})
	}
}

func TestParseDecodeError(t *testing.T) {
	buf := []byte("GET /caf\xc3\xa9 HTTP/1.1\r\n\r\n")
	requests, consumed, err := Parse(buf)
	assert.Empty(t, requests)
	assert.Zero(t, consumed)

	var decodeErr *DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, 8, decodeErr.Offset)
	assert.Equal(t, byte(0xc3), decodeErr.Byte)
}

func TestParser(t *testing.T) {
	t.Run("fragment boundaries", func(t *testing.T) {
		stream := reqA + reqB
		want, _, err := Parse([]byte(stream))
		require.NoError(t, err)

		for cut := 1; cut < len(stream); cut++ {
			var p Parser
			var got []*Request
			buf := []byte(stream[:cut])

			requests, consumed, err := p.Parse(buf)
			require.NoError(t, err)
			got = append(got, requests...)
			buf = append(buf[consumed:], stream[cut:]...)

			requests, consumed, err = p.Parse(buf)
			require.NoError(t, err)
			got = append(got, requests...)

			assert.Equal(t, want, got, "cut at %d", cut)
			assert.Equal(t, len(buf), consumed, "cut at %d", cut)
		}
	})

	t.Run("byte by byte", func(t *testing.T) {
		var p Parser
		var buf []byte
		var got []*Request
		for i := 0; i < len(reqA); i++ {
			buf = append(buf, reqA[i])
			requests, consumed, err := p.Parse(buf)
			require.NoError(t, err)
			got = append(got, requests...)
			buf = buf[consumed:]
		}
		require.Len(t, got, 1)
		assert.Equal(t, "/a", got[0].Url)
		assert.Empty(t, buf)
	})

	t.Run("idempotent on incomplete input", func(t *testing.T) {
		var p Parser
		buf := []byte("GET /a HTTP/1.1\r\nHost")
		for i := 0; i < 3; i++ {
			requests, consumed, err := p.Parse(buf)
			require.NoError(t, err)
			assert.Empty(t, requests)
			assert.Zero(t, consumed)
		}
	})

	t.Run("malformed complete block", func(t *testing.T) {
		var p Parser
		requests, consumed, err := p.Parse([]byte(reqA + "BREW /pot HTTP/1.1\r\n\r\n"))
		assert.ErrorIs(t, err, ErrMalformedRequest)
		require.Len(t, requests, 1)
		assert.Equal(t, len(reqA), consumed)
	})

	t.Run("bare LF in header value", func(t *testing.T) {
		var p Parser
		requests, consumed, err := p.Parse([]byte("GET / HTTP/1.1\r\nA: b\nc\r\n\r\n"))
		assert.ErrorIs(t, err, ErrMalformedRequest)
		assert.Empty(t, requests)
		assert.Zero(t, consumed)
	})

	t.Run("reset", func(t *testing.T) {
		var p Parser
		_, _, err := p.Parse([]byte("GET /a HTTP/1.1\r\n"))
		require.NoError(t, err)
		assert.NotZero(t, p.checked)
		p.Reset()
		assert.Zero(t, p.checked)
	})

	t.Run("decode error in new data", func(t *testing.T) {
		var p Parser
		buf := []byte("GET /a HTTP/1.1\r\n")
		_, _, err := p.Parse(buf)
		require.NoError(t, err)

		buf = append(buf, 0xff)
		_, _, err = p.Parse(buf)
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, len(buf)-1, decodeErr.Offset)
	})
}

func TestResponse(t *testing.T) {
	r := NewAckResponse()
	assert.Equal(t, "HTTP/1.1 200 OK\r\nConnection: Close\r\n\r\n", string(r.Bytes()))
	assert.True(t, r.ClosesConnection())

	r = NewResponse()
	r.SetStateLine("HTTP/1.0", 404)
	r.Headers = append(r.Headers, Header{Name: "Connection", Value: "keep-alive"})
	assert.Equal(t, "HTTP/1.0 404 Not Found\r\nConnection: keep-alive\r\n\r\n", string(r.Bytes()))
	assert.False(t, r.ClosesConnection())
}
