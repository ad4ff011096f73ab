// File: engine/wire_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequest_Golden(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		url       string
		header    http.Header
		body      string
		userAgent string
	}{
		{
			name:      "encode_get_simple",
			method:    http.MethodGet,
			url:       "http://example.com/path?q=1",
			header:    http.Header{"X-Trace": {"abc"}},
			userAgent: "hioload-httpc/0.3",
		},
		{
			name:   "encode_post_body",
			method: http.MethodPost,
			url:    "http://127.0.0.1:8080/echo",
			header: http.Header{"Content-Type": {"text/plain"}},
			body:   "hello",
		},
		{
			name:      "encode_connect",
			method:    http.MethodConnect,
			url:       "http://proxy.local/",
			header:    http.Header{},
			userAgent: "ua",
		},
		{
			name:   "encode_put_overrides",
			method: http.MethodPut,
			url:    "http://h/x",
			header: http.Header{
				"Host":       {"other"},
				"User-Agent": {"mine"},
				"Connection": {"keep-alive"},
			},
			userAgent: "default",
		},
	}

	g := goldie.New(t)
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.url)
			require.NoError(t, err)
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			g.Assert(t, tt.name, encodeRequest(tt.method, u, tt.header, body, tt.userAgent))
		})
	}
}

func TestResponseDecoder(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		input    string
		eof      bool
		wantSt   decodeState
		wantCode Code
		status   int
		body     string
	}{
		{
			name:   "content length",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok",
			wantSt: decodeDone, status: 200, body: "ok",
		},
		{
			name:   "content length partial",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nok",
			wantSt: decodeMore,
		},
		{
			name:   "content length truncated by close",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\nok",
			eof:    true,
			wantSt: decodeFailed, wantCode: RecvError,
		},
		{
			name:   "chunked",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n3\r\n!!!\r\n0\r\n\r\n",
			wantSt: decodeDone, status: 200, body: "ok!!!",
		},
		{
			name:   "chunked partial",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n2\r\nok\r\n",
			wantSt: decodeMore,
		},
		{
			name:   "close delimited waits for eof",
			method: http.MethodGet,
			input:  "HTTP/1.0 200 OK\r\n\r\nabc",
			wantSt: decodeMore,
		},
		{
			name:   "close delimited",
			method: http.MethodGet,
			input:  "HTTP/1.0 200 OK\r\n\r\nabc",
			eof:    true,
			wantSt: decodeDone, status: 200, body: "abc",
		},
		{
			name:   "head has no body",
			method: http.MethodHead,
			input:  "HTTP/1.1 200 OK\r\nContent-Length: 42\r\n\r\n",
			wantSt: decodeDone, status: 200,
		},
		{
			name:   "no content",
			method: http.MethodDelete,
			input:  "HTTP/1.1 204 No Content\r\n\r\n",
			wantSt: decodeDone, status: 204,
		},
		{
			name:   "interim response skipped",
			method: http.MethodPost,
			input:  "HTTP/1.1 100 Continue\r\n\r\nHTTP/1.1 201 Created\r\nContent-Length: 1\r\n\r\nx",
			wantSt: decodeDone, status: 201, body: "x",
		},
		{
			name:   "header incomplete",
			method: http.MethodGet,
			input:  "HTTP/1.1 200 OK\r\nContent-Le",
			wantSt: decodeMore,
		},
		{
			name:   "empty reply",
			method: http.MethodGet,
			eof:    true,
			wantSt: decodeFailed, wantCode: GotNothing,
		},
		{
			name:   "garbage",
			method: http.MethodGet,
			input:  "SSH-2.0-OpenSSH\r\n\r\n",
			wantSt: decodeFailed, wantCode: WeirdServerReply,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			var d responseDecoder
			d.reset(tt.method)
			st, resp, body, code, _ := d.decode([]byte(tt.input), tt.eof)
			require.Equal(t, tt.wantSt, st)
			switch st {
			case decodeDone:
				require.NotNil(t, resp)
				assert.Equal(t, tt.status, resp.StatusCode)
				assert.Equal(t, tt.body, string(body))
			case decodeFailed:
				assert.Equal(t, tt.wantCode, code)
			}
		})
	}
}

func TestResponseDecoder_Incremental(t *testing.T) {
	full := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\nX-A: 1\r\n\r\nhello"
	var d responseDecoder
	d.reset(http.MethodGet)
	for i := 1; i < len(full); i++ {
		st, _, _, _, _ := d.decode([]byte(full[:i]), false)
		require.Equal(t, decodeMore, st, "prefix %d", i)
	}
	st, resp, body, _, _ := d.decode([]byte(full), false)
	require.Equal(t, decodeDone, st)
	assert.Equal(t, "1", resp.Header.Get("X-A"))
	assert.Equal(t, "hello", string(body))
}

func TestAuthority(t *testing.T) {
	u, _ := url.Parse("http://[::1]:8080/x")
	assert.Equal(t, "[::1]:8080", authority(u))
	u, _ = url.Parse("http://example.com")
	assert.Equal(t, "example.com:80", authority(u))
}
