// File: engine/wire.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HTTP/1.1 request encoding and incremental response framing. Header and
// chunk parsing is delegated to net/http; this file only decides when the
// buffered bytes hold a complete response.

package engine

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
)

// maxHeaderBytes bounds the response head.
const maxHeaderBytes = 64 << 10

var crlfcrlf = []byte("\r\n\r\n")

// excluded from caller headers; the encoder owns them.
var reservedHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Connection":        true,
	"Transfer-Encoding": true,
}

// encodeRequest serializes a request. Caller headers are written in sorted
// key order.
func encodeRequest(method string, u *url.URL, header http.Header, body []byte, userAgent string) []byte {
	var b bytes.Buffer
	b.Grow(256 + len(body))

	target := u.RequestURI()
	host := u.Host
	if method == http.MethodConnect {
		target = authority(u)
		host = target
	}
	if h := header.Get("Host"); h != "" {
		host = h
	}

	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(target)
	b.WriteString(" HTTP/1.1\r\nHost: ")
	b.WriteString(host)
	b.WriteString("\r\n")
	if userAgent != "" && header.Get("User-Agent") == "" {
		b.WriteString("User-Agent: ")
		b.WriteString(userAgent)
		b.WriteString("\r\n")
	}
	_ = header.WriteSubset(&b, reservedHeaders)
	if len(body) > 0 || method == http.MethodPost || method == http.MethodPut {
		b.WriteString("Content-Length: ")
		b.WriteString(strconv.Itoa(len(body)))
		b.WriteString("\r\n")
	}
	b.WriteString("Connection: close\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}

// authority returns host:port, defaulting the port to 80.
func authority(u *url.URL) string {
	port := u.Port()
	if port == "" {
		port = "80"
	}
	return net.JoinHostPort(u.Hostname(), port)
}

type decodeState int

const (
	decodeMore decodeState = iota
	decodeDone
	decodeFailed
)

type bodyMode int

const (
	bodyUnknown bodyMode = iota
	bodyNone
	bodyLength
	bodyChunked
	bodyClose
)

// responseDecoder frames a response accumulated in one buffer.
type responseDecoder struct {
	method string

	// cached after the final head is parsed
	headEnd int // offset of the first body byte, 0 until parsed
	mode    bodyMode
	length  int64
}

func (d *responseDecoder) reset(method string) {
	*d = responseDecoder{method: method}
}

// decode inspects buf (everything received so far). eof reports the peer
// closed its side. On decodeDone the parsed response and body are returned;
// on decodeFailed code and msg describe why.
func (d *responseDecoder) decode(buf []byte, eof bool) (st decodeState, resp *http.Response, body []byte, code Code, msg string) {
	if d.headEnd > 0 && d.mode == bodyLength && int64(len(buf)-d.headEnd) < d.length {
		if eof {
			return decodeFailed, nil, nil, RecvError, "transfer closed with outstanding read data remaining"
		}
		return decodeMore, nil, nil, OK, ""
	}

	off := 0
	for {
		end := bytes.Index(buf[off:], crlfcrlf)
		if end < 0 {
			switch {
			case len(buf)-off > maxHeaderBytes:
				return decodeFailed, nil, nil, WeirdServerReply, "response header too large"
			case !eof:
				return decodeMore, nil, nil, OK, ""
			case len(buf) == 0:
				return decodeFailed, nil, nil, GotNothing, "Empty reply from server"
			default:
				return decodeFailed, nil, nil, RecvError, "connection closed before response header completed"
			}
		}
		headEnd := off + end + len(crlfcrlf)

		r, err := http.ReadResponse(bufio.NewReader(bytes.NewReader(buf[off:])), &http.Request{Method: d.method})
		if err != nil {
			return decodeFailed, nil, nil, WeirdServerReply, err.Error()
		}
		if r.StatusCode >= 100 && r.StatusCode < 200 && r.StatusCode != http.StatusSwitchingProtocols {
			off = headEnd
			continue
		}

		d.headEnd = headEnd
		d.mode, d.length = framing(d.method, r)
		switch d.mode {
		case bodyNone:
			r.Body = http.NoBody
			return decodeDone, r, nil, OK, ""
		case bodyLength:
			if int64(len(buf)-headEnd) < d.length {
				if eof {
					return decodeFailed, nil, nil, RecvError, "transfer closed with outstanding read data remaining"
				}
				return decodeMore, nil, nil, OK, ""
			}
		case bodyClose:
			if !eof {
				return decodeMore, nil, nil, OK, ""
			}
		}

		body, err = io.ReadAll(r.Body)
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if eof {
					return decodeFailed, nil, nil, RecvError, "transfer closed with outstanding read data remaining"
				}
				return decodeMore, nil, nil, OK, ""
			}
			return decodeFailed, nil, nil, WeirdServerReply, err.Error()
		}
		r.Body = http.NoBody
		return decodeDone, r, body, OK, ""
	}
}

// framing decides how the body of r is delimited.
func framing(method string, r *http.Response) (bodyMode, int64) {
	switch {
	case method == http.MethodHead,
		r.StatusCode == http.StatusNoContent,
		r.StatusCode == http.StatusNotModified,
		r.StatusCode == http.StatusSwitchingProtocols,
		method == http.MethodConnect && r.StatusCode/100 == 2:
		return bodyNone, 0
	case len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked":
		return bodyChunked, -1
	case r.ContentLength == 0:
		return bodyNone, 0
	case r.ContentLength > 0:
		return bodyLength, r.ContentLength
	}
	return bodyClose, -1
}
