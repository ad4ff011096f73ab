// File: client/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Request and Response values exchanged with the client façade.

package client

import (
	"net/http"
	"time"

	"github.com/momentics/hioload-httpc/engine"
)

// Request describes one outbound HTTP request.
type Request struct {
	URL    string
	Header http.Header
	Body   []byte

	// Timeout overrides the client-wide transfer timeout when > 0.
	Timeout time.Duration

	// Connection, when set, is reused instead of allocating a new one.
	// Ownership passes to the client on submission.
	Connection *Connection
}

// NewRequest returns a request for url with an empty header set.
func NewRequest(url string) *Request {
	return &Request{URL: url, Header: make(http.Header)}
}

// AddHeader appends a header value and returns r.
func (r *Request) AddHeader(key, value string) *Request {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	r.Header.Add(key, value)
	return r
}

// WithBody sets the payload and returns r.
func (r *Request) WithBody(body []byte) *Request {
	r.Body = body
	return r
}

// Response is the successful outcome of a request.
type Response struct {
	StatusCode int
	Status     string
	Proto      string
	Header     http.Header
	Body       []byte
	Info       engine.Info

	// Connection can be placed into a later Request to reuse it.
	Connection *Connection
}
