// File: client/methods.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-method entry points. AsyncX returns a future; X blocks until the
// request settles or ctx ends.

package client

import (
	"context"

	"github.com/momentics/hioload-httpc/api"
)

// AsyncPost submits req as a POST request and returns its future.
func (c *Client) AsyncPost(req *Request) *Future { return c.AsyncDo(api.MethodPost, req) }

// Post issues req as a POST request and waits for the response.
func (c *Client) Post(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodPost, req)
}

// AsyncGet submits req as a GET request and returns its future.
func (c *Client) AsyncGet(req *Request) *Future { return c.AsyncDo(api.MethodGet, req) }

// Get issues req as a GET request and waits for the response.
func (c *Client) Get(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodGet, req)
}

// AsyncHead submits req as a HEAD request and returns its future.
func (c *Client) AsyncHead(req *Request) *Future { return c.AsyncDo(api.MethodHead, req) }

// Head issues req as a HEAD request and waits for the response.
func (c *Client) Head(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodHead, req)
}

// AsyncPut submits req as a PUT request and returns its future.
func (c *Client) AsyncPut(req *Request) *Future { return c.AsyncDo(api.MethodPut, req) }

// Put issues req as a PUT request and waits for the response.
func (c *Client) Put(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodPut, req)
}

// AsyncDelete submits req as a DELETE request and returns its future.
func (c *Client) AsyncDelete(req *Request) *Future { return c.AsyncDo(api.MethodDelete, req) }

// Delete issues req as a DELETE request and waits for the response.
func (c *Client) Delete(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodDelete, req)
}

// AsyncOptions submits req as a OPTIONS request and returns its future.
func (c *Client) AsyncOptions(req *Request) *Future { return c.AsyncDo(api.MethodOptions, req) }

// Options issues req as a OPTIONS request and waits for the response.
func (c *Client) Options(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodOptions, req)
}

// AsyncTrace submits req as a TRACE request and returns its future.
func (c *Client) AsyncTrace(req *Request) *Future { return c.AsyncDo(api.MethodTrace, req) }

// Trace issues req as a TRACE request and waits for the response.
func (c *Client) Trace(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodTrace, req)
}

// AsyncConnect submits req as a CONNECT request and returns its future.
func (c *Client) AsyncConnect(req *Request) *Future { return c.AsyncDo(api.MethodConnect, req) }

// Connect issues req as a CONNECT request and waits for the response.
func (c *Client) Connect(ctx context.Context, req *Request) (*Response, error) {
	return c.Do(ctx, api.MethodConnect, req)
}
