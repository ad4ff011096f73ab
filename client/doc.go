// File: client/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package client is an asynchronous HTTP/1.1 client.
//
// Requests are driven by a non-blocking transfer engine. A Reactor runs
// every engine call on a single strand, arms socket readiness through an
// epoll reactor and finalizes completed transfers on a fixed pool of
// OS-thread-locked workers. Callers get a Future per request:
//
//	c, err := client.New(client.WithThreads(4))
//	if err != nil {
//		return err
//	}
//	defer c.Close()
//	resp, err := c.Get(ctx, client.NewRequest("http://127.0.0.1:8080/"))
//
// A Connection returned in a Response can be placed into the next Request
// to reuse its transfer handle.
package client

// Version of the client library.
const Version = "0.3.0"
