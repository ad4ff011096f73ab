// File: engine/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package engine is a non-blocking, multi-transfer HTTP/1.1 engine.
//
// A Multi owns a set of Transfers and never blocks: it reports which sockets
// it wants polled through a SocketFunc, how long until it next needs a tick
// through a TimerFunc, and makes progress only when the caller invokes
// SocketAction with a ready socket or SocketTimeout. Finished transfers are
// queued and drained with InfoRead. GlobalInit must run once per process
// before the first Multi is created.
//
// Only plain http targets are supported. Every request is sent with
// "Connection: close"; response heads and chunked bodies are parsed by
// net/http.
package engine
