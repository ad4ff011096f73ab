// File: api/method.go
// Author: momentics <momentics@gmail.com>
//
// HTTP methods supported by the client entry points.

package api

import (
	"fmt"
	"net/http"
	"strings"
)

// Method is an HTTP request method.
type Method int

const (
	MethodPost Method = iota
	MethodGet
	MethodHead
	MethodPut
	MethodDelete
	MethodOptions
	MethodTrace
	MethodConnect
)

// Methods lists every method in declaration order.
var Methods = []Method{
	MethodPost, MethodGet, MethodHead, MethodPut,
	MethodDelete, MethodOptions, MethodTrace, MethodConnect,
}

var methodNames = [...]string{
	MethodPost:    http.MethodPost,
	MethodGet:     http.MethodGet,
	MethodHead:    http.MethodHead,
	MethodPut:     http.MethodPut,
	MethodDelete:  http.MethodDelete,
	MethodOptions: http.MethodOptions,
	MethodTrace:   http.MethodTrace,
	MethodConnect: http.MethodConnect,
}

// String returns the wire token of the method.
func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	return m >= 0 && int(m) < len(methodNames)
}

// ParseMethod maps a case-insensitive token to a Method.
func ParseMethod(s string) (Method, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, name := range methodNames {
		if name == up {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown method %q", ErrInvalidArgument, s)
}
