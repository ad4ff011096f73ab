//go:build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"
	"log/slog"

	"github.com/momentics/hioload-httpc/api"
)

// NewReactor returns an error for unsupported platforms.
func NewReactor(exec api.Executor, logger *slog.Logger) (EventReactor, error) {
	return nil, fmt.Errorf("reactor: %w on this platform", api.ErrNotSupported)
}
