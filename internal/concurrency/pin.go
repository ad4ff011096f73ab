//go:build !linux

// hioload-httpc/internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// Fallback for platforms without a supported affinity call.

package concurrency

// PinCurrentThread is not supported on this platform.
func PinCurrentThread(cpu int) error { return ErrAffinityNotSupported }
