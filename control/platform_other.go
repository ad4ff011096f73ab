//go:build !linux

// control/platform_other.go
// Author: momentics <momentics@gmail.com>

package control

// RegisterPlatformProbes adds the portable runtime probes.
func RegisterPlatformProbes(dp *DebugProbes) {
	registerCommonProbes(dp)
}
