// File: control/metrics_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRegistry_Basic(t *testing.T) {
	reg := NewMetricsRegistry()
	assert.True(t, reg.Updated().IsZero())

	reg.Set("threads", 4)
	assert.Equal(t, int64(3), reg.Add("requests", 3))
	assert.Equal(t, int64(1), reg.Add("requests", -2))

	snap := reg.GetSnapshot()
	assert.Equal(t, 4, snap["threads"])
	assert.Equal(t, int64(1), snap["requests"])
	assert.Zero(t, reg.Counter("missing"))
	assert.False(t, reg.Updated().IsZero())
}

func TestMetricsRegistry_ConcurrentAdd(t *testing.T) {
	reg := NewMetricsRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				reg.Add("n", 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(8000), reg.Counter("n"))
}

func TestDebugProbes_DumpState(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("a", func() any { return 1 })
	dp.RegisterProbe("b", func() any { return "x" })
	dp.RegisterProbe("a", func() any { return 2 })

	// A probe may register another probe without deadlocking.
	dp.RegisterProbe("self", func() any {
		dp.RegisterProbe("late", func() any { return true })
		return nil
	})

	state := dp.DumpState()
	assert.Equal(t, 2, state["a"])
	assert.Equal(t, "x", state["b"])
	assert.Contains(t, dp.DumpState(), "late")
}

func TestRegisterPlatformProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	state := dp.DumpState()
	assert.Positive(t, state["platform.cpus"])
	assert.Positive(t, state["platform.gomaxprocs"])
}
