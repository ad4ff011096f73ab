// File: engine/global.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide engine bootstrap. GlobalInit runs its body at most once per
// process; later calls return the first outcome.

package engine

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrNotInitialized is returned by NewMulti before GlobalInit succeeded.
var ErrNotInitialized = errors.New("engine: GlobalInit has not completed")

// reservedFDs is kept out of the transfer budget for the process itself.
const reservedFDs = 64

var global struct {
	once        sync.Once
	err         error
	initialized atomic.Bool
	runs        atomic.Int32

	maxTransfers int
	cache        *dnsCache
}

// GlobalInit sizes the socket budget from RLIMIT_NOFILE and creates the
// shared DNS cache.
func GlobalInit() error {
	global.once.Do(func() {
		global.runs.Add(1)
		var rl unix.Rlimit
		if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil {
			global.err = fmt.Errorf("engine: getrlimit: %w", err)
			return
		}
		budget := 1 << 20
		if rl.Cur < uint64(budget) {
			budget = int(rl.Cur)
		}
		budget -= reservedFDs
		if budget < 1 {
			budget = 1
		}
		global.maxTransfers = budget
		global.cache = newDNSCache(net.DefaultResolver, defaultDNSTTL)
		global.initialized.Store(true)
	})
	return global.err
}

// GlobalInitRuns reports how many times the bootstrap body executed.
func GlobalInitRuns() int { return int(global.runs.Load()) }

// MaxTransfers returns the process-wide transfer budget.
func MaxTransfers() int { return global.maxTransfers }
