// File: engine/resolve.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host resolution. Lookups run on their own goroutine and are polled by the
// transfer on timer ticks so the engine never blocks.

package engine

import (
	"context"
	"net"
	"net/netip"
	"sort"
	"sync"
	"time"
)

const (
	defaultDNSTTL      = 60 * time.Second
	defaultLookupLimit = 30 * time.Second
	minResolvePoll     = time.Millisecond
	maxResolvePoll     = 100 * time.Millisecond
)

type lookupResult struct {
	addrs []netip.Addr
	err   error
}

// lookup is one in-flight or completed resolution.
type lookup struct {
	ch     chan lookupResult
	cancel context.CancelFunc
}

// poll returns the result once available.
func (l *lookup) poll() (lookupResult, bool) {
	select {
	case r := <-l.ch:
		return r, true
	default:
		return lookupResult{}, false
	}
}

func (l *lookup) stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

type cacheEntry struct {
	addrs   []netip.Addr
	expires time.Time
}

type dnsCache struct {
	resolver *net.Resolver
	ttl      time.Duration

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newDNSCache(r *net.Resolver, ttl time.Duration) *dnsCache {
	return &dnsCache{resolver: r, ttl: ttl, entries: make(map[string]cacheEntry)}
}

// start begins resolving host. IP literals and fresh cache entries complete
// immediately.
func (c *dnsCache) start(host string) *lookup {
	l := &lookup{ch: make(chan lookupResult, 1)}
	if ip, err := netip.ParseAddr(host); err == nil {
		l.ch <- lookupResult{addrs: []netip.Addr{ip.Unmap()}}
		return l
	}
	if addrs, ok := c.get(host); ok {
		l.ch <- lookupResult{addrs: addrs}
		return l
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultLookupLimit)
	l.cancel = cancel
	go func() {
		defer cancel()
		addrs, err := c.resolver.LookupNetIP(ctx, "ip", host)
		if err == nil {
			addrs = orderAddrs(addrs)
			c.put(host, addrs)
		}
		l.ch <- lookupResult{addrs: addrs, err: err}
	}()
	return l
}

func (c *dnsCache) get(host string) ([]netip.Addr, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[host]
	if !ok || time.Now().After(e.expires) {
		delete(c.entries, host)
		return nil, false
	}
	return e.addrs, true
}

func (c *dnsCache) put(host string, addrs []netip.Addr) {
	if len(addrs) == 0 {
		return
	}
	c.mu.Lock()
	c.entries[host] = cacheEntry{addrs: addrs, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// orderAddrs unmaps 4in6 addresses and lists IPv4 before IPv6, keeping the
// resolver order within each family.
func orderAddrs(in []netip.Addr) []netip.Addr {
	out := make([]netip.Addr, 0, len(in))
	for _, a := range in {
		out = append(out, a.Unmap())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Is4() && !out[j].Is4() })
	return out
}
