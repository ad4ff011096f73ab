// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-httpc components.

package benchmarks

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/momentics/hioload-httpc/client"
	"github.com/momentics/hioload-httpc/internal/concurrency"
)

// BenchmarkThreadPoolPost measures task hand-off through the shared queue.
func BenchmarkThreadPoolPost(b *testing.B) {
	tp := concurrency.NewThreadPool(4)
	if err := tp.Start(nil); err != nil {
		b.Fatal(err)
	}
	defer tp.Stop()

	var wg sync.WaitGroup
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wg.Add(1)
		if err := tp.Post(wg.Done); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

// BenchmarkStrandPost measures serialized execution from parallel posters.
func BenchmarkStrandPost(b *testing.B) {
	tp := concurrency.NewThreadPool(4)
	if err := tp.Start(nil); err != nil {
		b.Fatal(err)
	}
	defer tp.Stop()
	s := concurrency.NewStrand(tp, nil)

	var wg sync.WaitGroup
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			wg.Add(1)
			if err := s.Post(wg.Done); err != nil {
				b.Error(err)
				wg.Done()
			}
		}
	})
	wg.Wait()
}

// BenchmarkClientGet measures end-to-end request latency against a local server.
func BenchmarkClientGet(b *testing.B) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	c, err := client.New(client.WithThreads(4))
	if err != nil {
		b.Fatal(err)
	}
	defer c.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.AsyncGet(client.NewRequest(srv.URL)).Get(); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
