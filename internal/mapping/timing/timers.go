// Package timing records coarse per-event latency to append-only log files
// and accumulates named process timers whose printout accompanies each event.
package timing

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Registry accumulates named timer statistics: sample count, total, min and
// max. It backs the process-timing dump written alongside each event.
type Registry struct {
	mu     sync.Mutex
	timers map[string]*accum
	now    func() time.Time
}

type accum struct {
	count    int64
	total    time.Duration
	min, max time.Duration
}

// NewRegistry creates an empty timer registry.
func NewRegistry() *Registry {
	return &Registry{
		timers: make(map[string]*accum),
		now:    time.Now,
	}
}

// Start begins a named timer and returns its stop function. Safe to call
// from any goroutine.
func (r *Registry) Start(name string) (stop func()) {
	begin := r.now()
	var once sync.Once
	return func() {
		once.Do(func() {
			r.Observe(name, r.now().Sub(begin))
		})
	}
}

// Observe records one sample for the named timer.
func (r *Registry) Observe(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.timers[name]
	if !ok {
		a = &accum{min: d, max: d}
		r.timers[name] = a
	}
	a.count++
	a.total += d
	if d < a.min {
		a.min = d
	}
	if d > a.max {
		a.max = d
	}
}

// Print renders the accumulated timers, one per line, sorted by name:
//
//	name  calls  total  mean  [min, max]
func (r *Registry) Print() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.timers))
	for name := range r.timers {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("timers\n")
	for _, name := range names {
		a := r.timers[name]
		mean := a.total / time.Duration(a.count)
		fmt.Fprintf(&b, "  %-32s %6d  %12v  %12v  [%v, %v]\n",
			name, a.count, a.total, mean, a.min, a.max)
	}
	return b.String()
}
