package monitoring

import (
	"log"
	"sync"
	"time"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Throttled emits at most one message per window for a given key. Repeated
// calls inside the window are counted and reported with the next emission.
type Throttled struct {
	mu         sync.Mutex
	window     time.Duration
	lastEmit   map[string]time.Time
	suppressed map[string]int
	now        func() time.Time
}

// NewThrottled creates a Throttled logger with the given window.
func NewThrottled(window time.Duration) *Throttled {
	return &Throttled{
		window:     window,
		lastEmit:   make(map[string]time.Time),
		suppressed: make(map[string]int),
		now:        time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (t *Throttled) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Logf logs through the package logger unless a message with the same key
// was emitted within the window. Returns true if the message was emitted.
func (t *Throttled) Logf(key, format string, v ...interface{}) bool {
	t.mu.Lock()
	now := t.now()
	last, seen := t.lastEmit[key]
	if seen && now.Sub(last) < t.window {
		t.suppressed[key]++
		t.mu.Unlock()
		return false
	}
	suppressed := t.suppressed[key]
	t.lastEmit[key] = now
	t.suppressed[key] = 0
	t.mu.Unlock()

	if suppressed > 0 {
		v = append(v, suppressed)
		Logf(format+" (%d similar messages suppressed)", v...)
	} else {
		Logf(format, v...)
	}
	return true
}
