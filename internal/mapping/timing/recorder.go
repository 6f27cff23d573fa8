package timing

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/submap.report/internal/monitoring"
)

// Entry is one recorded event: a label like "sent" or "received", the number
// of stored submaps at the time of the event, and the event's wall-clock
// timestamp.
type Entry struct {
	Label       string
	SubmapCount int
	Timestamp   time.Time
}

// Sink receives timing entries. Implementations: FileSink (append-only log
// files), MemorySink (tests), or nil for a disabled recorder.
type Sink interface {
	// Record appends one entry. dump is the process-timer printout captured
	// at the time of the event.
	Record(e Entry, dump string) error
}

// SessionID returns the identifier shared by all timing files of one process
// run: the session start time plus a short random suffix so restarts within
// the same second do not collide.
func SessionID(start time.Time) string {
	return start.UTC().Format("2006-01-02T15-04-05") + "_" + uuid.NewString()[:8]
}

// Recorder writes timing entries through a sink, attaching the process-timer
// dump from its registry. A Recorder with a nil sink is a no-op; a nil
// *Recorder is also safe to call.
type Recorder struct {
	sink     Sink
	registry *Registry
}

// NewRecorder creates a recorder. sink may be nil to disable recording;
// registry may be nil when no process timers are kept.
func NewRecorder(sink Sink, registry *Registry) *Recorder {
	return &Recorder{sink: sink, registry: registry}
}

// Registry returns the recorder's timer registry, or nil.
func (r *Recorder) Registry() *Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Record appends one event. Failures are logged and swallowed: timing is a
// best-effort side channel and never disturbs the core path.
func (r *Recorder) Record(label string, submapCount int, ts time.Time) {
	if r == nil || r.sink == nil {
		return
	}
	dump := ""
	if r.registry != nil {
		dump = r.registry.Print()
	}
	if err := r.sink.Record(Entry{Label: label, SubmapCount: submapCount, Timestamp: ts}, dump); err != nil {
		monitoring.Logf("timing: failed to record %q event: %v", label, err)
	}
}

// FileSink appends events to a pair of plain-text files in a directory, both
// named with the session identifier:
//
//	network_timing_<session>.txt  one line per event: "<ns> <count> <label>"
//	process_timing_<session>.txt  "<label> <count>" followed by the timer dump
//
// Files are opened, appended and closed per call. This tolerates process
// restarts interleaving with old files but does not guard against concurrent
// writers.
type FileSink struct {
	dir     string
	session string
}

// NewFileSink creates a FileSink writing into dir. Returns nil when dir is
// empty, which disables recording.
func NewFileSink(dir, session string) *FileSink {
	if dir == "" {
		return nil
	}
	return &FileSink{dir: dir, session: session}
}

// NetworkPath returns the network-timing file path.
func (s *FileSink) NetworkPath() string {
	return filepath.Join(s.dir, "network_timing_"+s.session+".txt")
}

// ProcessPath returns the process-timing file path.
func (s *FileSink) ProcessPath() string {
	return filepath.Join(s.dir, "process_timing_"+s.session+".txt")
}

// Record implements Sink.
func (s *FileSink) Record(e Entry, dump string) error {
	line := fmt.Sprintf("%d %d %s\n", e.Timestamp.UnixNano(), e.SubmapCount, e.Label)
	if err := appendToFile(s.NetworkPath(), line); err != nil {
		return fmt.Errorf("network timing: %w", err)
	}
	block := fmt.Sprintf("%s %d\n%s\n", e.Label, e.SubmapCount, dump)
	if err := appendToFile(s.ProcessPath(), block); err != nil {
		return fmt.Errorf("process timing: %w", err)
	}
	return nil
}

func appendToFile(path, text string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(text)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

// MemorySink collects entries in memory for tests.
type MemorySink struct {
	mu      sync.Mutex
	Entries []Entry
	Dumps   []string
}

// Record implements Sink.
func (s *MemorySink) Record(e Entry, dump string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Entries = append(s.Entries, e)
	s.Dumps = append(s.Dumps, dump)
	return nil
}

// Labels returns the recorded labels in order.
func (s *MemorySink) Labels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	labels := make([]string, len(s.Entries))
	for i, e := range s.Entries {
		labels[i] = e.Label
	}
	return labels
}
