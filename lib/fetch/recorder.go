package fetch

import (
	"sync"
	"time"
)

// Entry is one terminal outcome: either the final success of an operation
// or the fatal result it ended with after retries were spent.
type Entry struct {
	Kind     string
	Id       string
	Class    Class
	Err      string
	Attempts int
	Elapsed  time.Duration
	Time     time.Time
}

type Recorder interface {
	Record(Entry)
}

// MemoryLog is a goroutine-safe in-memory Recorder, used for run summaries
// and by tests.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

func (l *MemoryLog) Record(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
}

func (l *MemoryLog) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *MemoryLog) CountByClass(c Class) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if e.Class == c {
			n++
		}
	}
	return n
}

// MultiRecorder fans an entry out to several sinks.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(e Entry) {
	for _, r := range m {
		r.Record(e)
	}
}
