// Package msglog implements the bounded message log that backs client polls.
//
// The log is a raw append record, not a deduplicated chat history: every
// structurally valid reception and every locally originated message lands
// here, including mesh-level duplicates. Capacity is fixed; the oldest entry
// is overwritten when full. Clients poll with a cursor (the highest sequence
// they have consumed) and receive only newer entries, so a client that falls
// more than the capacity behind silently loses the overwritten ones.
package msglog

import "sync"

// DefaultCapacity is the retention window on a typical node.
const DefaultCapacity = 50

// Entry is one logged message. Sequence is a local monotonic counter starting
// at 1, assigned at append time; it is unrelated to mesh sequence numbers.
type Entry struct {
	Sequence    uint32 `json:"sequence"`
	DisplayName string `json:"displayName"`
	Text        string `json:"text"`
}

// Log is a concurrent-safe fixed-capacity ring of entries.
type Log struct {
	mu      sync.Mutex
	ring    []Entry
	next    int // next ring slot to overwrite
	used    int
	lastSeq uint32
}

// New creates a Log holding at most capacity entries.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{ring: make([]Entry, capacity)}
}

// Append stores a new entry, overwriting the oldest when full, and returns
// the sequence assigned to it.
func (l *Log) Append(displayName, text string) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeq++
	l.ring[l.next] = Entry{Sequence: l.lastSeq, DisplayName: displayName, Text: text}
	l.next = (l.next + 1) % len(l.ring)
	if l.used < len(l.ring) {
		l.used++
	}
	return l.lastSeq
}

// Query returns every retained entry with sequence > sinceSeq in ascending
// sequence order. Iteration starts at the logically oldest surviving entry,
// so order is independent of physical slot positions.
func (l *Log) Query(sinceSeq uint32) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0, l.used)
	// Oldest surviving entry sits at next when the ring has wrapped,
	// otherwise at slot 0.
	start := 0
	if l.used == len(l.ring) {
		start = l.next
	}
	for i := 0; i < l.used; i++ {
		e := l.ring[(start+i)%len(l.ring)]
		if e.Sequence > sinceSeq {
			out = append(out, e)
		}
	}
	return out
}

// LastSequence returns the most recently assigned sequence, 0 if none.
func (l *Log) LastSequence() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastSeq
}

// Len returns the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// Cap returns the fixed capacity.
func (l *Log) Cap() int {
	return len(l.ring)
}
