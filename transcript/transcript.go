// Package transcript holds the conversation as an append-only log.
package transcript

import (
	"sync"
	"time"
)

type Role int

const (
	RoleUser Role = iota
	RoleBot
	RoleError
)

// Entry is immutable once appended. Seq starts at 1 and follows append
// order.
type Entry struct {
	Seq  uint64
	Role Role
	Text string
	At   time.Time
}

type Transcript struct {
	mu          sync.Mutex
	entries     []Entry
	subscribers []func(Entry)

	notifyMu sync.Mutex // keeps subscriber delivery in Seq order
}

func New() *Transcript {
	return &Transcript{}
}

// Subscribe registers fn to be called with every entry appended after the
// call. Subscribers run on the appending goroutine, outside the log lock.
func (t *Transcript) Subscribe(fn func(Entry)) {
	t.mu.Lock()
	t.subscribers = append(t.subscribers, fn)
	t.mu.Unlock()
}

// Append adds an entry to the end of the log and notifies subscribers.
func (t *Transcript) Append(role Role, text string) Entry {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	e := Entry{
		Seq:  uint64(len(t.entries)) + 1,
		Role: role,
		Text: text,
		At:   time.Now(),
	}
	t.entries = append(t.entries, e)
	subs := t.subscribers
	t.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
	return e
}

// Entries returns a copy of the log.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
