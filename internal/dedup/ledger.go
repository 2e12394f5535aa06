// Package dedup remembers which command IDs have been executed so that a
// command seen on both the push and the poll path runs only once.
package dedup

import "github.com/llehouerou/jukebox/internal/command"

// DefaultCapacity is the number of processed IDs kept by default.
const DefaultCapacity = 1000

// Ledger tracks processed and in-flight command IDs.
//
// When the processed set grows past its capacity the oldest half is evicted.
// Ledger is not safe for concurrent use; it lives on the dispatch goroutine.
type Ledger struct {
	capacity   int
	processed  map[string]command.Status
	order      []string
	processing map[string]struct{}
}

// New creates a ledger. A capacity <= 0 uses DefaultCapacity.
func New(capacity int) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ledger{
		capacity:   capacity,
		processed:  make(map[string]command.Status, capacity),
		order:      make([]string, 0, capacity),
		processing: make(map[string]struct{}),
	}
}

// Claim marks id as processing and processed and reports whether the caller
// should execute it. A second Claim for the same id returns false.
func (l *Ledger) Claim(id string) bool {
	if _, ok := l.processed[id]; ok {
		return false
	}
	if _, ok := l.processing[id]; ok {
		return false
	}
	l.processing[id] = struct{}{}
	l.markProcessed(id, command.StatusPending)
	return true
}

// Complete records the terminal status of id and clears its processing mark.
func (l *Ledger) Complete(id string, status command.Status) {
	delete(l.processing, id)
	if _, ok := l.processed[id]; ok {
		l.processed[id] = status
		return
	}
	l.markProcessed(id, status)
}

// IsProcessed reports whether id was ever claimed and is still remembered.
func (l *Ledger) IsProcessed(id string) bool {
	_, ok := l.processed[id]
	return ok
}

// IsProcessing reports whether id is currently executing.
func (l *Ledger) IsProcessing(id string) bool {
	_, ok := l.processing[id]
	return ok
}

// Status returns the recorded status of a processed id.
// It is pending while the command is still executing.
func (l *Ledger) Status(id string) (command.Status, bool) {
	s, ok := l.processed[id]
	return s, ok
}

// Len returns the number of remembered processed IDs.
func (l *Ledger) Len() int {
	return len(l.processed)
}

func (l *Ledger) markProcessed(id string, status command.Status) {
	l.processed[id] = status
	l.order = append(l.order, id)
	if len(l.order) <= l.capacity {
		return
	}
	evict := len(l.order) / 2
	for _, old := range l.order[:evict] {
		if _, busy := l.processing[old]; busy {
			// keep in-flight IDs; they are re-appended below
			continue
		}
		delete(l.processed, old)
	}
	kept := make([]string, 0, l.capacity)
	for _, old := range l.order[:evict] {
		if _, ok := l.processed[old]; ok {
			kept = append(kept, old)
		}
	}
	l.order = append(kept, l.order[evict:]...)
}
