package server

import (
	"context"
	"sync"
)

// DefaultLogCapacity is the number of entries each log retains.
const DefaultLogCapacity = 1000

// EventLog is a bounded, ordered log. Entries are appended with
// monotonically increasing sequence numbers; once the log holds capacity
// entries the oldest is evicted. Subscribers can replay from any retained
// point.
type EventLog[T any] struct {
	mu       sync.Mutex
	entries  []T
	first    uint64 // seq of entries[0]
	seq      uint64 // seq of the last appended entry
	capacity int
	stamp    func(*T, uint64)
	notify   chan struct{} // closed and replaced on each append
}

// NewEventLog creates an empty log holding at most capacity entries. stamp,
// when non-nil, records the assigned sequence number on each entry.
func NewEventLog[T any](capacity int, stamp func(*T, uint64)) *EventLog[T] {
	if capacity <= 0 {
		capacity = DefaultLogCapacity
	}
	return &EventLog[T]{
		first:    1,
		capacity: capacity,
		stamp:    stamp,
		notify:   make(chan struct{}),
	}
}

// Append adds e with the next sequence number, evicting the oldest entry
// when full, and wakes all subscribers.
func (l *EventLog[T]) Append(e T) uint64 {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	if l.stamp != nil {
		l.stamp(&e, seq)
	}
	if len(l.entries) >= l.capacity {
		// append reallocates once the resliced head exhausts the backing
		// array, copying only the live entries.
		var zero T
		l.entries[0] = zero
		l.entries = append(l.entries[1:], e)
		l.first++
	} else {
		l.entries = append(l.entries, e)
	}
	ch := l.notify
	l.notify = make(chan struct{})
	l.mu.Unlock()

	close(ch)
	return seq
}

// Entries returns a snapshot of the retained entries, oldest first.
func (l *EventLog[T]) Entries() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]T, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of retained entries.
func (l *EventLog[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Seq returns the sequence number of the last appended entry.
func (l *EventLog[T]) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Last returns the most recently appended entry still retained.
func (l *EventLog[T]) Last() (T, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var zero T
	if len(l.entries) == 0 {
		return zero, false
	}
	return l.entries[len(l.entries)-1], true
}

// Since returns the retained entries with sequence number > seq.
func (l *EventLog[T]) Since(seq uint64) []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch, _ := l.entriesSince(seq)
	return batch
}

// Clear drops every retained entry. Sequence numbers keep counting from
// where they were.
func (l *EventLog[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.first = l.seq + 1
}

// entriesSince returns entries with seq > seq and the seq of the last one
// returned. Entries already evicted are skipped. Caller must hold l.mu.
func (l *EventLog[T]) entriesSince(seq uint64) ([]T, uint64) {
	if seq >= l.seq {
		return nil, seq
	}
	start := 0
	if seq >= l.first {
		start = int(seq - l.first + 1)
	}
	if start >= len(l.entries) {
		return nil, l.seq
	}
	out := make([]T, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out, l.seq
}

// Subscribe returns a channel that replays retained entries after fromSeq
// and then streams new ones. The channel is closed when ctx is cancelled.
//
// The channel is buffered (256). A subscriber that falls behind loses
// entries; appends never block.
func (l *EventLog[T]) Subscribe(ctx context.Context, fromSeq uint64) <-chan T {
	ch := make(chan T, 256)

	go func() {
		defer close(ch)

		cursor := fromSeq
		for {
			l.mu.Lock()
			batch, last := l.entriesSince(cursor)
			notify := l.notify
			l.mu.Unlock()

			for _, e := range batch {
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				default:
					// subscriber fell behind
				}
			}
			cursor = last

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
