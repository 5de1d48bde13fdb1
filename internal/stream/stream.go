// Package stream fans audit entries out to live subscribers (SSE clients).
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"agentsched.org/internal/audit"
)

const bufferSize = 64

// Stream fan-outs audit entries to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

type subscriber struct {
	ch     chan audit.Entry
	filter audit.Filter
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for entries matching f. The channel is
// closed when ctx ends.
func (s *Stream) Subscribe(ctx context.Context, f audit.Filter) <-chan audit.Entry {
	ch := make(chan audit.Entry, bufferSize)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: f}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish implements audit.Publisher. Slow subscribers miss entries rather
// than blocking the audit log.
func (s *Stream) Publish(e audit.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if !sub.filter.Match(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			s.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
