package sink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"agentsched.org/internal/event"
)

// ErrNotFound is returned for unknown event ids.
var ErrNotFound = errors.New("event not found")

// MemoryCalendar keeps records in process memory and rejects a second event
// for the same user and start time.
type MemoryCalendar struct {
	mu     sync.RWMutex
	events map[string]event.Record
}

// NewMemoryCalendar creates an empty calendar.
func NewMemoryCalendar() *MemoryCalendar {
	return &MemoryCalendar{events: make(map[string]event.Record)}
}

func (c *MemoryCalendar) Create(_ context.Context, rec event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasEventAt(rec.UserID, rec.Start) {
		return fmt.Errorf("%w: %s", event.ErrConflict, rec.Start.Format(time.RFC3339))
	}
	c.events[rec.ID] = rec
	return nil
}

func (c *MemoryCalendar) HasEventAt(_ context.Context, userID string, start time.Time) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasEventAt(userID, start), nil
}

func (c *MemoryCalendar) hasEventAt(userID string, start time.Time) bool {
	for _, e := range c.events {
		if e.UserID == userID && e.Start.Equal(start) {
			return true
		}
	}
	return false
}

func (c *MemoryCalendar) SetStatus(_ context.Context, id string, status event.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.events[id]
	if !ok {
		return ErrNotFound
	}
	rec.Status = status
	c.events[id] = rec
	return nil
}

// Get returns a copy of the stored record.
func (c *MemoryCalendar) Get(id string) (event.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.events[id]
	return rec, ok
}

// Events returns all records ordered by start time.
func (c *MemoryCalendar) Events() []event.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]event.Record, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, userID string, msg Message) error

func (f NotifierFunc) Send(ctx context.Context, userID string, msg Message) error {
	return f(ctx, userID, msg)
}

// Outbox records every message it is asked to send.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(_ context.Context, _ string, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of the delivered messages.
func (o *Outbox) Sent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}
