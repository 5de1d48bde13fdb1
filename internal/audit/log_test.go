package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agentsched.org/internal/obs"
)

var fixed = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func newLog(t *testing.T, store Store, opts ...Option) *Log {
	t.Helper()
	l, err := New(context.Background(), store, append([]Option{WithClock(func() time.Time { return fixed })}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return l
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	store := NewMemoryStore()
	l := newLog(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(context.Background(), Entry{Actor: "planner", Action: ActionPlan, Outcome: OutcomeSuccess})
		}()
	}
	wg.Wait()

	entries, err := l.Query(context.Background(), MaxLimit, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 50 {
		t.Fatalf("expected 50 entries, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Seq <= entries[i].Seq {
			t.Fatalf("entries not most-recent-first at %d: %d then %d", i, entries[i-1].Seq, entries[i].Seq)
		}
	}
	if entries[0].Seq != 50 || entries[len(entries)-1].Seq != 1 {
		t.Fatalf("unexpected sequence bounds %d..%d", entries[len(entries)-1].Seq, entries[0].Seq)
	}
}

func TestAppendStampsEntry(t *testing.T) {
	l := newLog(t, NewMemoryStore())
	ctx := WithRequestID(context.Background(), "req-123")
	e := l.Append(ctx, Entry{Actor: "orchestrator", Action: ActionNotify, Outcome: OutcomeFailed})
	if e.RequestID != "req-123" {
		t.Fatalf("request id not taken from context: %q", e.RequestID)
	}
	if !strings.HasPrefix(e.ID, "aud_") || !e.At.Equal(fixed) {
		t.Fatalf("unexpected stamp: %+v", e)
	}
}

func TestQueryLimitAndFilter(t *testing.T) {
	l := newLog(t, NewMemoryStore())
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Append(ctx, Entry{Actor: "planner", Action: ActionPlan, EventID: "evt_a", Outcome: OutcomeSuccess})
		l.Append(ctx, Entry{Actor: "notifier", Action: ActionNotify, EventID: "evt_b", Outcome: OutcomeFailed})
	}

	got, err := l.Query(ctx, 3, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 || got[0].Seq != 10 {
		t.Fatalf("unexpected page: %+v", got)
	}

	got, err = l.Query(ctx, 0, Filter{Actor: "notifier", Outcome: OutcomeFailed})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 notifier entries, got %d", len(got))
	}
	for _, e := range got {
		if e.EventID != "evt_b" {
			t.Fatalf("filter leaked %+v", e)
		}
	}
}

func TestNormalizeLimit(t *testing.T) {
	cases := map[int]int{-1: DefaultLimit, 0: DefaultLimit, 1: 1, 500: 500, MaxLimit + 1: MaxLimit}
	for in, want := range cases {
		if got := NormalizeLimit(in); got != want {
			t.Fatalf("NormalizeLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) Append(context.Context, Entry) error { return errors.New("disk full") }

func TestAppendFallsBackWhenStoreFails(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	l := newLog(t, &failingStore{})
	first := l.Append(context.Background(), Entry{Actor: "planner", Action: ActionPlan, Outcome: OutcomeSuccess, Detail: "planned"})
	second := l.Append(context.Background(), Entry{Actor: "planner", Action: ActionPlan, Outcome: OutcomeSuccess})
	if second.Seq <= first.Seq {
		t.Fatalf("sequence must advance even when the store fails: %d then %d", first.Seq, second.Seq)
	}

	line := strings.SplitN(buf.String(), "\n", 2)[0]
	var rec map[string]any
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		t.Fatalf("fallback line not JSON: %v (%q)", err, line)
	}
	if rec["type"] != "audit_fallback" || rec["detail"] != "planned" {
		t.Fatalf("unexpected fallback record: %v", rec)
	}
	if !strings.Contains(rec["error"].(string), "disk full") {
		t.Fatalf("error not recorded: %v", rec["error"])
	}
}

type recordingPublisher struct {
	mu      sync.Mutex
	entries []Entry
}

func (p *recordingPublisher) Publish(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, e)
}

func TestAppendPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	l := newLog(t, NewMemoryStore(), WithPublisher(pub))
	l.Append(context.Background(), Entry{Actor: "planner", Action: ActionPlan, Outcome: OutcomeSuccess})
	if len(pub.entries) != 1 || pub.entries[0].Seq != 1 {
		t.Fatalf("unexpected published entries: %+v", pub.entries)
	}
}

func TestNewContinuesAfterStoredSequence(t *testing.T) {
	store := NewMemoryStore()
	_ = store.Append(context.Background(), Entry{Seq: 41})
	l := newLog(t, store)
	if e := l.Append(context.Background(), Entry{Actor: "planner"}); e.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", e.Seq)
	}
}
