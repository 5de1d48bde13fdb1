package extract

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

// Monday 2025-03-03 09:00 UTC.
var monday = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

func on(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

func TestExtractResolvesAgainstReference(t *testing.T) {
	ex := New()
	cases := []struct {
		name     string
		text     string
		start    time.Time
		duration time.Duration
		title    string
	}{
		{"tomorrow clock and duration", "Schedule a team meeting tomorrow at 2 PM for 1 hour", on(4, 14, 0), time.Hour, "team meeting"},
		{"weekday without duration", "Doctor appointment Thursday 3 PM", on(6, 15, 0), 30 * time.Minute, "Doctor appointment"},
		{"relative minutes", "Call mom in 45 minutes", on(3, 9, 45), 30 * time.Minute, "Call mom"},
		{"clock range", "Workshop 11-1pm tomorrow", on(4, 11, 0), 2 * time.Hour, "Workshop"},
		{"half an hour at noon", "Sync tomorrow at noon for half an hour", on(4, 12, 0), 30 * time.Minute, "Sync"},
		{"fractional hours", "Review 1.5 hours tomorrow 10am", on(4, 10, 0), 90 * time.Minute, "Review"},
		{"24h clock", "plan a retro on friday at 16:30", on(7, 16, 30), 30 * time.Minute, "retro"},
		{"next weekday from same weekday", "Budget review next monday 10am", on(10, 10, 0), 30 * time.Minute, "Budget review"},
		{"bare weekday later today", "Lunch monday at 12:15 pm", on(3, 12, 15), 30 * time.Minute, "Lunch"},
		{"day after tomorrow", "Dentist the day after tomorrow at 8am for 90 minutes", on(5, 8, 0), 90 * time.Minute, "Dentist"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in, err := ex.Extract(tc.text, monday)
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if in.Ambiguous {
				t.Fatalf("unexpected ambiguity: %v", in.Ambiguities)
			}
			if !in.Start.Equal(tc.start) {
				t.Fatalf("start: got %v want %v", in.Start, tc.start)
			}
			if in.Duration != tc.duration {
				t.Fatalf("duration: got %v want %v", in.Duration, tc.duration)
			}
			if in.Title != tc.title {
				t.Fatalf("title: got %q want %q", in.Title, tc.title)
			}
		})
	}
}

func TestExtractDefaultsAreFlagged(t *testing.T) {
	in, err := New().Extract("Doctor appointment Thursday 3 PM", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !in.DurationDefaulted || in.Duration != DefaultDuration {
		t.Fatalf("expected default duration, got %v (defaulted=%v)", in.Duration, in.DurationDefaulted)
	}
	if in.HasReminder {
		t.Fatal("no reminder was requested")
	}

	in, err = New(WithDefaultDuration(45*time.Minute), WithDefaultTimeOfDay(10*time.Hour)).
		Extract("Team offsite on 2025-03-10", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if in.Duration != 45*time.Minute {
		t.Fatalf("configured duration not applied: %v", in.Duration)
	}
	if !in.TimeDefaulted || !in.Start.Equal(on(10, 10, 0)) {
		t.Fatalf("configured time of day not applied: %v", in.Start)
	}
	if in.Title != "Team offsite" {
		t.Fatalf("title: %q", in.Title)
	}
}

func TestExtractReminder(t *testing.T) {
	in, err := New().Extract("Dentist on Friday at 10:30 am, remind me 15 minutes before", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !in.HasReminder || in.Reminder != 15*time.Minute {
		t.Fatalf("reminder: got %v (has=%v)", in.Reminder, in.HasReminder)
	}
	if !in.Start.Equal(on(7, 10, 30)) {
		t.Fatalf("start: %v", in.Start)
	}
	if in.Title != "Dentist" {
		t.Fatalf("title: %q", in.Title)
	}
}

func TestExtractAmbiguousTimes(t *testing.T) {
	in, err := New().Extract("Schedule a call tomorrow at 2pm or maybe 3pm", monday)
	if err != nil {
		t.Fatalf("ambiguity must not fail extraction: %v", err)
	}
	if !in.Ambiguous {
		t.Fatal("expected ambiguity flag")
	}
	if len(in.Ambiguities) != 1 || in.Ambiguities[0] != "multiple times" {
		t.Fatalf("unexpected reasons: %v", in.Ambiguities)
	}

	in, err = New().Extract("Standup in 10 minutes tomorrow", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !in.Ambiguous {
		t.Fatal("relative instant combined with a date should be ambiguous")
	}
}

func TestExtractRepeatedSameTimeIsNotAmbiguous(t *testing.T) {
	in, err := New().Extract("Call at 2pm, yes 2pm tomorrow", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if in.Ambiguous {
		t.Fatalf("identical clocks should agree: %v", in.Ambiguities)
	}
}

func TestExtractUnparsable(t *testing.T) {
	for _, text := range []string{"", "Schedule a team meeting", "hello there"} {
		if _, err := New().Extract(text, monday); !errors.Is(err, ErrUnparsableRequest) {
			t.Fatalf("%q: expected ErrUnparsableRequest, got %v", text, err)
		}
	}
}

func TestExtractRollsPastClockToTomorrow(t *testing.T) {
	in, err := New().Extract("Standup at 8:30 am", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !in.RolledForward || !in.Start.Equal(on(4, 8, 30)) {
		t.Fatalf("expected roll to tomorrow, got %v (rolled=%v)", in.Start, in.RolledForward)
	}
}

func TestExtractTitleFallback(t *testing.T) {
	in, err := New().Extract("tomorrow at 3pm", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if in.Title != DefaultTitle || !in.TitleDefaulted {
		t.Fatalf("expected placeholder title, got %q", in.Title)
	}
	if !strings.Contains(strings.ToLower(in.StartPhrase), "tomorrow") {
		t.Fatalf("start phrase: %q", in.StartPhrase)
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	ex := New()
	text := "Schedule a team meeting tomorrow at 2 PM for 1 hour, remind me 10 min before"
	first, err := ex.Extract(text, monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := ex.Extract(text, monday)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, again)
		}
	}
	if first.End() != first.Start.Add(time.Hour) {
		t.Fatalf("end: %v", first.End())
	}
}

func TestExtractFollowsReferenceLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	ref := time.Date(2025, 3, 3, 9, 0, 0, 0, loc)
	in, err := New().Extract("Review tomorrow at 2 PM", ref)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := time.Date(2025, 3, 4, 14, 0, 0, 0, loc)
	if !in.Start.Equal(want) {
		t.Fatalf("start: got %v want %v", in.Start, want)
	}
}

func TestRulesReadTheirCaptures(t *testing.T) {
	cases := map[string]struct {
		text string
		kind fragmentKind
	}{
		"reminder":           {"remind me 15 minutes before", kindReminder},
		"reminder-verb":      {"remind me 20 min", kindReminder},
		"relative-instant":   {"in 2 hours", kindInstant},
		"relative-days":      {"in 3 days", kindDate},
		"clock-range":        {"9-11am", kindClock},
		"duration-for":       {"for 45 minutes", kindDuration},
		"duration-bare":      {"90 min", kindDuration},
		"day-after-tomorrow": {"the day after tomorrow", kindDate},
		"relative-day":       {"tomorrow", kindDate},
		"weekday":            {"next friday", kindDate},
		"iso-date":           {"2025-04-01", kindDate},
		"month-day":          {"march 14th", kindDate},
		"noon-midnight":      {"at midnight", kindClock},
		"clock-12h":          {"3:45 pm", kindClock},
		"clock-24h":          {"18:05", kindClock},
		"clock-bare-hour":    {"at 17", kindClock},
	}
	for _, r := range rules {
		tc, ok := cases[r.name]
		if !ok {
			t.Errorf("rule %s has no case", r.name)
			continue
		}
		s := newScan(tc.text)
		s.apply(r)
		if len(s.fragments) == 0 {
			t.Errorf("rule %s did not match %q", r.name, tc.text)
			continue
		}
		if s.fragments[0].kind != tc.kind {
			t.Errorf("rule %s: got kind %d want %d", r.name, s.fragments[0].kind, tc.kind)
		}
	}
}

func TestExtractBareHour(t *testing.T) {
	for _, text := range []string{"Meeting tomorrow at 2", "Call with Bob at 4 tomorrow", "Sync @ 9 on friday"} {
		in, err := New().Extract(text, monday)
		if err != nil {
			t.Fatalf("%q: %v", text, err)
		}
		if !in.Ambiguous || in.Ambiguities[0] != "time without am or pm" {
			t.Fatalf("%q: expected am/pm ambiguity, got %v", text, in.Ambiguities)
		}
		if in.TimeDefaulted {
			t.Fatalf("%q: explicit hour replaced by default", text)
		}
		if strings.Contains(in.Title, "at") || strings.Contains(in.Title, "@") {
			t.Fatalf("%q: clock left in title %q", text, in.Title)
		}
	}

	in, err := New().Extract("Retro tomorrow at 14", monday)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if in.Ambiguous || !in.Start.Equal(on(4, 14, 0)) || in.Title != "Retro" {
		t.Fatalf("24h hour: start=%v title=%q ambiguities=%v", in.Start, in.Title, in.Ambiguities)
	}
}
