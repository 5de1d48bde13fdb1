package extract

import (
	"sort"
	"strings"
	"time"
)

// Extractor parses scheduling requests. It is immutable and safe for concurrent use.
type Extractor struct {
	defaultDuration  time.Duration
	defaultTimeOfDay time.Duration
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDefaultDuration sets the duration used when the request names none.
func WithDefaultDuration(d time.Duration) Option {
	return func(e *Extractor) {
		if d > 0 {
			e.defaultDuration = d
		}
	}
}

// WithDefaultTimeOfDay sets the start time used when only a date is given,
// expressed as an offset from midnight.
func WithDefaultTimeOfDay(d time.Duration) Option {
	return func(e *Extractor) {
		if d >= 0 && d < 24*time.Hour {
			e.defaultTimeOfDay = d
		}
	}
}

// New constructs an Extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		defaultDuration:  DefaultDuration,
		defaultTimeOfDay: DefaultTimeOfDay,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DefaultDuration reports the duration applied when a request names none.
func (e *Extractor) DefaultDuration() time.Duration { return e.defaultDuration }

// Extract reads text relative to ref. The result depends only on text, ref
// and the extractor's options.
func (e *Extractor) Extract(text string, ref time.Time) (Intent, error) {
	s := newScan(text)
	for _, r := range rules {
		s.apply(r)
	}

	var (
		dates, clocks, instants, durations, reminders []fragment
	)
	for _, f := range s.fragments {
		switch f.kind {
		case kindDate:
			dates = append(dates, f)
		case kindClock:
			clocks = append(clocks, f)
		case kindInstant:
			instants = append(instants, f)
		case kindDuration:
			durations = append(durations, f)
		case kindReminder:
			reminders = append(reminders, f)
		}
	}
	if len(dates) == 0 && len(clocks) == 0 && len(instants) == 0 {
		return Intent{}, ErrUnparsableRequest
	}

	in := Intent{Raw: text, Reference: ref}
	in.StartPhrase = s.phrase(kindDate, kindClock, kindInstant)

	for _, f := range s.fragments {
		if f.unclear != "" {
			in.flag(f.unclear)
		}
	}

	if distinct(dates, func(f fragment) any { return f.day }) > 1 {
		in.flag("multiple dates")
	}
	if distinct(clocks, func(f fragment) any { return f.clock }) > 1 {
		in.flag("multiple times")
	}
	if distinct(instants, func(f fragment) any { return f.instant }) > 1 {
		in.flag("multiple relative times")
	}
	if len(instants) > 0 && (len(dates) > 0 || len(clocks) > 0) {
		in.flag("relative time conflicts with date or time")
	}
	if distinct(durations, func(f fragment) any { return f.dur }) > 1 {
		in.flag("multiple durations")
	}
	if distinct(reminders, func(f fragment) any { return f.dur }) > 1 {
		in.flag("multiple reminders")
	}

	switch {
	case len(instants) > 0:
		in.Start = ref.Add(instants[0].instant).Truncate(time.Minute)
	default:
		in.Start, in.TimeDefaulted, in.RolledForward = e.resolve(dates, clocks, ref)
	}

	if len(durations) > 0 {
		in.Duration = durations[0].dur
	} else {
		in.Duration = e.defaultDuration
		in.DurationDefaulted = true
	}
	if len(reminders) > 0 {
		in.Reminder = reminders[0].dur
		in.HasReminder = true
	}

	in.Title = s.title()
	if in.Title == "" {
		in.Title = DefaultTitle
		in.TitleDefaulted = true
	}
	return in, nil
}

// resolve combines the first date and the first clock into an absolute time in
// ref's location.
func (e *Extractor) resolve(dates, clocks []fragment, ref time.Time) (start time.Time, timeDefaulted, rolled bool) {
	loc := ref.Location()
	today := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, loc)

	var tod time.Duration
	switch {
	case len(clocks) > 0:
		tod = clocks[0].clock.offset()
	case len(dates) > 0 && dates[0].day.evening:
		tod = 20 * time.Hour
		timeDefaulted = true
	default:
		tod = e.defaultTimeOfDay
		timeDefaulted = true
	}
	at := func(day time.Time) time.Time {
		return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc).
			Add(tod)
	}

	if len(dates) == 0 {
		start = at(today)
		if start.Before(ref) {
			start = at(today.AddDate(0, 0, 1))
			rolled = true
		}
		return start, timeDefaulted, rolled
	}

	d := dates[0].day
	switch d.kind {
	case dayOffset:
		start = at(today.AddDate(0, 0, d.offset))
	case dayWeekday:
		ahead := (int(d.weekday) - int(today.Weekday()) + 7) % 7
		start = at(today.AddDate(0, 0, ahead))
		if ahead == 0 && start.Before(ref) {
			start = at(today.AddDate(0, 0, 7))
			rolled = true
		}
	case dayNextWeekday:
		ahead := (int(d.weekday) - int(today.Weekday()) + 7) % 7
		if ahead == 0 {
			ahead = 7
		}
		start = at(today.AddDate(0, 0, ahead))
	case dayAbsolute:
		start = at(time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc))
	case dayMonthDay:
		start = at(time.Date(today.Year(), d.month, d.day, 0, 0, 0, 0, loc))
		if start.Before(today) {
			start = at(time.Date(today.Year()+1, d.month, d.day, 0, 0, 0, 0, loc))
			rolled = true
		}
	}
	return start, timeDefaulted, rolled
}

func distinct(fs []fragment, key func(fragment) any) int {
	seen := make(map[any]struct{}, len(fs))
	for _, f := range fs {
		seen[key(f)] = struct{}{}
	}
	return len(seen)
}

type span struct{ start, end int }

// scan tracks which bytes of the request have been claimed by a rule.
type scan struct {
	text      string
	lower     string
	used      []bool
	spans     []span
	fragments []fragment
}

func newScan(text string) *scan {
	return &scan{
		text:  text,
		lower: asciiLower(text),
		used:  make([]bool, len(text)),
	}
}

func (s *scan) apply(r rule) {
	for _, loc := range r.re.FindAllStringSubmatchIndex(s.lower, -1) {
		start, end := loc[0], loc[1]
		if s.claimed(start, end) {
			continue
		}
		groups := make([]string, len(loc)/2)
		for i := range groups {
			if loc[2*i] >= 0 {
				groups[i] = s.lower[loc[2*i]:loc[2*i+1]]
			}
		}
		frags, ok := r.parse(groups)
		if !ok {
			continue
		}
		for i := start; i < end; i++ {
			s.used[i] = true
		}
		s.spans = append(s.spans, span{start, end})
		phrase := strings.TrimSpace(s.text[start:end])
		for _, f := range frags {
			f.phrase = phrase
			f.pos = start
			s.fragments = append(s.fragments, f)
		}
	}
}

func (s *scan) claimed(start, end int) bool {
	for i := start; i < end; i++ {
		if s.used[i] {
			return true
		}
	}
	return false
}

// phrase joins the matched text of the given kinds in reading order.
func (s *scan) phrase(kinds ...fragmentKind) string {
	want := make(map[fragmentKind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	var picked []fragment
	seen := map[int]bool{}
	for _, f := range s.fragments {
		if want[f.kind] && !seen[f.pos] {
			seen[f.pos] = true
			picked = append(picked, f)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })
	parts := make([]string, 0, len(picked))
	for _, f := range picked {
		parts = append(parts, f.phrase)
	}
	return strings.Join(parts, " ")
}

// title returns the first unclaimed stretch of text that survives cleanup.
func (s *scan) title() string {
	sort.Slice(s.spans, func(i, j int) bool { return s.spans[i].start < s.spans[j].start })
	prev := 0
	var segments []string
	for _, sp := range s.spans {
		segments = append(segments, s.text[prev:sp.start])
		prev = sp.end
	}
	segments = append(segments, s.text[prev:])
	for _, seg := range segments {
		if t := cleanTitle(seg); t != "" {
			return t
		}
	}
	return ""
}

const maxTitleLen = 120

var leadingPhrases = [][]string{
	{"please"}, {"can", "you"}, {"could", "you"}, {"would", "you"},
	{"i", "need", "to"}, {"i", "want", "to"}, {"i'd", "like", "to"}, {"let's"},
	{"remind", "me", "to"}, {"remind", "me", "about"}, {"remind", "me", "of"},
	{"schedule"}, {"plan"}, {"set", "up"}, {"setup"}, {"create"}, {"book"},
	{"add"}, {"arrange"}, {"organize"}, {"organise"}, {"put"}, {"make"},
	{"me"}, {"a"}, {"an"}, {"the"}, {"new"}, {"in"}, {"on"},
}

var trailingWords = map[string]bool{
	"at": true, "on": true, "for": true, "by": true, "from": true, "in": true,
	"this": true, "next": true, "coming": true, "starting": true, "around": true,
	"and": true, "or": true, "maybe": true, "perhaps": true, "to": true, "with": true,
	"the": true, "a": true, "an": true, "of": true, "about": true, "please": true,
	"me": true, "remind": true, "notify": true, "alert": true, "@": true,
}

func cleanTitle(seg string) string {
	words := strings.Fields(seg)
	for i := range words {
		words[i] = strings.Trim(words[i], ",.;:!?\"'()[]-")
	}
	words = compact(words)

	for changed := true; changed && len(words) > 0; {
		changed = false
		for _, p := range leadingPhrases {
			if hasPrefixFold(words, p) {
				words = words[len(p):]
				changed = true
				break
			}
		}
	}
	for len(words) > 0 && trailingWords[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	title := strings.Join(words, " ")
	if len(title) > maxTitleLen {
		title = strings.TrimSpace(title[:maxTitleLen])
	}
	return title
}

func compact(words []string) []string {
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

func hasPrefixFold(words, prefix []string) bool {
	if len(words) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if !strings.EqualFold(words[i], p) {
			return false
		}
	}
	return true
}

// asciiLower lower-cases ASCII letters only so byte offsets stay aligned with the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}
