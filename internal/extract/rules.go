package extract

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

type fragmentKind int

const (
	kindDate fragmentKind = iota
	kindClock
	kindInstant
	kindDuration
	kindReminder
)

type dayKind int

const (
	dayOffset dayKind = iota
	dayWeekday
	dayNextWeekday
	dayAbsolute
	dayMonthDay
)

// dayRef is a date expression that still needs the reference instant to resolve.
type dayRef struct {
	kind    dayKind
	offset  int
	weekday time.Weekday
	year    int
	month   time.Month
	day     int
	// evening marks "tonight": without an explicit clock it defaults to 20:00.
	evening bool
}

type clock struct {
	hour, minute int
}

func (c clock) offset() time.Duration {
	return time.Duration(c.hour)*time.Hour + time.Duration(c.minute)*time.Minute
}

// fragment is the partial result of one rule match.
type fragment struct {
	kind   fragmentKind
	phrase string
	pos    int

	day     dayRef
	clock   clock
	instant time.Duration // offset from the reference instant
	dur     time.Duration

	// unclear is set when the phrase was recognised but cannot be read one way only.
	unclear string
}

// rule recognises one kind of phrase. parse returns false to leave the match
// unclaimed, e.g. for "13 pm".
type rule struct {
	name  string
	re    *regexp.Regexp
	parse func(m []string) ([]fragment, bool)
}

const (
	qty  = `(\d+(?:\.\d+)?|half\s+an?|an?|one|two|three|four|five|six|ten|fifteen|twenty|thirty|forty-five)`
	unit = `(minutes?|mins?|m|hours?|hrs?|h)`
	week = `(monday|tuesday|tues|wednesday|thursday|thurs|friday|saturday|sunday)`
	mon  = `(january|february|march|april|may|june|july|august|september|october|november|december|jan|feb|mar|apr|jun|jul|aug|sept|sep|oct|nov|dec)`
	at   = `(?:\bat\s+|@\s*|\bby\s+|\baround\s+)?`
)

// rules run in this order; earlier rules claim text before later ones see it.
var rules = []rule{
	{
		name: "reminder",
		re:   regexp.MustCompile(`\b(?:(?:remind|notify|alert|ping)(?:\s+me)?\s+)?` + qty + `\s*` + unit + `\s+(?:before(?:hand)?|prior|earlier|ahead(?:\s+of\s+time)?|in\s+advance)\b`),
		parse: func(m []string) ([]fragment, bool) {
			d, ok := quantity(m[1], m[2])
			if !ok {
				return nil, false
			}
			return []fragment{{kind: kindReminder, dur: d}}, true
		},
	},
	{
		name: "reminder-verb",
		re:   regexp.MustCompile(`\b(?:remind|notify|alert|ping)(?:\s+me)?\s+(\d+)\s*` + unit + `\b`),
		parse: func(m []string) ([]fragment, bool) {
			d, ok := quantity(m[1], m[2])
			if !ok {
				return nil, false
			}
			return []fragment{{kind: kindReminder, dur: d}}, true
		},
	},
	{
		name: "relative-instant",
		re:   regexp.MustCompile(`\bin\s+` + qty + `\s*(minutes?|mins?|hours?|hrs?)\b`),
		parse: func(m []string) ([]fragment, bool) {
			d, ok := quantity(m[1], m[2])
			if !ok || d <= 0 {
				return nil, false
			}
			return []fragment{{kind: kindInstant, instant: d}}, true
		},
	},
	{
		name: "relative-days",
		re:   regexp.MustCompile(`\bin\s+(\d+|an?|one|two|three|four|five|six|ten)\s+(days?|weeks?)\b`),
		parse: func(m []string) ([]fragment, bool) {
			n, ok := number(m[1])
			if !ok || n != float64(int(n)) {
				return nil, false
			}
			days := int(n)
			if strings.HasPrefix(m[2], "week") {
				days *= 7
			}
			return []fragment{{kind: kindDate, day: dayRef{kind: dayOffset, offset: days}}}, true
		},
	},
	{
		name: "clock-range",
		re: regexp.MustCompile(`(?:\bfrom\s+|\bbetween\s+)?\b(\d{1,2})(?::([0-5]\d))?\s*(?:([ap])\.?m\.?)?\s*(?:-|to|until|till|and)\s*` +
			`(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\b\.?`),
		parse: func(m []string) ([]fragment, bool) {
			end, ok := twelveHour(m[4], m[5], m[6])
			if !ok {
				return nil, false
			}
			meridiem := m[3]
			if meridiem == "" {
				meridiem = m[6]
			}
			start, ok := twelveHour(m[1], m[2], meridiem)
			if !ok {
				return nil, false
			}
			span := end.offset() - start.offset()
			if span <= 0 && m[3] == "" && meridiem == "p" {
				// "11-1pm": the start belongs to the morning.
				if start, ok = twelveHour(m[1], m[2], "a"); !ok {
					return nil, false
				}
				span = end.offset() - start.offset()
			}
			if span <= 0 {
				return nil, false
			}
			return []fragment{{kind: kindClock, clock: start}, {kind: kindDuration, dur: span}}, true
		},
	},
	{
		name: "duration-for",
		re:   regexp.MustCompile(`\bfor\s+(?:about\s+|around\s+)?` + qty + `\s*-?\s*` + unit + `(?:\s+long)?\b`),
		parse: func(m []string) ([]fragment, bool) {
			d, ok := quantity(m[1], m[2])
			if !ok {
				return nil, false
			}
			return []fragment{{kind: kindDuration, dur: d}}, true
		},
	},
	{
		name: "duration-bare",
		re:   regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*-?\s*` + unit + `(?:\s+long)?\b`),
		parse: func(m []string) ([]fragment, bool) {
			d, ok := quantity(m[1], m[2])
			if !ok {
				return nil, false
			}
			return []fragment{{kind: kindDuration, dur: d}}, true
		},
	},
	{
		name: "day-after-tomorrow",
		re:   regexp.MustCompile(`\b(?:the\s+)?day\s+after\s+tomorrow\b`),
		parse: func([]string) ([]fragment, bool) {
			return []fragment{{kind: kindDate, day: dayRef{kind: dayOffset, offset: 2}}}, true
		},
	},
	{
		name: "relative-day",
		re:   regexp.MustCompile(`\b(today|tonight|tomorrow|tmrw|tmr)\b`),
		parse: func(m []string) ([]fragment, bool) {
			ref := dayRef{kind: dayOffset}
			switch m[1] {
			case "tonight":
				ref.evening = true
			case "tomorrow", "tmrw", "tmr":
				ref.offset = 1
			}
			return []fragment{{kind: kindDate, day: ref}}, true
		},
	},
	{
		name: "weekday",
		re:   regexp.MustCompile(`\b(?:on\s+)?(?:(next|this|coming)\s+)?` + week + `\b`),
		parse: func(m []string) ([]fragment, bool) {
			wd, ok := weekdays[m[2]]
			if !ok {
				return nil, false
			}
			kind := dayWeekday
			if m[1] == "next" {
				kind = dayNextWeekday
			}
			return []fragment{{kind: kindDate, day: dayRef{kind: kind, weekday: wd}}}, true
		},
	},
	{
		name: "iso-date",
		re:   regexp.MustCompile(`\b(?:on\s+)?(\d{4})-(\d{2})-(\d{2})\b`),
		parse: func(m []string) ([]fragment, bool) {
			y, _ := strconv.Atoi(m[1])
			mo, _ := strconv.Atoi(m[2])
			d, _ := strconv.Atoi(m[3])
			if !validDate(y, time.Month(mo), d) {
				return nil, false
			}
			return []fragment{{kind: kindDate, day: dayRef{kind: dayAbsolute, year: y, month: time.Month(mo), day: d}}}, true
		},
	},
	{
		name: "month-day",
		re:   regexp.MustCompile(`\b(?:on\s+)?` + mon + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?\b`),
		parse: func(m []string) ([]fragment, bool) {
			mo := months[m[1]]
			d, _ := strconv.Atoi(m[2])
			if !validDate(2000, mo, d) {
				return nil, false
			}
			return []fragment{{kind: kindDate, day: dayRef{kind: dayMonthDay, month: mo, day: d}}}, true
		},
	},
	{
		name: "noon-midnight",
		re:   regexp.MustCompile(at + `\b(noon|midday|midnight)\b`),
		parse: func(m []string) ([]fragment, bool) {
			if m[1] == "midnight" {
				return []fragment{{kind: kindClock, clock: clock{}}}, true
			}
			return []fragment{{kind: kindClock, clock: clock{hour: 12}}}, true
		},
	},
	{
		name: "clock-12h",
		re:   regexp.MustCompile(at + `\b(\d{1,2})(?::([0-5]\d))?\s*([ap])\.?m\b\.?`),
		parse: func(m []string) ([]fragment, bool) {
			c, ok := twelveHour(m[1], m[2], m[3])
			if !ok {
				return nil, false
			}
			return []fragment{{kind: kindClock, clock: c}}, true
		},
	},
	{
		name: "clock-24h",
		re:   regexp.MustCompile(at + `\b([01]?\d|2[0-3]):([0-5]\d)\b`),
		parse: func(m []string) ([]fragment, bool) {
			h, _ := strconv.Atoi(m[1])
			mi, _ := strconv.Atoi(m[2])
			return []fragment{{kind: kindClock, clock: clock{hour: h, minute: mi}}}, true
		},
	},
	{
		// "at 14" is a 24h clock; "at 2" could be either half of the day.
		name: "clock-bare-hour",
		re:   regexp.MustCompile(`(?:\bat\s+|@\s*|\baround\s+)(\d{1,2})(?:\s*o'?clock)?\b`),
		parse: func(m []string) ([]fragment, bool) {
			h, _ := strconv.Atoi(m[1])
			switch {
			case h > 23:
				return nil, false
			case h == 0 || h > 12:
				return []fragment{{kind: kindClock, clock: clock{hour: h}}}, true
			}
			return []fragment{{kind: kindClock, clock: clock{hour: h}, unclear: "time without am or pm"}}, true
		},
	},
}

var weekdays = map[string]time.Weekday{
	"monday": time.Monday, "tuesday": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday, "sunday": time.Sunday,
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var numberWords = map[string]float64{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"ten": 10, "fifteen": 15, "twenty": 20, "thirty": 30, "forty-five": 45,
}

func number(s string) (float64, bool) {
	s = strings.Join(strings.Fields(s), " ")
	if strings.HasPrefix(s, "half ") {
		return 0.5, true
	}
	if v, ok := numberWords[s]; ok {
		return v, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// quantity converts "1.5"+"hours" into a duration rounded to the minute.
func quantity(q, u string) (time.Duration, bool) {
	n, ok := number(q)
	if !ok || n < 0 {
		return 0, false
	}
	per := time.Minute
	if strings.HasPrefix(u, "h") {
		per = time.Hour
	}
	return time.Duration(n * float64(per)).Round(time.Minute), true
}

func twelveHour(hour, minute, meridiem string) (clock, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return clock{}, false
	}
	mi := 0
	if minute != "" {
		mi, _ = strconv.Atoi(minute)
	}
	h %= 12
	if meridiem == "p" {
		h += 12
	}
	return clock{hour: h, minute: mi}, true
}

func validDate(y int, m time.Month, d int) bool {
	if m < time.January || m > time.December || d < 1 {
		return false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return t.Month() == m && t.Day() == d
}
