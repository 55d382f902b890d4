package util

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type Scheduler struct {
	C <-chan time.Time
}

func NextSchedule(now time.Time, offset time.Duration, d time.Duration) time.Time {
	t := now.Truncate(d).Add(offset)
	if t.After(now) {
		return t
	} else {
		return t.Add(d)
	}
}

// A schedulable Ticker
// NewScheduler returns a new Scheduler containing a channel that will send
// the time with a period specified by the duration argument, at the specified
// offset into the day.
func NewScheduler(offset time.Duration, d time.Duration) *Scheduler {
	if d <= 0 {
		panic(errors.New("non-positive interval for NewScheduler"))
	}

	now := time.Now()
	next := NextSchedule(now, offset, d)
	dnext := next.Sub(now)

	// Give the channel a 1-element time buffer.
	// If the client falls behind while reading, we drop ticks
	// on the floor until the client catches up.
	c := make(chan time.Time, 1)
	t := &Scheduler{
		C: c,
	}

	time.AfterFunc(dnext, func() {
		for {
			c <- time.Now()
			next = next.Add(d)
			dnext = next.Sub(time.Now())
			time.Sleep(dnext)
		}
	})

	return t
}

// plural formats n with a unit word, pluralised. Zero gives "".
func plural(n int, unit string) string {
	switch n {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%d %s", n, unit)
	default:
		return fmt.Sprintf("%d %ss", n, unit)
	}
}

// compact formats n with a unit abbreviation. Zero gives "".
func compact(n int, unit string) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprintf("%d%s", n, unit)
}

func pair(a, b string) string {
	if a != "" && b != "" {
		return a + " " + b
	}
	return a + b
}

var longUnits = []string{"day", "hour", "minute", "second", "millisecond", "nanosecond"}
var shortUnits = []string{"d", "h", "m", "s", "ms", "ns"}

// formatDuration renders d as its two leading components, eg "1 day 2 hours".
// Durations under a second reduce to a single millisecond component, or for
// the long form, nanoseconds.
func formatDuration(d time.Duration, units []string, part func(int, string) string, nanos bool, zero string) string {
	switch {
	case d.Hours() >= 24:
		days := int(d.Hours() / 24)
		hours := int(d.Hours()) - days*24
		return pair(part(days, units[0]), part(hours, units[1]))
	case d.Hours() >= 1:
		hours := int(d.Hours())
		mins := int(d.Minutes()) - 60*hours
		return pair(part(hours, units[1]), part(mins, units[2]))
	case d.Minutes() >= 1:
		mins := int(d.Minutes())
		secs := int(d.Seconds()) - 60*mins
		return pair(part(mins, units[2]), part(secs, units[3]))
	case d.Seconds() >= 1:
		return part(int(d.Seconds()), units[3])
	case d >= time.Microsecond:
		return part(int(d.Seconds()*1000), units[4])
	case nanos && d > 0:
		return part(int(d.Nanoseconds()), units[5])
	}
	return zero
}

// FriendlyDuration renders a duration in words ("5 hours 59 minutes").
func FriendlyDuration(d time.Duration) string {
	return formatDuration(d, longUnits, plural, true, "0 seconds")
}

// ShortDuration renders a duration tersely ("5h 59m").
func ShortDuration(d time.Duration) string {
	return formatDuration(d, shortUnits, compact, false, "0s")
}

var DOW = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
	"mon":       time.Monday,
	"tue":       time.Tuesday,
	"wed":       time.Wednesday,
	"thu":       time.Thursday,
	"fri":       time.Friday,
	"sat":       time.Saturday,
	"sun":       time.Sunday,
}

var durationUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
	"w": 7 * 24 * time.Hour,
	"y": 365 * 24 * time.Hour,
}

var reDur1 = regexp.MustCompile(`^(\d+(?:\.\d+)?)([smhdwy])$`)
var reDur2 = regexp.MustCompile(`^(\d+(?:\.\d+)?)([smhdwy])\s*(\d+(?:\.\d+)?)([smhdwy])$`)

func duration(m []string) time.Duration {
	f, _ := strconv.ParseFloat(m[0], 64)
	return time.Duration(f * float64(durationUnits[m[1]]))
}

// ParseDuration does the same as time.ParseDuration but understands more
// units (d for day, w for week, y for year).
func ParseDuration(s string) (total time.Duration, err error) {
	s = strings.TrimSpace(s)

	m1 := reDur1.FindStringSubmatch(s)
	if m1 != nil {
		return duration(m1[1:3]), nil
	}

	m2 := reDur2.FindStringSubmatch(s)
	if m2 != nil {
		return duration(m2[1:3]) + duration(m2[3:5]), nil
	}

	return 0, errors.New("invalid duration")
}

const weekday = "(?i)(Sun|Mon|Tue|Wed|Thu|Fri|Sat|Sunday|Monday|Tuesday|Wednesday|Thursday|Friday|Saturday)"

var reWeekday = regexp.MustCompile("^" + weekday + "$")
var reWeekdayTime = regexp.MustCompile("^" + weekday + ` (\d+(?:am|pm))$`)

func ParseDay(now time.Time, s string) time.Time {
	n := int(DOW[strings.ToLower(s)] - now.Weekday())
	if n <= 0 {
		n += 7
	}
	return now.Truncate(time.Hour * 24).Add(24 * time.Hour * time.Duration(n))
}

func ParseTime(s string) time.Duration {
	t, _ := time.Parse("3pm", s)
	return time.Hour * time.Duration(t.Hour())
}

// ParseRelative understands durations and relative time points (eg Sunday 7pm)
func ParseRelative(now time.Time, s string) (time.Time, error) {
	s = strings.TrimSpace(s)

	d, err := ParseDuration(s)
	if err == nil {
		return now.Add(d), nil
	}

	m1 := reWeekday.FindStringSubmatch(s)
	if m1 != nil {
		return ParseDay(now, m1[1]), nil
	}

	m2 := reWeekdayTime.FindStringSubmatch(s)
	if m2 != nil {
		d := ParseDay(now, m2[1]).Add(ParseTime(m2[2]))
		return d, nil
	}

	return time.Time{}, errors.New("invalid relative time")
}
