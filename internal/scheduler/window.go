package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// TimeWindow is a recurring local time-of-day interval, optionally tied to
// one weekday. Both ends are minutes after local midnight and inclusive.
type TimeWindow struct {
	AnyDay  bool
	Weekday time.Weekday
	Start   int
	End     int
}

// ParseWindow builds a TimeWindow from a weekday name ("" for every day) and
// "HH:MM" bounds.
func ParseWindow(weekday, start, end string) (TimeWindow, error) {
	w := TimeWindow{AnyDay: weekday == ""}
	if !w.AnyDay {
		d, err := parseWeekday(weekday)
		if err != nil {
			return TimeWindow{}, err
		}
		w.Weekday = d
	}

	var err error
	if w.Start, err = parseClock(start); err != nil {
		return TimeWindow{}, fmt.Errorf("window start: %w", err)
	}
	if w.End, err = parseClock(end); err != nil {
		return TimeWindow{}, fmt.Errorf("window end: %w", err)
	}
	if w.End < w.Start {
		return TimeWindow{}, fmt.Errorf("window end %s is before start %s", end, start)
	}
	return w, nil
}

// Contains reports whether local time t lies in the window. t must already
// be in the engine's location.
func (w TimeWindow) Contains(t time.Time) bool {
	if !w.AnyDay && t.Weekday() != w.Weekday {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return w.Start <= m && m <= w.End
}

// String renders the window as "sunday 09:34-09:35" or "daily 12:00-12:01".
func (w TimeWindow) String() string {
	day := "daily"
	if !w.AnyDay {
		day = strings.ToLower(w.Weekday.String())
	}
	return fmt.Sprintf("%s %02d:%02d-%02d:%02d", day, w.Start/60, w.Start%60, w.End/60, w.End%60)
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(s, d.String()) || strings.EqualFold(s, d.String()[:3]) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as HH:MM: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
