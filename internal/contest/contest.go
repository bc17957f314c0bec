// Package contest models recurring numbered contests and locates the window
// of a specific occurrence when upstream offers no lookup by date.
package contest

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Window is the authoritative time interval and problem set of one
// occurrence. Start and End are unix seconds, both inclusive.
type Window struct {
	Slug     string
	Title    string
	Start    int64
	End      int64
	Problems []string
}

// HasProblem reports whether id is one of the window's problems.
func (w Window) HasProblem(id string) bool {
	for _, p := range w.Problems {
		if p == id {
			return true
		}
	}
	return false
}

// Contains reports whether ts lies inside the window, inclusive on both ends.
func (w Window) Contains(ts int64) bool {
	return w.Start <= ts && ts <= w.End
}

// StartTime returns Start as a time.Time.
func (w Window) StartTime() time.Time { return time.Unix(w.Start, 0) }

// EndTime returns End as a time.Time.
func (w Window) EndTime() time.Time { return time.Unix(w.End, 0) }

// String formats the window for log lines.
func (w Window) String() string {
	return fmt.Sprintf("%s [%s .. %s] %d problem(s)",
		w.Slug,
		w.StartTime().UTC().Format(time.RFC3339),
		w.EndTime().UTC().Format(time.RFC3339),
		len(w.Problems))
}

// Status is the verdict of a single submission.
type Status int

const (
	// StatusOther covers every verdict that is not an accepted solution.
	StatusOther Status = iota
	// StatusAccepted is an accepted solution.
	StatusAccepted
)

// ParseStatus maps an upstream status label to a Status.
func ParseStatus(label string) Status {
	if label == "Accepted" {
		return StatusAccepted
	}
	return StatusOther
}

// Record is one submission from a participant's public history.
type Record struct {
	ProblemID string
	Timestamp int64
	Status    Status
}

// History is the activity of one identity. Known is false when upstream
// signalled that the identity does not exist; Records is then empty.
type History struct {
	Known   bool
	Records []Record
}

// Family describes a cadence family of contests, e.g. the weekly contests.
// The reference number and time pin one known occurrence so that the number
// of any other occurrence can be estimated from elapsed time.
type Family struct {
	Name       string
	SlugPrefix string
	Period     time.Duration
	RefNumber  int
	RefTime    time.Time
	MinNumber  int
}

// Slug returns the contest slug of occurrence n.
func (f Family) Slug(n int) string {
	return f.SlugPrefix + strconv.Itoa(n)
}

// Number extracts the occurrence number from slug, if it belongs to f.
func (f Family) Number(slug string) (int, bool) {
	rest, ok := strings.CutPrefix(slug, f.SlugPrefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Estimate returns the number of the occurrence expected to have started
// most recently at time at, never below the family's minimum number.
func (f Family) Estimate(at time.Time) int {
	floor := max(f.MinNumber, 1)
	if f.Period <= 0 {
		return max(f.RefNumber, floor)
	}
	elapsed := at.Unix() - f.RefTime.Unix()
	period := int64(f.Period / time.Second)
	n := f.RefNumber + int(floorDiv(elapsed, period))
	return max(n, floor)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Weekly returns the LeetCode weekly contest family. Weekly Contest 400
// started on 2024-06-02 02:30 UTC.
func Weekly() Family {
	return Family{
		Name:       "weekly",
		SlugPrefix: "weekly-contest-",
		Period:     7 * 24 * time.Hour,
		RefNumber:  400,
		RefTime:    time.Date(2024, time.June, 2, 2, 30, 0, 0, time.UTC),
		MinNumber:  1,
	}
}

// Biweekly returns the LeetCode biweekly contest family. Biweekly Contest
// 132 started on 2024-06-08 14:30 UTC.
func Biweekly() Family {
	return Family{
		Name:       "biweekly",
		SlugPrefix: "biweekly-contest-",
		Period:     14 * 24 * time.Hour,
		RefNumber:  132,
		RefTime:    time.Date(2024, time.June, 8, 14, 30, 0, 0, time.UTC),
		MinNumber:  1,
	}
}
