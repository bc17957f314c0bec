package contest

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNotFound is returned by a Prober when the candidate occurrence does not
// exist upstream (never held, retracted, or not yet announced).
var ErrNotFound = errors.New("contest not found")

// Prober fetches the metadata of one candidate occurrence. Implementations
// return ErrNotFound for missing occurrences and any other error for
// failures that survived their retry policy.
type Prober interface {
	Contest(ctx context.Context, slug string) (Window, error)
}

// Direction selects which occurrence Resolve looks for.
type Direction int

const (
	// RecentCompleted finds the latest occurrence that ended before at.
	RecentCompleted Direction = iota
	// RecentIncludingUpcoming finds the highest-numbered occurrence that
	// exists, whether or not it has ended.
	RecentIncludingUpcoming
	// NextUpcoming finds the first occurrence that starts after at.
	NextUpcoming
)

// String returns the direction's flag spelling.
func (d Direction) String() string {
	switch d {
	case RecentCompleted:
		return "recent"
	case RecentIncludingUpcoming:
		return "latest"
	case NextUpcoming:
		return "next"
	}
	return "unknown"
}

// ParseDirection parses the spelling returned by Direction.String.
func ParseDirection(s string) (Direction, bool) {
	for _, d := range []Direction{RecentCompleted, RecentIncludingUpcoming, NextUpcoming} {
		if d.String() == s {
			return d, true
		}
	}
	return 0, false
}

// ascending reports whether candidates are scanned toward the future.
func (d Direction) ascending() bool {
	return d == NextUpcoming
}

// matches applies the direction's stop predicate.
func (d Direction) matches(w Window, at int64) bool {
	switch d {
	case RecentCompleted:
		return w.End < at && len(w.Problems) > 0
	case RecentIncludingUpcoming:
		return true
	case NextUpcoming:
		return w.Start > at
	}
	return false
}

// Scan bounds the candidate numbers probed around the estimate.
type Scan struct {
	// Span is the number of candidates probed in one resolution.
	Span int `mapstructure:"span"`
	// Lookahead is how far above the estimate descending scans begin, to
	// absorb cadence drift and extra occurrences.
	Lookahead int `mapstructure:"lookahead"`
}

// DefaultScan probes twenty candidates starting three above the estimate.
func DefaultScan() Scan {
	return Scan{Span: 20, Lookahead: 3}
}

// Resolver locates occurrence windows by probing candidate numbers.
type Resolver struct {
	prober Prober
	scan   Scan
	logger *slog.Logger
}

// NewResolver creates a Resolver probing through p.
func NewResolver(p Prober, scan Scan, logger *slog.Logger) *Resolver {
	if scan.Span <= 0 {
		scan.Span = DefaultScan().Span
	}
	if scan.Lookahead < 0 {
		scan.Lookahead = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{prober: p, scan: scan, logger: logger.With("component", "resolver")}
}

// Candidates returns the occurrence numbers Resolve probes, in scan order.
func (r *Resolver) Candidates(f Family, dir Direction, at time.Time) []int {
	est := f.Estimate(at)
	floor := max(f.MinNumber, 1)

	out := make([]int, 0, r.scan.Span)
	if dir.ascending() {
		for n := est; len(out) < r.scan.Span; n++ {
			out = append(out, n)
		}
		return out
	}
	for n := est + r.scan.Lookahead; n >= floor && len(out) < r.scan.Span; n-- {
		out = append(out, n)
	}
	return out
}

// Resolve returns the first candidate occurrence of family f that satisfies
// dir relative to at. The boolean is false when no candidate in the bounded
// scan matched; that is not an error. Only context cancellation is returned
// as an error.
func (r *Resolver) Resolve(ctx context.Context, f Family, dir Direction, at time.Time) (Window, bool, error) {
	candidates := r.Candidates(f, dir, at)
	r.logger.Debug("scanning candidates",
		"family", f.Name, "direction", dir.String(),
		"estimate", f.Estimate(at), "first", candidates[0], "count", len(candidates))

	for _, n := range candidates {
		if err := ctx.Err(); err != nil {
			return Window{}, false, err
		}
		slug := f.Slug(n)
		w, err := r.prober.Contest(ctx, slug)
		switch {
		case err == nil:
		case errors.Is(err, ErrNotFound):
			r.logger.Debug("candidate not found", "slug", slug)
			continue
		case ctx.Err() != nil:
			return Window{}, false, ctx.Err()
		default:
			r.logger.Warn("candidate probe failed, treating as not found", "slug", slug, "error", err)
			continue
		}

		if !dir.matches(w, at.Unix()) {
			r.logger.Debug("candidate does not match", "slug", slug, "window", w.String())
			continue
		}
		r.logger.Info("resolved contest", "family", f.Name, "direction", dir.String(), "window", w.String())
		return w, true, nil
	}

	r.logger.Warn("no matching contest in scan window", "family", f.Name, "direction", dir.String(), "candidates", len(candidates))
	return Window{}, false, nil
}
