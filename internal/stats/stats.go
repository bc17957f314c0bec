// Package stats refreshes each participant's total solved count and contest
// rating in the roster sheet.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/upstream"
)

// LabelInvalid marks both stat cells of an identity upstream does not know.
const LabelInvalid = "INVALID"

// Profiles looks up profile statistics of one identity.
type Profiles interface {
	Solved(ctx context.Context, identity string) (int, error)
	Rating(ctx context.Context, identity string) (float64, error)
}

// Roster is the tabular storage the refresher reads from and writes to.
type Roster interface {
	Participants(ctx context.Context) ([]sheet.Participant, error)
	WriteColumn(ctx context.Context, col int, cells []sheet.Cell) error
}

// Columns are the 1-based sheet columns receiving the statistics.
type Columns struct {
	Solved int
	Rating int
}

// Summary reports one refresh.
type Summary struct {
	Participants int
	Updated      int
	Invalid      int
	Failed       int
}

// Refresher updates the statistics columns.
type Refresher struct {
	profiles Profiles
	roster   Roster
	cols     Columns
	delay    func() time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a Refresher. delay is consulted between participants
// so that it can change while the process runs.
func NewRefresher(p Profiles, r Roster, cols Columns, delay func() time.Duration, logger *slog.Logger) *Refresher {
	if delay == nil {
		delay = func() time.Duration { return 0 }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{profiles: p, roster: r, cols: cols, delay: delay, logger: logger.With("component", "stats")}
}

// Refresh fetches statistics for every participant and writes both columns.
// A participant whose lookups fail keeps its previous cell values. The error
// is non-nil only when the roster could not be read or written.
func (r *Refresher) Refresh(ctx context.Context) (Summary, error) {
	participants, err := r.roster.Participants(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("reading participants: %w", err)
	}

	sum := Summary{Participants: len(participants)}
	var solved, rating []sheet.Cell
	for i, p := range participants {
		if i > 0 {
			if err := sleep(ctx, r.delay()); err != nil {
				return sum, err
			}
		}

		s, rt, err := r.lookup(ctx, p.Identity)
		switch {
		case errors.Is(err, upstream.ErrUnknownIdentity):
			r.logger.Warn("invalid identity", "identity", p.Identity, "row", p.Row)
			solved = append(solved, sheet.Cell{Row: p.Row, Value: LabelInvalid})
			rating = append(rating, sheet.Cell{Row: p.Row, Value: LabelInvalid})
			sum.Invalid++
		case err != nil:
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			r.logger.Error("stats lookup failed, leaving cells unchanged", "identity", p.Identity, "row", p.Row, "error", err)
			sum.Failed++
		default:
			r.logger.Debug("stats fetched", "identity", p.Identity, "solved", s, "rating", rt)
			solved = append(solved, sheet.Cell{Row: p.Row, Value: strconv.Itoa(s)})
			rating = append(rating, sheet.Cell{Row: p.Row, Value: FormatRating(rt)})
			sum.Updated++
		}
	}

	if err := r.roster.WriteColumn(ctx, r.cols.Solved, solved); err != nil {
		return sum, fmt.Errorf("writing solved column: %w", err)
	}
	if err := r.roster.WriteColumn(ctx, r.cols.Rating, rating); err != nil {
		return sum, fmt.Errorf("writing rating column: %w", err)
	}
	r.logger.Info("stats refreshed",
		"participants", sum.Participants, "updated", sum.Updated, "invalid", sum.Invalid, "failed", sum.Failed)
	return sum, nil
}

// lookup fetches both statistics. An unknown identity on either endpoint
// wins over a failure on the other.
func (r *Refresher) lookup(ctx context.Context, identity string) (int, float64, error) {
	s, errS := r.profiles.Solved(ctx, identity)
	if errors.Is(errS, upstream.ErrUnknownIdentity) {
		return 0, 0, errS
	}
	rt, errR := r.profiles.Rating(ctx, identity)
	if errors.Is(errR, upstream.ErrUnknownIdentity) {
		return 0, 0, errR
	}
	if err := errors.Join(errS, errR); err != nil {
		return 0, 0, err
	}
	return s, rt, nil
}

// FormatRating renders a rating with at most two decimals.
func FormatRating(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
