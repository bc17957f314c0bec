package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/telemetry"
)

// Skip reasons reported in Report.Skipped.
const (
	SkipNotFound         = "no completed contest found"
	SkipAlreadyProcessed = "already processed"
)

// Result is the outcome of one participant.
type Result struct {
	Participant sheet.Participant
	Outcome     evaluate.Outcome
	// Fallback is set when the history could not be fetched and Outcome is
	// evaluate.Fallback().
	Fallback bool
}

// Counts aggregates the outcomes of one run.
type Counts struct {
	NotAttempted    int
	NoneAccepted    int
	UnknownIdentity int
	Fallbacks       int
	// Solved maps a solved count to the number of participants with it.
	Solved map[int]int
}

func (c *Counts) add(r Result) {
	if r.Fallback {
		c.Fallbacks++
	}
	switch r.Outcome.Kind {
	case evaluate.NotAttempted:
		c.NotAttempted++
	case evaluate.NoneAccepted:
		c.NoneAccepted++
	case evaluate.UnknownIdentity:
		c.UnknownIdentity++
	case evaluate.Solved:
		if c.Solved == nil {
			c.Solved = make(map[int]int)
		}
		c.Solved[r.Outcome.Count]++
	}
}

// Report describes one processing run.
type Report struct {
	RunID   string
	Window  contest.Window
	Skipped string
	DryRun  bool
	Results []Result
	Counts  Counts
}

// Process reconciles every participant against one contest of family f. When
// w is nil the most recent completed occurrence is resolved first. A contest
// already in the ledger is skipped. The run is marked done only after the
// results column was written, so an interrupted run is redone later.
func (e *Engine) Process(ctx context.Context, f contest.Family, w *contest.Window, now time.Time) (Report, error) {
	defer e.setState(StateIdle)
	rep := Report{RunID: telemetry.NewRunID()}

	if w == nil {
		e.setState(StateResolving)
		found, ok, err := e.deps.Resolver.Resolve(ctx, f, contest.RecentCompleted, now)
		if err != nil {
			return rep, fmt.Errorf("resolving %s contest: %w", f.Name, err)
		}
		if !ok {
			e.logger.Info("nothing to process", "family", f.Name, "reason", SkipNotFound)
			rep.Skipped = SkipNotFound
			e.emit(telemetry.Event{Kind: telemetry.KindSkip, RunID: rep.RunID, Data: map[string]string{"family": f.Name, "reason": SkipNotFound}})
			return rep, nil
		}
		w = &found
	}
	rep.Window = *w

	if e.deps.Ledger.IsDone(w.Slug) {
		e.logger.Info("contest already processed, skipping", "slug", w.Slug)
		rep.Skipped = SkipAlreadyProcessed
		e.emit(telemetry.Event{Kind: telemetry.KindSkip, RunID: rep.RunID, Contest: w.Slug, Data: map[string]string{"reason": SkipAlreadyProcessed}})
		return rep, nil
	}
	if len(w.Problems) == 0 {
		return rep, fmt.Errorf("contest %s has no problems", w.Slug)
	}

	e.setState(StateEvaluating)
	participants, err := e.deps.Roster.Participants(ctx)
	if err != nil {
		return rep, fmt.Errorf("reading participants: %w", err)
	}

	e.logger.Info("processing contest", "window", w.String(), "title", w.Title, "participants", len(participants))
	e.emit(telemetry.Event{
		Kind:    telemetry.KindRunStart,
		RunID:   rep.RunID,
		Contest: w.Slug,
		Data:    map[string]any{"title": w.Title, "participants": len(participants), "dry_run": e.DryRun()},
	})

	for i, p := range participants {
		if i > 0 {
			if err := sleep(ctx, e.Delay()); err != nil {
				return rep, err
			}
		}
		r := e.evaluateOne(ctx, rep.RunID, *w, p, i+1, len(participants))
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Results = append(rep.Results, r)
		rep.Counts.add(r)
	}

	e.setState(StatePersisting)
	if e.DryRun() {
		rep.DryRun = true
		for _, r := range rep.Results {
			e.logger.Info("dry run result", "row", r.Participant.Row, "identity", r.Participant.Identity, "label", r.Outcome.Label())
		}
		e.logSummary(rep)
		return rep, nil
	}
	if err := e.persist(ctx, rep, now); err != nil {
		return rep, err
	}
	e.logSummary(rep)
	return rep, nil
}

func (e *Engine) evaluateOne(ctx context.Context, runID string, w contest.Window, p sheet.Participant, n, total int) Result {
	logger := e.logger.With("identity", p.Identity, "row", p.Row)
	logger.Debug("evaluating participant", "name", p.Name, "progress", fmt.Sprintf("%d/%d", n, total))

	data := telemetry.ParticipantData{}
	r := Result{Participant: p}
	out, err := e.deps.Evaluator.Evaluate(ctx, p.Identity, w)
	if err != nil {
		r.Outcome, r.Fallback = evaluate.Fallback(), true
		data.Error = err.Error()
		if ctx.Err() == nil {
			logger.Warn("history unavailable, using fallback outcome", "outcome", r.Outcome.String(), "error", err)
		}
	} else {
		r.Outcome = out
		logger.Info("participant classified", "outcome", out.String(), "label", out.Label())
	}

	data.Outcome, data.Label, data.Fallback = r.Outcome.String(), r.Outcome.Label(), r.Fallback
	e.emit(telemetry.Event{Kind: telemetry.KindParticipant, RunID: runID, Contest: w.Slug, Identity: p.Identity, Data: data})
	return r
}

// persist writes the results column, marks the ledger and archives the run.
// Only the sheet write is fatal; ledger and archive failures are logged.
func (e *Engine) persist(ctx context.Context, rep Report, now time.Time) error {
	w := rep.Window
	header := w.Title
	if header == "" {
		header = w.Slug
	}

	col, err := e.deps.Roster.EnsureColumn(ctx, header)
	if err != nil {
		return fmt.Errorf("preparing results column %q: %w", header, err)
	}
	cells := make([]sheet.Cell, 0, len(rep.Results))
	for _, r := range rep.Results {
		cells = append(cells, sheet.Cell{Row: r.Participant.Row, Value: r.Outcome.Label()})
	}
	if err := e.deps.Roster.WriteColumn(ctx, col, cells); err != nil {
		return fmt.Errorf("writing results column %q: %w", header, err)
	}
	e.logger.Info("results written", "slug", w.Slug, "column", sheet.ColumnLetter(col), "rows", len(cells))

	if err := e.deps.Ledger.MarkDone(w.Slug, now); err != nil {
		e.logger.Error("recording processed contest", "slug", w.Slug, "error", err)
	}

	if e.deps.Archive != nil {
		if err := e.deps.Archive.Store(ctx, backupOf(rep, now)); err != nil {
			e.logger.Error("archiving results", "slug", w.Slug, "error", err)
		}
	}

	e.emit(telemetry.Event{Kind: telemetry.KindRunDone, RunID: rep.RunID, Contest: w.Slug, Data: rep.Counts})
	return nil
}

func backupOf(rep Report, now time.Time) archive.Backup {
	b := archive.Backup{
		RunID:        rep.RunID,
		ContestSlug:  rep.Window.Slug,
		ContestTitle: rep.Window.Title,
		ProcessedAt:  now,
		Results:      make(map[string]string, len(rep.Results)),
	}
	for _, r := range rep.Results {
		b.Results[r.Participant.Identity] = r.Outcome.Label()
		if r.Fallback {
			b.Fallbacks = append(b.Fallbacks, r.Participant.Identity)
		}
	}
	return b
}

func (e *Engine) logSummary(rep Report) {
	c := rep.Counts
	e.logger.Info("contest processed",
		"slug", rep.Window.Slug,
		"participants", len(rep.Results),
		"not_attempted", c.NotAttempted,
		"none_accepted", c.NoneAccepted,
		"unknown_identity", c.UnknownIdentity,
		"fallbacks", c.Fallbacks,
		"solved", c.Solved,
		"dry_run", rep.DryRun)
}

// IsSkip reports whether the run did no work.
func (rep Report) IsSkip() bool { return rep.Skipped != "" }
