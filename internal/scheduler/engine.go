// Package scheduler fires reconciliation and stats runs at fixed local
// times. One cooperative loop evaluates three independent conditions at the
// top of every minute; the processed-state ledger makes every run idempotent
// across ticks and restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/stats"
	"github.com/papapumpkin/contestguard/internal/telemetry"
)

// State is the engine's current activity.
type State int32

const (
	// StateIdle means the engine is waiting for the next tick.
	StateIdle State = iota
	// StateResolving means a contest window is being located.
	StateResolving
	// StateEvaluating means participants are being classified.
	StateEvaluating
	// StatePersisting means results, ledger and archive are being written.
	StatePersisting
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StateEvaluating:
		return "evaluating"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}

// WindowResolver locates contest windows.
type WindowResolver interface {
	Resolve(ctx context.Context, f contest.Family, dir contest.Direction, at time.Time) (contest.Window, bool, error)
}

// Evaluator classifies one participant against a window.
type Evaluator interface {
	Evaluate(ctx context.Context, identity string, w contest.Window) (evaluate.Outcome, error)
}

// Roster is the tabular storage holding participants and results.
type Roster interface {
	Participants(ctx context.Context) ([]sheet.Participant, error)
	EnsureColumn(ctx context.Context, header string) (int, error)
	WriteColumn(ctx context.Context, col int, cells []sheet.Cell) error
}

// StatsRefresher performs the daily statistics refresh.
type StatsRefresher interface {
	Refresh(ctx context.Context) (stats.Summary, error)
}

// Options configures when and how the engine runs.
type Options struct {
	Location *time.Location
	Weekly   contest.Family
	Biweekly contest.Family

	StatsWindow    TimeWindow
	WeeklyWindow   TimeWindow
	BiweeklyWindow TimeWindow

	// MinSinceEnd and MaxSinceEnd bound how long ago the latest completed
	// biweekly contest must have ended for the biweekly condition to fire.
	MinSinceEnd time.Duration
	MaxSinceEnd time.Duration

	Delay  time.Duration
	DryRun bool
}

// Deps are the engine's collaborators. Stats, Archive and Telemetry are
// optional.
type Deps struct {
	Resolver  WindowResolver
	Evaluator Evaluator
	Roster    Roster
	Ledger    *ledger.Store
	Stats     StatsRefresher
	Archive   archive.Sink
	Telemetry *telemetry.Emitter
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine is the schedule trigger engine.
type Engine struct {
	opts   Options
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	state atomic.Int32

	// mu guards the tunables that may be reloaded while running.
	mu     sync.Mutex
	delay  time.Duration
	dryRun bool

	// lastMinute is only touched by Tick.
	lastMinute time.Time
}

// New creates an Engine.
func New(opts Options, deps Deps) (*Engine, error) {
	switch {
	case opts.Location == nil:
		return nil, errors.New("scheduler: location is required")
	case deps.Resolver == nil:
		return nil, errors.New("scheduler: resolver is required")
	case deps.Evaluator == nil:
		return nil, errors.New("scheduler: evaluator is required")
	case deps.Roster == nil:
		return nil, errors.New("scheduler: roster is required")
	case deps.Ledger == nil:
		return nil, errors.New("scheduler: ledger is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		opts:   opts,
		deps:   deps,
		logger: logger.With("component", "scheduler"),
		now:    now,
		delay:  opts.Delay,
		dryRun: opts.DryRun,
	}, nil
}

// State returns the engine's current activity.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// SetDelay changes the pause between participants.
func (e *Engine) SetDelay(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = max(d, 0)
}

// Delay returns the pause between participants.
func (e *Engine) Delay() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delay
}

// SetDryRun toggles dry-run mode.
func (e *Engine) SetDryRun(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dryRun = on
}

// DryRun reports whether results are only logged.
func (e *Engine) DryRun() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dryRun
}

// Run ticks at the top of every local minute until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("scheduler started",
		"location", e.opts.Location.String(),
		"stats", e.opts.StatsWindow.String(),
		"weekly", e.opts.WeeklyWindow.String(),
		"biweekly", e.opts.BiweeklyWindow.String(),
		"dry_run", e.DryRun())

	for {
		t := time.NewTimer(e.untilNextMinute(e.now()))
		select {
		case <-ctx.Done():
			t.Stop()
			e.logger.Info("scheduler stopped")
			return nil
		case <-t.C:
		}
		e.Tick(ctx, e.now())
	}
}

// untilNextMinute returns the wait until the next minute boundary of the
// engine's location.
func (e *Engine) untilNextMinute(now time.Time) time.Duration {
	next := e.minute(now).Add(time.Minute)
	return next.Sub(now)
}

// minute truncates t to its minute as an absolute instant, so a local hour
// repeated by a DST fall-back still yields distinct minutes. Zone offsets
// are whole minutes, so this is also the local minute boundary.
func (e *Engine) minute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// Tick evaluates every condition for the minute containing now. A minute
// already evaluated is ignored and Tick returns false. Tick must not be
// called concurrently.
func (e *Engine) Tick(ctx context.Context, now time.Time) bool {
	m := e.minute(now)
	if !e.lastMinute.IsZero() && !m.After(e.lastMinute) {
		return false
	}
	e.lastMinute = m
	local := now.In(e.opts.Location)

	_ = e.guard(ctx, "stats", func(ctx context.Context) error { return e.checkStats(ctx, local) })
	_ = e.guard(ctx, "weekly", func(ctx context.Context) error { return e.checkWeekly(ctx, local) })
	_ = e.guard(ctx, "biweekly", func(ctx context.Context) error { return e.checkBiweekly(ctx, local) })
	return true
}

// RunNow processes the most recent completed weekly and biweekly contests
// immediately, still honouring the ledger. A report is returned for every
// family that did not fail.
func (e *Engine) RunNow(ctx context.Context) ([]Report, error) {
	now := e.now().In(e.opts.Location)
	var (
		reports []Report
		errs    []error
	)
	for _, f := range []contest.Family{e.opts.Weekly, e.opts.Biweekly} {
		err := e.guard(ctx, f.Name, func(ctx context.Context) error {
			rep, err := e.Process(ctx, f, nil, now)
			if err == nil {
				reports = append(reports, rep)
			}
			return err
		})
		errs = append(errs, err)
	}
	return reports, errors.Join(errs...)
}

// guard runs one condition, converting a panic into an error. Failures are
// logged and recorded so that the remaining conditions still run.
func (e *Engine) guard(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.setState(StateIdle)
			err = fmt.Errorf("condition %s panicked: %v", name, r)
			e.logger.Error("condition panicked", "condition", name, "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			e.emit(telemetry.Event{
				Kind: telemetry.KindConditionFailed,
				Data: map[string]string{"condition": name, "error": err.Error()},
			})
		}
	}()

	if err = fn(ctx); err != nil && ctx.Err() == nil {
		e.logger.Error("condition failed", "condition", name, "error", err)
	}
	return err
}

func (e *Engine) checkStats(ctx context.Context, now time.Time) error {
	if e.deps.Stats == nil || !e.opts.StatsWindow.Contains(now) {
		return nil
	}
	if e.deps.Ledger.StatsRefreshedToday(now) {
		return nil
	}
	if e.DryRun() {
		e.logger.Info("dry run, skipping stats refresh")
		return nil
	}

	runID := telemetry.NewRunID()
	e.emit(telemetry.Event{Kind: telemetry.KindStatsStart, RunID: runID})
	sum, err := e.deps.Stats.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refreshing stats: %w", err)
	}
	e.emit(telemetry.Event{Kind: telemetry.KindStatsDone, RunID: runID, Data: sum})

	if err := e.deps.Ledger.MarkStatsRefreshed(now); err != nil {
		e.logger.Error("recording stats refresh", "error", err)
	}
	return nil
}

func (e *Engine) checkWeekly(ctx context.Context, now time.Time) error {
	if !e.opts.WeeklyWindow.Contains(now) {
		return nil
	}
	_, err := e.Process(ctx, e.opts.Weekly, nil, now)
	return err
}

// checkBiweekly fires only when the latest completed biweekly contest ended
// inside the recency band. Biweekly contests skip weeks, so the weekday
// window alone cannot tell whether one was held.
func (e *Engine) checkBiweekly(ctx context.Context, now time.Time) error {
	if !e.opts.BiweeklyWindow.Contains(now) {
		return nil
	}

	e.setState(StateResolving)
	w, ok, err := e.deps.Resolver.Resolve(ctx, e.opts.Biweekly, contest.RecentCompleted, now)
	if err != nil {
		e.setState(StateIdle)
		return fmt.Errorf("resolving biweekly contest: %w", err)
	}
	if !ok {
		e.setState(StateIdle)
		e.logger.Info("no completed biweekly contest found")
		return nil
	}

	since := now.Sub(w.EndTime())
	if since < e.opts.MinSinceEnd || since > e.opts.MaxSinceEnd {
		e.setState(StateIdle)
		e.logger.Info("no biweekly contest this week",
			"latest", w.Slug, "ended_ago", since.Round(time.Second).String())
		return nil
	}
	_, err = e.Process(ctx, e.opts.Biweekly, &w, now)
	return err
}

func (e *Engine) emit(evt telemetry.Event) {
	if err := e.deps.Telemetry.Emit(evt); err != nil {
		e.logger.Warn("writing telemetry", "kind", evt.Kind, "error", err)
	}
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
