package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/stats"
)

func TestNew_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}, Deps{}); err == nil {
		t.Fatal("New accepted empty options")
	}
	if _, err := New(Options{Location: ist}, Deps{Resolver: &fakeResolver{}}); err == nil {
		t.Fatal("New accepted missing evaluator")
	}
}

func TestTick_EachMinuteOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", nil)
	ctx := context.Background()

	if !h.e.Tick(ctx, time.Date(2025, 6, 1, 9, 34, 5, 0, ist)) {
		t.Fatal("first tick ignored")
	}
	if h.e.Tick(ctx, time.Date(2025, 6, 1, 9, 34, 50, 0, ist)) {
		t.Error("same minute evaluated twice")
	}
	if !h.e.Tick(ctx, time.Date(2025, 6, 1, 9, 35, 0, 0, ist)) {
		t.Error("next minute ignored")
	}

	if h.roster.writes != 1 {
		t.Errorf("writes = %d, want 1", h.roster.writes)
	}
	if h.resolver.calls != 2 {
		t.Errorf("resolver calls = %d, want 2", h.resolver.calls)
	}
	if !h.ledger.IsDone("weekly-contest-452") {
		t.Error("contest not marked done")
	}
}

func TestTick_OutsideWindowsDoesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", nil)

	// Sunday, but 09:36 is past the weekly window.
	h.e.Tick(context.Background(), time.Date(2025, 6, 1, 9, 36, 0, 0, ist))
	if h.resolver.calls != 0 || h.roster.writes != 0 {
		t.Errorf("resolver calls = %d, writes = %d", h.resolver.calls, h.roster.writes)
	}
}

func TestTick_RestartDoesNotReprocess(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state.toml")
	at := time.Date(2025, 6, 1, 9, 34, 0, 0, ist)

	first := newHarness(t, path, nil)
	first.e.Tick(context.Background(), at)
	if first.roster.writes != 1 {
		t.Fatalf("first run writes = %d", first.roster.writes)
	}

	second := newHarness(t, path, nil)
	second.e.Tick(context.Background(), at.Add(time.Minute))
	if second.roster.writes != 0 {
		t.Errorf("restarted engine wrote %d columns", second.roster.writes)
	}
}

func TestTick_FailingConditionDoesNotBlockOthers(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", func(o *Options, d *Deps) {
		o.StatsWindow = mustWindow(t, "", "09:30", "09:40")
		d.Stats = statsFunc(func(context.Context) (stats.Summary, error) { panic("boom") })
	})

	h.e.Tick(context.Background(), time.Date(2025, 6, 1, 9, 34, 0, 0, ist))
	if h.roster.writes != 1 {
		t.Errorf("weekly writes = %d, want 1", h.roster.writes)
	}
	if got := h.e.State(); got != StateIdle {
		t.Errorf("state = %s, want idle", got)
	}
	if h.ledger.StatsRefreshedToday(time.Date(2025, 6, 1, 9, 34, 0, 0, ist)) {
		t.Error("panicking refresh marked as done")
	}
}

func TestTick_StatsOncePerDay(t *testing.T) {
	t.Parallel()
	calls := 0
	fail := true
	h := newHarness(t, "", func(_ *Options, d *Deps) {
		d.Stats = statsFunc(func(context.Context) (stats.Summary, error) {
			calls++
			if fail {
				fail = false
				return stats.Summary{}, errors.New("sheet unavailable")
			}
			return stats.Summary{Participants: 2, Updated: 2}, nil
		})
	})
	ctx := context.Background()

	h.e.Tick(ctx, time.Date(2025, 6, 2, 12, 0, 0, 0, ist))
	h.e.Tick(ctx, time.Date(2025, 6, 2, 12, 1, 0, 0, ist))
	h.e.Tick(ctx, time.Date(2025, 6, 2, 12, 2, 0, 0, ist))
	if calls != 2 {
		t.Fatalf("calls after failing then succeeding = %d, want 2", calls)
	}
	h.e.Tick(ctx, time.Date(2025, 6, 3, 12, 0, 30, 0, ist))
	if calls != 3 {
		t.Errorf("next day calls = %d, want 3", calls)
	}
}

func TestTick_BiweeklyRecencyBand(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 5, 31, 21, 34, 0, 0, ist)

	tests := []struct {
		name     string
		endedAgo time.Duration
		want     int
	}{
		{"too fresh", 3 * time.Minute, 0},
		{"lower bound", 4 * time.Minute, 1},
		{"upper bound", 2 * time.Hour, 1},
		{"previous fortnight", 2*time.Hour + time.Minute, 0},
		{"last week's", 7 * 24 * time.Hour, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, "", nil)
			h.resolver.windows["biweekly"] = contest.Window{
				Slug:     "biweekly-contest-157",
				Start:    now.Add(-tt.endedAgo - 90*time.Minute).Unix(),
				End:      now.Add(-tt.endedAgo).Unix(),
				Problems: []string{"p1"},
			}
			h.e.Tick(context.Background(), now)
			if h.roster.writes != tt.want {
				t.Errorf("writes = %d, want %d", h.roster.writes, tt.want)
			}
			if tt.want == 1 && h.roster.headers[0] != "biweekly-contest-157" {
				t.Errorf("untitled contest header = %q, want slug", h.roster.headers[0])
			}
		})
	}
}

func TestTick_BiweeklyBandAcrossDST(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// Clocks jump from 02:00 to 03:00 on 2025-03-09. The contest ended at
	// 01:45 EST; at 03:30 EDT only 45 minutes have elapsed even though the
	// wall clocks differ by 1h45.
	ended := time.Date(2025, 3, 9, 1, 45, 0, 0, ny)
	now := time.Date(2025, 3, 9, 3, 30, 0, 0, ny)

	h := newHarness(t, "", func(o *Options, _ *Deps) {
		o.Location = ny
		o.BiweeklyWindow = mustWindow(t, "sunday", "03:30", "03:31")
		o.MaxSinceEnd = time.Hour
	})
	h.resolver.windows["biweekly"] = contest.Window{
		Slug: "biweekly-contest-152", Start: ended.Add(-90 * time.Minute).Unix(), End: ended.Unix(), Problems: []string{"p1"},
	}

	h.e.Tick(context.Background(), now)
	if h.roster.writes != 1 {
		t.Errorf("writes = %d, want 1 (elapsed time must be absolute)", h.roster.writes)
	}
}

func TestTick_RepeatedHourAfterFallBack(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	h := newHarness(t, "", func(o *Options, _ *Deps) { o.Location = ny })
	ctx := context.Background()

	// 01:30 happens twice on 2025-11-02: 05:30 UTC (EDT) and 06:30 UTC (EST).
	first := time.Date(2025, 11, 2, 5, 30, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	if first.In(ny).Format("15:04") != second.In(ny).Format("15:04") {
		t.Fatal("instants do not share a wall clock")
	}
	if !h.e.Tick(ctx, first) {
		t.Fatal("first 01:30 ignored")
	}
	if !h.e.Tick(ctx, second) {
		t.Error("repeated 01:30 ignored")
	}
	if h.e.Tick(ctx, second.Add(10*time.Second)) {
		t.Error("same minute evaluated twice")
	}
}

func TestUntilNextMinute(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", nil)

	got := h.e.untilNextMinute(time.Date(2025, 6, 1, 9, 33, 45, 500_000_000, ist))
	if got != 14*time.Second+500*time.Millisecond {
		t.Errorf("untilNextMinute = %s", got)
	}
	if got := h.e.untilNextMinute(time.Date(2025, 6, 1, 9, 34, 0, 0, ist)); got != time.Minute {
		t.Errorf("on the boundary = %s, want 1m", got)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- h.e.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestTunables(t *testing.T) {
	t.Parallel()
	h := newHarness(t, "", func(o *Options, _ *Deps) { o.Delay = time.Second })

	if h.e.Delay() != time.Second {
		t.Errorf("Delay = %s", h.e.Delay())
	}
	h.e.SetDelay(-time.Second)
	if h.e.Delay() != 0 {
		t.Errorf("negative delay stored: %s", h.e.Delay())
	}
	h.e.SetDryRun(true)
	if !h.e.DryRun() {
		t.Error("SetDryRun(true) ignored")
	}
}
