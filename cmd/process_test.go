package cmd

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/logging"
	"github.com/papapumpkin/contestguard/internal/scheduler"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/ui"
)

type stubRoster struct {
	headers []string
	written []sheet.Cell
}

func (r *stubRoster) Participants(context.Context) ([]sheet.Participant, error) {
	return []sheet.Participant{{Name: "Asha", Identity: "asha_lc", Row: 2}}, nil
}

func (r *stubRoster) EnsureColumn(_ context.Context, header string) (int, error) {
	r.headers = append(r.headers, header)
	return 6, nil
}

func (r *stubRoster) WriteColumn(_ context.Context, _ int, cells []sheet.Cell) error {
	r.written = append(r.written, cells...)
	return nil
}

type solvedAll struct{ calls int }

func (s *solvedAll) Evaluate(_ context.Context, _ string, w contest.Window) (evaluate.Outcome, error) {
	s.calls++
	return evaluate.Outcome{Kind: evaluate.Solved, Count: len(w.Problems)}, nil
}

func TestFamilyOf(t *testing.T) {
	t.Parallel()
	a := testApp()

	if f, err := a.familyOf("weekly-contest-470"); err != nil || f.Name != "weekly" {
		t.Errorf("weekly slug = %q, %v", f.Name, err)
	}
	if f, err := a.familyOf("biweekly-contest-160"); err != nil || f.Name != "biweekly" {
		t.Errorf("biweekly slug = %q, %v", f.Name, err)
	}
	if _, err := a.familyOf("weekly-contest-abc"); err == nil {
		t.Error("accepted a malformed slug")
	}
}

func TestPrepareWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)
	ended := contest.Window{
		Slug:  "weekly-contest-470",
		Title: "Weekly Contest 470",
		Start: now.Add(-8 * time.Hour).Unix(),
		End:   now.Add(-6*time.Hour - 30*time.Minute).Unix(),
	}

	w, err := prepareWindow(ended, []string{"a", "b", "a", ""}, "", now)
	if err != nil {
		t.Fatalf("hidden problems: %v", err)
	}
	if strings.Join(w.Problems, ",") != "a,b" || w.Title != "Weekly Contest 470" {
		t.Errorf("window = %+v", w)
	}

	listed := ended
	listed.Problems = []string{"x", "y"}
	w, err = prepareWindow(listed, []string{"a"}, "WC 470", now)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(w.Problems, ",") != "x,y" || w.Title != "WC 470" {
		t.Errorf("upstream problems overridden: %+v", w)
	}
	if sameProblems(w.Problems, []string{"a"}) {
		t.Error("different lists compared equal")
	}

	if _, err := prepareWindow(ended, nil, "", now); err == nil {
		t.Error("accepted a window without problems")
	}
	running := listed
	running.End = now.Add(time.Hour).Unix()
	if _, err := prepareWindow(running, nil, "", now); err == nil {
		t.Error("accepted a contest that has not ended")
	}
}

func newProcessEngine(t *testing.T, roster *stubRoster, ev *solvedAll, led *ledger.Store, dryRun bool) *scheduler.Engine {
	t.Helper()
	e, err := scheduler.New(scheduler.Options{Location: time.UTC, DryRun: dryRun}, scheduler.Deps{
		Resolver:  contest.NewResolver(nil, contest.DefaultScan(), logging.Discard()),
		Evaluator: ev,
		Roster:    roster,
		Ledger:    led,
		Logger:    logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestProcessWindow(t *testing.T) {
	t.Parallel()
	now := time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)
	w := contest.Window{Slug: "weekly-contest-470", Title: "Weekly Contest 470", Start: 1, End: 2}
	w, err := prepareWindow(w, []string{"a", "b"}, "", now)
	if err != nil {
		t.Fatal(err)
	}
	led := ledger.Open(filepath.Join(t.TempDir(), "state.toml"), time.UTC, logging.Discard())

	t.Run("dry run writes nothing", func(t *testing.T) {
		roster, ev := &stubRoster{}, &solvedAll{}
		var out, errOut bytes.Buffer
		e := newProcessEngine(t, roster, ev, led, true)
		if err := processWindow(context.Background(), e, contest.Weekly(), w, now, ui.NewWithWriters(&out, &errOut)); err != nil {
			t.Fatalf("processWindow: %v", err)
		}
		if ev.calls != 1 || len(roster.headers) != 0 || len(roster.written) != 0 || led.IsDone(w.Slug) {
			t.Errorf("calls = %d, roster = %+v, done = %v", ev.calls, roster, led.IsDone(w.Slug))
		}
		if !strings.Contains(errOut.String(), "dry run") {
			t.Errorf("missing dry run notice: %q", errOut.String())
		}
	})

	t.Run("writes then honours the ledger", func(t *testing.T) {
		roster, ev := &stubRoster{}, &solvedAll{}
		var out, errOut bytes.Buffer
		p := ui.NewWithWriters(&out, &errOut)
		e := newProcessEngine(t, roster, ev, led, false)
		if err := processWindow(context.Background(), e, contest.Weekly(), w, now, p); err != nil {
			t.Fatalf("processWindow: %v", err)
		}
		if len(roster.written) != 1 || roster.written[0] != (sheet.Cell{Row: 2, Value: "2"}) {
			t.Errorf("written = %+v", roster.written)
		}
		if !led.IsDone(w.Slug) {
			t.Error("contest not marked processed")
		}

		if err := processWindow(context.Background(), e, contest.Weekly(), w, now, p); err != nil {
			t.Fatal(err)
		}
		if ev.calls != 1 || len(roster.written) != 1 {
			t.Errorf("reprocessed: calls = %d, written = %d", ev.calls, len(roster.written))
		}
		if !strings.Contains(errOut.String(), scheduler.SkipAlreadyProcessed) {
			t.Errorf("missing skip notice: %q", errOut.String())
		}
	})
}

func TestCloseLogged(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := logging.New("test", logging.Options{JSON: true, Writer: &buf}).Logger
	closeLogged(logger, "archive", func() error { return nil })
	if buf.Len() != 0 {
		t.Errorf("successful close logged %q", buf.String())
	}

	called := false
	closeLogged(logger, "archive", func() error { called = true; return errors.New("disk full") })
	if !called || !strings.Contains(buf.String(), "closing archive") || !strings.Contains(buf.String(), "disk full") {
		t.Errorf("log = %q", buf.String())
	}
}
