package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/scheduler"
)

func newTestPrinter() (*Printer, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	return NewWithWriters(&out, &errOut), &out, &errOut
}

func assertContains(t *testing.T, output string, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestWindow(t *testing.T) {
	t.Parallel()
	p, out, _ := newTestPrinter()

	p.Window(contest.Window{
		Slug:     "weekly-contest-452",
		Title:    "Weekly Contest 452",
		Start:    time.Date(2025, 6, 1, 2, 30, 0, 0, time.UTC).Unix(),
		End:      time.Date(2025, 6, 1, 4, 0, 0, 0, time.UTC).Unix(),
		Problems: []string{"two-sum", "add-two-numbers"},
	}, time.UTC)

	assertContains(t, out.String(), "Weekly Contest 452", "2025-06-01 02:30:00", "1h30m0s", "two-sum", "add-two-numbers")
}

func TestWindow_HiddenProblems(t *testing.T) {
	t.Parallel()
	p, out, _ := newTestPrinter()

	p.Window(contest.Window{Slug: "biweekly-contest-160", Start: 10, End: 20}, time.UTC)
	assertContains(t, out.String(), "biweekly-contest-160", "hidden until start")
}

func TestOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		outcome evaluate.Outcome
		want    string
	}{
		{evaluate.Outcome{Kind: evaluate.Solved, Count: 3}, "3"},
		{evaluate.Outcome{Kind: evaluate.NotAttempted}, "N/A"},
		{evaluate.Outcome{Kind: evaluate.UnknownIdentity}, "INVALID ID"},
	}
	for _, tt := range tests {
		p, out, _ := newTestPrinter()
		p.Outcome("asha", contest.Window{Slug: "weekly-contest-452"}, tt.outcome)
		assertContains(t, out.String(), "asha", "weekly-contest-452", tt.want)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	p, out, errOut := newTestPrinter()

	p.Report(scheduler.Report{
		RunID:   "run-1",
		Window:  contest.Window{Slug: "weekly-contest-452"},
		DryRun:  true,
		Results: make([]scheduler.Result, 4),
		Counts:  scheduler.Counts{NotAttempted: 1, Fallbacks: 1, Solved: map[int]int{2: 1, 4: 2}},
	})
	assertContains(t, out.String(), "weekly-contest-452", "run-1", "solved 2", "solved 4", "fallbacks")
	assertContains(t, errOut.String(), "dry run")

	p, out, errOut = newTestPrinter()
	p.Report(scheduler.Report{Window: contest.Window{Slug: "weekly-contest-452"}, Skipped: scheduler.SkipAlreadyProcessed})
	if out.Len() != 0 {
		t.Errorf("skip wrote to stdout: %q", out.String())
	}
	assertContains(t, errOut.String(), "skipped", "already processed")
}

func TestLedger(t *testing.T) {
	t.Parallel()
	p, out, _ := newTestPrinter()

	p.Ledger(ledger.State{
		ProcessedContests: map[string]ledger.Entry{
			"weekly-contest-451": {ProcessedAt: time.Date(2025, 5, 25, 4, 4, 0, 0, time.UTC).Unix()},
			"weekly-contest-452": {ProcessedAt: time.Date(2025, 6, 1, 4, 4, 0, 0, time.UTC).Unix()},
		},
		LastStatsUpdate: "2025-06-02",
	}, []archive.RunSummary{
		{RunID: "0123456789abcdef", ContestSlug: "weekly-contest-452", ProcessedAt: time.Date(2025, 6, 1, 4, 4, 0, 0, time.UTC), Results: 30, Fallbacks: 2},
	}, time.UTC)

	s := out.String()
	assertContains(t, s, "2025-06-02", "CONTEST", "PROCESSED", "RUN", "01234567", "30")
	if strings.Index(s, "weekly-contest-452") > strings.Index(s, "weekly-contest-451") {
		t.Errorf("contests not newest first:\n%s", s)
	}
}

func TestLedger_Empty(t *testing.T) {
	t.Parallel()
	p, out, errOut := newTestPrinter()

	p.Ledger(ledger.State{}, nil, time.UTC)
	assertContains(t, out.String(), "never")
	assertContains(t, errOut.String(), "no contests processed")
}

func TestMessages(t *testing.T) {
	t.Parallel()
	p, out, errOut := newTestPrinter()

	p.Info("resolving")
	p.Success("done")
	p.Warn("careful")
	p.Error("boom")
	if out.Len() != 0 {
		t.Errorf("messages went to stdout: %q", out.String())
	}
	assertContains(t, errOut.String(), "resolving", "done", "careful", "error: boom")
}
