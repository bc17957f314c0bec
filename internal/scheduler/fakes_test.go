package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/sheet"
	"github.com/papapumpkin/contestguard/internal/stats"
)

var ist = time.FixedZone("IST", 5*3600+30*60)

type fakeResolver struct {
	mu      sync.Mutex
	windows map[string]contest.Window
	err     error
	calls   int
}

func (f *fakeResolver) Resolve(_ context.Context, fam contest.Family, _ contest.Direction, _ time.Time) (contest.Window, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return contest.Window{}, false, f.err
	}
	w, ok := f.windows[fam.Name]
	return w, ok, nil
}

type fakeEvaluator struct {
	outcomes map[string]evaluate.Outcome
	errs     map[string]error
	onEval   func(identity string)
}

func (f *fakeEvaluator) Evaluate(_ context.Context, identity string, _ contest.Window) (evaluate.Outcome, error) {
	if f.onEval != nil {
		f.onEval(identity)
	}
	if err := f.errs[identity]; err != nil {
		return evaluate.Outcome{}, err
	}
	return f.outcomes[identity], nil
}

type fakeRoster struct {
	participants []sheet.Participant
	headers      []string
	written      map[int][]sheet.Cell
	writes       int
	writeErr     error
	onWrite      func()
}

func (f *fakeRoster) Participants(context.Context) ([]sheet.Participant, error) {
	return f.participants, nil
}

func (f *fakeRoster) EnsureColumn(_ context.Context, header string) (int, error) {
	if i := slices.Index(f.headers, header); i >= 0 {
		return 4 + i, nil
	}
	f.headers = append(f.headers, header)
	return 3 + len(f.headers), nil
}

func (f *fakeRoster) WriteColumn(_ context.Context, col int, cells []sheet.Cell) error {
	if f.onWrite != nil {
		f.onWrite()
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	if f.written == nil {
		f.written = make(map[int][]sheet.Cell)
	}
	f.written[col] = cells
	f.writes++
	return nil
}

type statsFunc func(context.Context) (stats.Summary, error)

func (f statsFunc) Refresh(ctx context.Context) (stats.Summary, error) { return f(ctx) }

type memSink struct{ backups []archive.Backup }

func (m *memSink) Store(_ context.Context, b archive.Backup) error {
	m.backups = append(m.backups, b)
	return nil
}

type harness struct {
	e         *Engine
	resolver  *fakeResolver
	evaluator *fakeEvaluator
	roster    *fakeRoster
	ledger    *ledger.Store
	sink      *memSink
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustWindow(t *testing.T, day, start, end string) TimeWindow {
	t.Helper()
	w, err := ParseWindow(day, start, end)
	if err != nil {
		t.Fatalf("ParseWindow(%q, %q, %q): %v", day, start, end, err)
	}
	return w
}

func weeklyWindow() contest.Window {
	return contest.Window{
		Slug:     "weekly-contest-452",
		Title:    "Weekly Contest 452",
		Start:    time.Date(2025, 6, 1, 8, 0, 0, 0, ist).Unix(),
		End:      time.Date(2025, 6, 1, 9, 30, 0, 0, ist).Unix() - 1,
		Problems: []string{"two-sum", "add-two-numbers"},
	}
}

// newHarness builds an engine in IST with the default windows and a ledger
// at statePath (a fresh temp file when empty).
func newHarness(t *testing.T, statePath string, mutate func(*Options, *Deps)) *harness {
	t.Helper()
	if statePath == "" {
		statePath = filepath.Join(t.TempDir(), "state.toml")
	}
	h := &harness{
		resolver: &fakeResolver{windows: map[string]contest.Window{"weekly": weeklyWindow()}},
		evaluator: &fakeEvaluator{outcomes: map[string]evaluate.Outcome{
			"asha": {Kind: evaluate.Solved, Count: 2},
			"bo":   {Kind: evaluate.NoneAccepted},
		}},
		roster: &fakeRoster{participants: []sheet.Participant{
			{Name: "Asha", Identity: "asha", Row: 2},
			{Name: "Bo", Identity: "bo", Row: 3},
		}},
		ledger: ledger.Open(statePath, ist, quiet()),
		sink:   &memSink{},
	}
	opts := Options{
		Location:       ist,
		Weekly:         contest.Weekly(),
		Biweekly:       contest.Biweekly(),
		StatsWindow:    mustWindow(t, "", "12:00", "12:01"),
		WeeklyWindow:   mustWindow(t, "sunday", "09:34", "09:35"),
		BiweeklyWindow: mustWindow(t, "saturday", "21:34", "21:35"),
		MinSinceEnd:    4 * time.Minute,
		MaxSinceEnd:    2 * time.Hour,
	}
	deps := Deps{
		Resolver:  h.resolver,
		Evaluator: h.evaluator,
		Roster:    h.roster,
		Ledger:    h.ledger,
		Archive:   h.sink,
		Logger:    quiet(),
	}
	if mutate != nil {
		mutate(&opts, &deps)
	}
	e, err := New(opts, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.e = e
	return h
}
