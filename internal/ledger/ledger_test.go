package ledger

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	return loc
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	s := Open(filepath.Join(t.TempDir(), "state.toml"), time.UTC, quiet())
	if s.IsDone("weekly-contest-1") {
		t.Error("empty ledger reports a processed contest")
	}
	if snap := s.Snapshot(); len(snap.ProcessedContests) != 0 || snap.LastStatsUpdate != "" {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func TestOpen_CorruptFileIsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state.toml")
	if err := os.WriteFile(path, []byte("processed_contests = [[[ not toml"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := Open(path, time.UTC, quiet())
	if len(s.Snapshot().ProcessedContests) != 0 {
		t.Error("corrupt ledger was not treated as empty")
	}
	// The store keeps working and overwrites the damaged file.
	if err := s.MarkDone("weekly-contest-9", time.Unix(100, 0)); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if !Open(path, time.UTC, quiet()).IsDone("weekly-contest-9") {
		t.Error("entry not persisted over corrupt file")
	}
}

func TestMarkDone_SurvivesReload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "state.toml")
	loc := kolkata(t)
	at := time.Date(2024, time.August, 4, 9, 34, 0, 0, loc)

	s := Open(path, loc, quiet())
	if err := s.MarkDone("weekly-contest-409", at); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if err := s.MarkDone("weekly-contest-409", at.Add(time.Hour)); err != nil {
		t.Fatalf("second MarkDone: %v", err)
	}

	reloaded := Open(path, loc, quiet())
	if !reloaded.IsDone("weekly-contest-409") {
		t.Fatal("processed contest lost on reload")
	}
	e := reloaded.Snapshot().ProcessedContests["weekly-contest-409"]
	if e.ProcessedAt != at.Unix() {
		t.Errorf("processed_at = %d, want %d (first mark wins)", e.ProcessedAt, at.Unix())
	}
	if e.ProcessedTime != "2024-08-04T09:34:00+05:30" {
		t.Errorf("processed_time = %q", e.ProcessedTime)
	}
	if reloaded.IsDone("weekly-contest-410") {
		t.Error("unrelated contest reported done")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "[processed_contests.weekly-contest-409]") {
		t.Errorf("unexpected file layout:\n%s", data)
	}
	if _, err := os.Stat(path + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestStatsRefreshedToday(t *testing.T) {
	t.Parallel()

	loc := kolkata(t)
	path := filepath.Join(t.TempDir(), "state.toml")
	s := Open(path, loc, quiet())

	// 20:00 UTC on the 3rd is already the 4th in Kolkata.
	now := time.Date(2024, time.August, 3, 20, 0, 0, 0, time.UTC)
	if s.StatsRefreshedToday(now) {
		t.Fatal("fresh ledger claims stats refreshed")
	}
	if err := s.MarkStatsRefreshed(now); err != nil {
		t.Fatalf("MarkStatsRefreshed: %v", err)
	}
	if got := s.Snapshot().LastStatsUpdate; got != "2024-08-04" {
		t.Errorf("last_stats_update = %q, want 2024-08-04", got)
	}
	if !s.StatsRefreshedToday(now.Add(3 * time.Hour)) {
		t.Error("same local day not recognised")
	}
	if s.StatsRefreshedToday(now.Add(24 * time.Hour)) {
		t.Error("next local day reported as refreshed")
	}
	if !Open(path, loc, quiet()).StatsRefreshedToday(now) {
		t.Error("stats date lost on reload")
	}
}

func TestPersistFailureKeepsMemoryState(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// A directory where the state file should be makes the rename fail.
	path := filepath.Join(dir, "state.toml")
	if err := os.MkdirAll(filepath.Join(path, "occupied"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := Open(path, time.UTC, quiet())
	err := s.MarkDone("biweekly-contest-136", time.Unix(1, 0))
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("err = %v, want ErrPersist", err)
	}
	if !s.IsDone("biweekly-contest-136") {
		t.Error("in-memory state not updated after persist failure")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := Open(filepath.Join(t.TempDir(), "state.toml"), time.UTC, quiet())
	if err := s.MarkDone("a", time.Unix(1, 0)); err != nil {
		t.Fatal(err)
	}
	snap := s.Snapshot()
	snap.ProcessedContests["b"] = Entry{}
	if s.IsDone("b") {
		t.Error("mutating a snapshot changed the store")
	}
}
