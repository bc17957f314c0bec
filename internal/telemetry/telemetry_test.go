package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNewEmitter_CreatesFileAndDir(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "state", "events.jsonl")

	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter(%q): %v", path, err)
	}
	defer em.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected file to exist at %q: %v", path, err)
	}
}

func TestNewEmitter_ErrorOnBadPath(t *testing.T) {
	t.Parallel()
	blocker := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewEmitter(filepath.Join(blocker, "events.jsonl"))
	if err == nil {
		t.Fatal("expected error for bad path, got nil")
	}
	if !strings.Contains(err.Error(), "telemetry: open") {
		t.Errorf("expected wrapped error, got: %v", err)
	}
}

func TestEmit_WritesValidJSONL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "events.jsonl")

	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	run := NewRunID()
	events := []Event{
		{Timestamp: time.Date(2025, 1, 5, 4, 4, 0, 0, time.UTC), Kind: KindRunStart, RunID: run, Contest: "weekly-contest-431"},
		{Kind: KindParticipant, RunID: run, Contest: "weekly-contest-431", Identity: "asha_lc",
			Data: ParticipantData{Outcome: "solved(2)", Label: "2"}},
		{Timestamp: time.Date(2025, 1, 5, 4, 6, 0, 0, time.UTC), Kind: KindRunDone, RunID: run, Contest: "weekly-contest-431"},
	}

	for _, evt := range events {
		if err := em.Emit(evt); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if err := em.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var decoded []Event
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("invalid JSON line: %v\nline: %s", err, scanner.Text())
		}
		decoded = append(decoded, evt)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner: %v", err)
	}

	if len(decoded) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(decoded))
	}
	for i, got := range decoded {
		if got.Kind != events[i].Kind || got.RunID != run {
			t.Errorf("event %d: kind=%q run=%q, want %q %q", i, got.Kind, got.RunID, events[i].Kind, run)
		}
		if got.Timestamp.IsZero() {
			t.Errorf("event %d: zero timestamp", i)
		}
	}
	if decoded[1].Identity != "asha_lc" {
		t.Errorf("identity = %q", decoded[1].Identity)
	}
}

func TestEmit_ConcurrentSafety(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "concurrent.jsonl")

	em, err := NewEmitter(path)
	if err != nil {
		t.Fatalf("NewEmitter: %v", err)
	}

	const n = 100
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func(idx int) {
			defer wg.Done()
			evt := Event{Kind: KindSkip, Data: map[string]int{"idx": idx}}
			if err := em.Emit(evt); err != nil {
				t.Errorf("Emit from goroutine %d: %v", idx, err)
			}
		}(i)
	}
	wg.Wait()

	if err := em.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != n {
		t.Fatalf("expected %d lines, got %d", n, len(lines))
	}
}

func TestNilEmitter(t *testing.T) {
	t.Parallel()

	var em *Emitter
	if err := em.Emit(Event{Kind: KindRunStart}); err != nil {
		t.Errorf("nil Emit: %v", err)
	}
	if err := em.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("run ids repeat")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("run id %q is not a UUID: %v", a, err)
	}
}
