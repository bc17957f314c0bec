// Package telemetry provides a JSONL event stream for reconciliation runs.
// Every run start and finish, participant classification, skip and failed
// trigger condition is recorded as one structured JSON line, so past runs
// can be audited without the sheet.
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event kinds identify the type of telemetry event.
const (
	KindRunStart        = "run_start"
	KindRunDone         = "run_done"
	KindParticipant     = "participant"
	KindSkip            = "skip"
	KindStatsStart      = "stats_start"
	KindStatsDone       = "stats_done"
	KindConditionFailed = "condition_failed"
)

// Event represents a single telemetry record. Each event carries a timestamp,
// a kind tag and optional run, contest and identity identifiers along with
// arbitrary structured data.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	RunID     string    `json:"run,omitempty"`
	Contest   string    `json:"contest,omitempty"`
	Identity  string    `json:"identity,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// ParticipantData is the payload of a KindParticipant event.
type ParticipantData struct {
	Outcome  string `json:"outcome"`
	Label    string `json:"label"`
	Fallback bool   `json:"fallback,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

// Emitter writes telemetry events to a JSONL file. It is safe for concurrent
// use by multiple goroutines. A nil *Emitter is a valid no-op emitter.
type Emitter struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewEmitter creates a new Emitter that writes JSONL events to the file at
// path. The file and its directory are created if they do not exist; an
// existing file is appended to.
func NewEmitter(path string) (*Emitter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry: open %s: %w", path, err)
	}
	return &Emitter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Emit writes a single event to the JSONL file, stamping it with the current
// time when Timestamp is zero. Calling Emit on a nil Emitter is a no-op.
func (e *Emitter) Emit(evt Event) error {
	if e == nil {
		return nil
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(evt); err != nil {
		return fmt.Errorf("telemetry: encode event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file. Calling Close on a nil
// Emitter is a no-op.
func (e *Emitter) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.file.Close(); err != nil {
		return fmt.Errorf("telemetry: close: %w", err)
	}
	return nil
}
