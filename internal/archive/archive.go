// Package archive keeps a backup of every reconciliation run. Backups go to
// a local SQLite database and, optionally, to an S3 bucket.
package archive

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Backup is the record of one processed contest occurrence.
type Backup struct {
	RunID        string            `json:"run_id"`
	ContestSlug  string            `json:"contest_slug"`
	ContestTitle string            `json:"contest_title"`
	ProcessedAt  time.Time         `json:"processed_at"`
	Results      map[string]string `json:"results"`
	// Fallbacks lists identities whose result is a fallback value because
	// their history could not be fetched.
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// IsFallback reports whether identity's result is a fallback.
func (b Backup) IsFallback(identity string) bool {
	return slices.Contains(b.Fallbacks, identity)
}

// Identities returns the identities in b sorted by name.
func (b Backup) Identities() []string {
	return slices.Sorted(maps.Keys(b.Results))
}

// Sink stores backups.
type Sink interface {
	Store(ctx context.Context, b Backup) error
}

// Tee stores each backup in every sink, continuing past failures. The
// returned error joins every sink's failure.
type Tee []Sink

// Store implements Sink.
func (t Tee) Store(ctx context.Context, b Backup) error {
	var errs []error
	for _, s := range t {
		if s == nil {
			continue
		}
		if err := s.Store(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("archive: %d of %d sinks failed: %w", len(errs), len(t), errors.Join(errs...))
	}
	return nil
}
