// Package evaluate classifies a participant's submission history against a
// resolved contest window.
package evaluate

import (
	"context"
	"fmt"
	"strconv"

	"github.com/papapumpkin/contestguard/internal/contest"
)

// Kind is the category of an Outcome.
type Kind int

const (
	// NotAttempted means no qualifying submission was found.
	NotAttempted Kind = iota
	// NoneAccepted means the participant submitted but nothing was accepted.
	NoneAccepted
	// Solved means at least one distinct contest problem was accepted.
	Solved
	// UnknownIdentity means upstream does not know the identity.
	UnknownIdentity
)

// Outcome is the classification of one participant for one contest.
// Count is only meaningful for Solved and is always positive there.
type Outcome struct {
	Kind  Kind
	Count int
}

// Labels written to the results column.
const (
	LabelNotAttempted    = "N/A"
	LabelNoneAccepted    = "0"
	LabelUnknownIdentity = "INVALID ID"
)

// Label returns the sheet cell value for o.
func (o Outcome) Label() string {
	switch o.Kind {
	case NoneAccepted:
		return LabelNoneAccepted
	case Solved:
		return strconv.Itoa(o.Count)
	case UnknownIdentity:
		return LabelUnknownIdentity
	}
	return LabelNotAttempted
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	switch o.Kind {
	case NoneAccepted:
		return "none-accepted"
	case Solved:
		return fmt.Sprintf("solved(%d)", o.Count)
	case UnknownIdentity:
		return "unknown-identity"
	}
	return "not-attempted"
}

// Fallback is the outcome recorded when a participant's history could not
// be fetched.
func Fallback() Outcome {
	return Outcome{Kind: NotAttempted}
}

// Classify reduces history to an outcome for window w. It depends only on
// the set of records, not their order or multiplicity.
func Classify(h contest.History, w contest.Window) Outcome {
	if !h.Known {
		return Outcome{Kind: UnknownIdentity}
	}

	qualifying := 0
	accepted := make(map[string]struct{})
	for _, r := range h.Records {
		if !w.HasProblem(r.ProblemID) || !w.Contains(r.Timestamp) {
			continue
		}
		qualifying++
		if r.Status == contest.StatusAccepted {
			accepted[r.ProblemID] = struct{}{}
		}
	}

	switch {
	case qualifying == 0:
		return Outcome{Kind: NotAttempted}
	case len(accepted) == 0:
		return Outcome{Kind: NoneAccepted}
	default:
		return Outcome{Kind: Solved, Count: len(accepted)}
	}
}

// HistorySource fetches the submission history of one identity.
type HistorySource interface {
	History(ctx context.Context, identity string) (contest.History, error)
}

// Evaluator classifies participants by fetching their history.
type Evaluator struct {
	source HistorySource
}

// New creates an Evaluator reading histories from src.
func New(src HistorySource) *Evaluator {
	return &Evaluator{source: src}
}

// Evaluate fetches identity's history and classifies it against w. A fetch
// failure is returned as an error; callers decide the fallback.
func (e *Evaluator) Evaluate(ctx context.Context, identity string, w contest.Window) (Outcome, error) {
	h, err := e.source.History(ctx, identity)
	if err != nil {
		return Outcome{}, fmt.Errorf("fetching history of %s: %w", identity, err)
	}
	return Classify(h, w), nil
}
