package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/retry"
)

// ErrNotFound is returned by Contest when the slug does not exist upstream.
// It is the same value as contest.ErrNotFound.
var ErrNotFound error = contest.ErrNotFound

// Compile-time check that Client can drive a contest.Resolver.
var _ contest.Prober = (*Client)(nil)

// flexInt decodes integers that upstream sends either as JSON numbers or as
// decimal strings.
type flexInt int64

func (n *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("parsing integer %q: %w", s, err)
		}
		v = int64(f)
	}
	*n = flexInt(v)
	return nil
}

type contestInfo struct {
	Contest *struct {
		Title     string   `json:"title"`
		StartTime *flexInt `json:"start_time"`
		Duration  *flexInt `json:"duration"`
	} `json:"contest"`
	Questions []struct {
		TitleSlug string `json:"title_slug"`
	} `json:"questions"`
}

// Contest fetches the window of the contest identified by slug. A 404 or a
// payload without a start time is reported as ErrNotFound.
func (c *Client) Contest(ctx context.Context, slug string) (contest.Window, error) {
	target := func() (string, error) {
		return join(c.opts.ContestAPI, slug) + "/", nil
	}
	return get(ctx, c, target, ErrNotFound, func(body []byte) (contest.Window, error) {
		var info contestInfo
		if err := json.Unmarshal(body, &info); err != nil {
			return contest.Window{}, fmt.Errorf("decoding contest %s: %w", slug, err)
		}
		return info.window(slug)
	})
}

func (info contestInfo) window(slug string) (contest.Window, error) {
	if info.Contest == nil || info.Contest.StartTime == nil || *info.Contest.StartTime <= 0 {
		return contest.Window{}, retry.Permanent(ErrNotFound)
	}
	start := int64(*info.Contest.StartTime)
	var duration int64
	if info.Contest.Duration != nil {
		duration = int64(*info.Contest.Duration)
	}
	if duration < 0 {
		return contest.Window{}, retry.Permanent(ErrNotFound)
	}

	seen := make(map[string]bool, len(info.Questions))
	problems := make([]string, 0, len(info.Questions))
	for _, q := range info.Questions {
		if q.TitleSlug == "" || seen[q.TitleSlug] {
			continue
		}
		seen[q.TitleSlug] = true
		problems = append(problems, q.TitleSlug)
	}
	return contest.Window{
		Slug:     slug,
		Title:    info.Contest.Title,
		Start:    start,
		End:      start + duration,
		Problems: problems,
	}, nil
}

type submissionItem struct {
	TitleSlug     string          `json:"titleSlug"`
	Timestamp     json.RawMessage `json:"timestamp"`
	StatusDisplay string          `json:"statusDisplay"`
	Lang          string          `json:"lang"`
}

type submissionList struct {
	Count      *flexInt         `json:"count"`
	Submission []submissionItem `json:"submission"`
}

// History fetches the recent submission history of identity from the next
// mirror. An identity upstream does not know is returned as a History with
// Known false, not as an error.
func (c *Client) History(ctx context.Context, identity string) (contest.History, error) {
	target := func() (string, error) {
		m, err := c.nextMirror()
		if err != nil {
			return "", err
		}
		return join(m, identity, "submission"), nil
	}
	h, err := get(ctx, c, target, errIdentityMissing, func(body []byte) (contest.History, error) {
		return c.decodeHistory(identity, body)
	})
	if errors.Is(err, errIdentityMissing) {
		return contest.History{Known: false}, nil
	}
	return h, err
}

// errIdentityMissing signals a 404 on an identity endpoint through the retry
// layer; it never leaves the package.
var errIdentityMissing = fmt.Errorf("identity %w", ErrUnknownIdentity)

func (c *Client) decodeHistory(identity string, body []byte) (contest.History, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return contest.History{}, fmt.Errorf("decoding history of %s: %w", identity, err)
	}
	if _, ok := fields["errors"]; ok {
		return contest.History{Known: false}, nil
	}

	var list submissionList
	if err := json.Unmarshal(body, &list); err != nil {
		return contest.History{}, fmt.Errorf("decoding history of %s: %w", identity, err)
	}
	if looksUnknown(fields, list) {
		return contest.History{Known: false}, nil
	}

	records := make([]contest.Record, 0, len(list.Submission))
	for _, s := range list.Submission {
		var ts flexInt
		if err := json.Unmarshal(s.Timestamp, &ts); err != nil || ts <= 0 {
			c.logger.Debug("skipping submission with bad timestamp",
				"identity", identity, "problem", s.TitleSlug, "timestamp", string(s.Timestamp))
			continue
		}
		records = append(records, contest.Record{
			ProblemID: s.TitleSlug,
			Timestamp: int64(ts),
			Status:    contest.ParseStatus(s.StatusDisplay),
		})
	}
	return contest.History{Known: true, Records: records}, nil
}

// looksUnknown applies the mirror's implicit signal for a missing identity:
// a body of exactly {"count":0,"submission":[]} with no other fields.
func looksUnknown(fields map[string]json.RawMessage, list submissionList) bool {
	if len(fields) != 2 {
		return false
	}
	if _, ok := fields["count"]; !ok {
		return false
	}
	if _, ok := fields["submission"]; !ok {
		return false
	}
	return list.Count != nil && *list.Count == 0 && list.Submission != nil && len(list.Submission) == 0
}

// Solved returns the total number of problems identity has solved.
func (c *Client) Solved(ctx context.Context, identity string) (int, error) {
	var out struct {
		SolvedProblem *flexInt `json:"solvedProblem"`
	}
	if err := c.profile(ctx, identity, "solved", &out); err != nil {
		return 0, err
	}
	if out.SolvedProblem == nil {
		return 0, fmt.Errorf("solved count of %s: %w", identity, ErrUnknownIdentity)
	}
	return int(*out.SolvedProblem), nil
}

// Rating returns the contest rating of identity, zero when the identity has
// never taken part in a rated contest.
func (c *Client) Rating(ctx context.Context, identity string) (float64, error) {
	var out struct {
		ContestRating *float64 `json:"contestRating"`
	}
	if err := c.profile(ctx, identity, "contest", &out); err != nil {
		return 0, err
	}
	if out.ContestRating == nil {
		return 0, nil
	}
	return *out.ContestRating, nil
}

// profile fetches one profile endpoint into out. Empty bodies, error
// statuses in the payload and 404s are all ErrUnknownIdentity.
func (c *Client) profile(ctx context.Context, identity, endpoint string, out any) error {
	target := func() (string, error) {
		m, err := c.nextMirror()
		if err != nil {
			return "", err
		}
		return join(m, identity, endpoint), nil
	}
	body, err := get(ctx, c, target, errIdentityMissing, func(body []byte) ([]byte, error) {
		return body, nil
	})
	if errors.Is(err, errIdentityMissing) {
		return fmt.Errorf("%s of %s: %w", endpoint, identity, ErrUnknownIdentity)
	}
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("{}")) || bytes.Equal(trimmed, []byte("null")) {
		return fmt.Errorf("%s of %s: empty response: %w", endpoint, identity, ErrUnknownIdentity)
	}
	var envelope struct {
		Status string          `json:"status"`
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return fmt.Errorf("decoding %s of %s: %w", endpoint, identity, err)
	}
	if strings.EqualFold(envelope.Status, "error") || len(envelope.Errors) > 0 {
		return fmt.Errorf("%s of %s: %w", endpoint, identity, ErrUnknownIdentity)
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decoding %s of %s: %w", endpoint, identity, err)
	}
	return nil
}
