// Package ui renders contestguard's command-line output. Progress and
// diagnostics go to stderr; tables and results go to stdout.
package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/scheduler"
)

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan, headings
	colorAccent  = lipgloss.Color("#FFD700") // Gold, warnings
	colorSuccess = lipgloss.Color("#00E676") // Green, done
	colorDanger  = lipgloss.Color("#FF5252") // Red, errors
	colorMuted   = lipgloss.Color("#8C8C8C") // Gray, secondary text
)

var (
	styleHeading = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleWarn    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	styleLabel   = lipgloss.NewStyle().Bold(true).Width(10)
)

// Printer writes user-facing output.
type Printer struct {
	out io.Writer
	err io.Writer
}

// New returns a Printer writing to stdout and stderr.
func New() *Printer {
	return &Printer{out: os.Stdout, err: os.Stderr}
}

// NewWithWriters returns a Printer writing results to out and messages to errOut.
func NewWithWriters(out, errOut io.Writer) *Printer {
	return &Printer{out: out, err: errOut}
}

// Info prints a de-emphasized progress message.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.err, styleMuted.Render(msg))
}

// Success prints a completion message.
func (p *Printer) Success(msg string) {
	fmt.Fprintln(p.err, styleSuccess.Render("✓ "+msg))
}

// Warn prints a warning.
func (p *Printer) Warn(msg string) {
	fmt.Fprintln(p.err, styleWarn.Render("⚠ "+msg))
}

// Error prints an error message.
func (p *Printer) Error(msg string) {
	fmt.Fprintln(p.err, styleError.Render("error: ")+msg)
}

// Window prints a resolved contest window with times in loc.
func (p *Printer) Window(w contest.Window, loc *time.Location) {
	const layout = "Mon 2006-01-02 15:04:05 MST"
	title := w.Title
	if title == "" {
		title = w.Slug
	}
	fmt.Fprintln(p.out, styleHeading.Render(title))
	p.field("slug", w.Slug)
	p.field("start", w.StartTime().In(loc).Format(layout))
	p.field("end", w.EndTime().In(loc).Format(layout))
	p.field("duration", w.EndTime().Sub(w.StartTime()).Round(time.Minute).String())
	if len(w.Problems) == 0 {
		p.field("problems", styleMuted.Render("(hidden until start)"))
		return
	}
	for i, id := range w.Problems {
		label := ""
		if i == 0 {
			label = "problems"
		}
		p.field(label, id)
	}
}

// Outcome prints the classification of one identity.
func (p *Printer) Outcome(identity string, w contest.Window, o evaluate.Outcome) {
	style := styleSuccess
	switch o.Kind {
	case evaluate.UnknownIdentity:
		style = styleError
	case evaluate.NotAttempted, evaluate.NoneAccepted:
		style = styleWarn
	}
	fmt.Fprintf(p.out, "%s %s %s\n", identity, styleMuted.Render("in "+w.Slug+":"), style.Render(o.Label()))
	p.field("outcome", o.String())
}

// Report prints the summary of one processing run.
func (p *Printer) Report(rep scheduler.Report) {
	if rep.IsSkip() {
		name := rep.Window.Slug
		if name == "" {
			name = "contest"
		}
		p.Info(fmt.Sprintf("%s: skipped (%s)", name, rep.Skipped))
		return
	}
	fmt.Fprintln(p.out, styleHeading.Render(rep.Window.Slug))
	c := rep.Counts
	p.field("run", rep.RunID)
	p.field("results", fmt.Sprint(len(rep.Results)))
	p.field("n/a", fmt.Sprint(c.NotAttempted))
	p.field("0", fmt.Sprint(c.NoneAccepted))
	p.field("invalid", fmt.Sprint(c.UnknownIdentity))
	for _, n := range sortedKeys(c.Solved) {
		p.field(fmt.Sprintf("solved %d", n), fmt.Sprint(c.Solved[n]))
	}
	if c.Fallbacks > 0 {
		p.field("fallbacks", styleWarn.Render(fmt.Sprint(c.Fallbacks)))
	}
	if rep.DryRun {
		p.Warn("dry run: nothing was written")
	}
}

func (p *Printer) field(label, value string) {
	fmt.Fprintln(p.out, "  "+styleLabel.Render(label)+" "+value)
}
