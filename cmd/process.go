package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/contest"
	"github.com/papapumpkin/contestguard/internal/evaluate"
	"github.com/papapumpkin/contestguard/internal/ledger"
	"github.com/papapumpkin/contestguard/internal/scheduler"
	"github.com/papapumpkin/contestguard/internal/telemetry"
	"github.com/papapumpkin/contestguard/internal/ui"
)

var processCmd = &cobra.Command{
	Use:   "process <contest-slug>",
	Short: "Reconcile one named contest into the sheet",
	Long: "process evaluates every participant against the named contest and writes its results " +
		"column, exactly as a scheduled run would. Use it to backfill a contest whose trigger " +
		"window was missed. A contest already in the ledger is skipped.",
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringSlice("problems", nil, "problem slugs to use when upstream does not list them")
	processCmd.Flags().String("title", "", "column header (default the contest title)")
	processCmd.Flags().Bool("dry-run", false, "log results without writing the sheet or the ledger")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	slug := args[0]
	f, err := a.familyOf(slug)
	if err != nil {
		return err
	}

	ctx, cancel := setupSignalContext(a.printer)
	defer cancel()

	w, err := lookupWindow(ctx, a, slug)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	problems, _ := cmd.Flags().GetStringSlice("problems")
	title, _ := cmd.Flags().GetString("title")
	now := time.Now()
	if w, err = prepareWindow(w, problems, title, now); err != nil {
		a.printer.Error(err.Error())
		return err
	}
	if len(problems) > 0 && !sameProblems(w.Problems, problems) {
		a.printer.Warn("upstream lists the problems; ignoring --problems")
	}

	opts, err := engineOptions(a)
	if err != nil {
		return err
	}
	if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
		opts.DryRun = true
	}

	sh, err := a.openSheet(ctx)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	arc, err := openArchives(ctx, a.cfg.Archive, a.logger.Logger)
	if err != nil {
		return err
	}
	defer closeLogged(a.logger.Logger, "archive", arc.Close)

	var emitter *telemetry.Emitter
	if a.cfg.TelemetryFile != "" {
		if emitter, err = telemetry.NewEmitter(a.cfg.TelemetryFile); err != nil {
			return err
		}
		defer closeLogged(a.logger.Logger, "telemetry", emitter.Close)
	}

	engine, err := scheduler.New(opts, scheduler.Deps{
		Resolver:  a.resolver,
		Evaluator: evaluate.New(a.client),
		Roster:    sh,
		Ledger:    ledger.Open(a.cfg.StateFile, a.loc, a.logger.Logger),
		Archive:   arc.sink,
		Telemetry: emitter,
		Logger:    a.logger.Logger,
	})
	if err != nil {
		return err
	}
	return processWindow(ctx, engine, f, w, now, a.printer)
}

// familyOf returns the family whose slugs look like slug.
func (a *app) familyOf(slug string) (contest.Family, error) {
	for _, f := range []contest.Family{a.weekly, a.biweekly} {
		if _, ok := f.Number(slug); ok {
			return f, nil
		}
	}
	return contest.Family{}, fmt.Errorf("%s is not a %s or %s contest slug", slug, a.weekly.Name, a.biweekly.Name)
}

// prepareWindow applies the manual problem list and header to a looked-up
// window. The problem list is used only when upstream hides the problems. A
// contest that has not ended cannot be processed.
func prepareWindow(w contest.Window, problems []string, title string, now time.Time) (contest.Window, error) {
	if !w.EndTime().Before(now) {
		return w, fmt.Errorf("contest %s has not ended yet (ends %s)", w.Slug, w.EndTime().Format(time.RFC3339))
	}
	if len(w.Problems) == 0 {
		if len(problems) == 0 {
			return w, fmt.Errorf("upstream lists no problems for %s; pass them with --problems", w.Slug)
		}
		w.Problems = dedupe(problems)
	}
	if title != "" {
		w.Title = title
	}
	return w, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func sameProblems(a, b []string) bool {
	b = dedupe(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// processWindow runs one reconciliation of w and prints its report.
func processWindow(ctx context.Context, engine *scheduler.Engine, f contest.Family, w contest.Window, now time.Time, printer *ui.Printer) error {
	printer.Info(fmt.Sprintf("processing %s", w.Slug))
	rep, err := engine.Process(ctx, f, &w, now)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			printer.Warn("interrupted; the contest was not marked processed")
		}
		printer.Error(err.Error())
		return err
	}
	printer.Report(rep)
	if !rep.IsSkip() {
		printer.Success("done")
	}
	return nil
}
