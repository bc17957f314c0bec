package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/contest"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <weekly|biweekly>",
	Short: "Locate a contest window",
	Long: "resolve finds the most recent completed (recent), highest existing (latest) or next " +
		"upcoming (next) contest of a family and prints its window.",
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().String("direction", contest.RecentCompleted.String(), "recent, latest or next")
	resolveCmd.Flags().String("at", "", "reference time in RFC 3339 (default now)")

	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	f, err := a.family(args[0])
	if err != nil {
		return err
	}

	dirFlag, _ := cmd.Flags().GetString("direction")
	dir, ok := contest.ParseDirection(dirFlag)
	if !ok {
		return fmt.Errorf("unknown direction %q (want recent, latest or next)", dirFlag)
	}
	at := time.Now()
	if s, _ := cmd.Flags().GetString("at"); s != "" {
		if at, err = time.Parse(time.RFC3339, s); err != nil {
			return fmt.Errorf("parsing --at: %w", err)
		}
	}

	ctx, cancel := setupSignalContext(a.printer)
	defer cancel()

	w, found, err := a.resolver.Resolve(ctx, f, dir, at)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	if !found {
		err := fmt.Errorf("no %s %s contest near %s: %w", dir, f.Name, at.In(a.loc).Format(time.RFC3339), contest.ErrNotFound)
		a.printer.Warn(err.Error())
		return err
	}
	a.printer.Window(w, a.loc)
	return nil
}

// lookupWindow fetches a contest by slug for commands that take one.
func lookupWindow(ctx context.Context, a *app, slug string) (contest.Window, error) {
	w, err := a.client.Contest(ctx, slug)
	if errors.Is(err, contest.ErrNotFound) {
		return contest.Window{}, fmt.Errorf("contest %s does not exist", slug)
	}
	return w, err
}
