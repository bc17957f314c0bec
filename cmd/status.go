package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/archive"
	"github.com/papapumpkin/contestguard/internal/ledger"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show processed contests and recent runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().Bool("json", false, "output as JSON to stdout")
	statusCmd.Flags().Int("runs", 10, "number of archived runs to list")

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	st := ledger.Open(a.cfg.StateFile, a.loc, a.logger.Logger).Snapshot()

	limit, _ := cmd.Flags().GetInt("runs")
	runs, err := recentRuns(cmd, a.cfg.Archive.Path, limit)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}

	if jsonFlag, _ := cmd.Flags().GetBool("json"); jsonFlag {
		return writeStatusJSON(os.Stdout, st, runs)
	}
	a.printer.Ledger(st, runs, a.loc)
	return nil
}

// recentRuns lists archived runs without creating a database that does not
// exist yet.
func recentRuns(cmd *cobra.Command, path string, limit int) ([]archive.RunSummary, error) {
	if path == "" || limit <= 0 {
		return nil, nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	db, err := archive.OpenSQLite(cmd.Context(), path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Runs(cmd.Context(), limit)
}

type statusJSON struct {
	LastStatsUpdate   string                   `json:"last_stats_update,omitempty"`
	ProcessedContests map[string]processedJSON `json:"processed_contests"`
	Runs              []runJSON                `json:"runs,omitempty"`
}

type processedJSON struct {
	ProcessedAt   int64  `json:"processed_at"`
	ProcessedTime string `json:"processed_time"`
}

type runJSON struct {
	RunID       string    `json:"run_id"`
	ContestSlug string    `json:"contest_slug"`
	ProcessedAt time.Time `json:"processed_at"`
	Results     int       `json:"results"`
	Fallbacks   int       `json:"fallbacks"`
}

// writeStatusJSON writes the ledger and runs as indented JSON to w.
func writeStatusJSON(w io.Writer, st ledger.State, runs []archive.RunSummary) error {
	out := statusJSON{
		LastStatsUpdate:   st.LastStatsUpdate,
		ProcessedContests: make(map[string]processedJSON, len(st.ProcessedContests)),
	}
	for slug, e := range st.ProcessedContests {
		out.ProcessedContests[slug] = processedJSON(e)
	}
	for _, r := range runs {
		out.Runs = append(out.Runs, runJSON(r))
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
