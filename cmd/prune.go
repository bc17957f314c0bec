package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/archive"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete archived runs older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runPrune,
}

func init() {
	pruneCmd.Flags().Duration("older-than", 0, "override archive.retention")

	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	retention := a.cfg.Archive.Retention
	if v, _ := cmd.Flags().GetDuration("older-than"); v > 0 {
		retention = v
	}
	if retention <= 0 {
		return errors.New("no retention configured; set archive.retention or --older-than")
	}
	if a.cfg.Archive.Path == "" {
		return errors.New("archive.path is not set")
	}

	db, err := archive.OpenSQLite(cmd.Context(), a.cfg.Archive.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := db.Prune(cmd.Context(), time.Now().Add(-retention))
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	a.printer.Success(fmt.Sprintf("pruned %d runs older than %s", n, retention))
	return nil
}
