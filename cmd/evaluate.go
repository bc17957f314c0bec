package cmd

import (
	"github.com/spf13/cobra"

	"github.com/papapumpkin/contestguard/internal/evaluate"
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <identity> <contest-slug>",
	Short: "Classify one identity against one contest",
	Long: "evaluate fetches an identity's recent submissions and prints the label that would be " +
		"written to the roster for the given contest. Nothing is written.",
	Args: cobra.ExactArgs(2),
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	identity, slug := args[0], args[1]

	ctx, cancel := setupSignalContext(a.printer)
	defer cancel()

	w, err := lookupWindow(ctx, a, slug)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	o, err := evaluate.New(a.client).Evaluate(ctx, identity, w)
	if err != nil {
		a.printer.Error(err.Error())
		return err
	}
	a.printer.Outcome(identity, w, o)
	return nil
}
