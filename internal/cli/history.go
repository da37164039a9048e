package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/flowload/internal/output"
	"github.com/wesleyorama2/flowload/internal/report"
)

const defaultHistoryFile = "flowload_history.db"

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "List previous runs recorded with --history",
		Long: `List the runs stored in a history database, newest first. With a run
id, print that run's record as JSON.

  flowload history --file runs.db --limit 5
  flowload history --file runs.db 4f1c...`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().String("file", defaultHistoryFile, "History database file")
	cmd.Flags().Int("limit", 20, "Maximum number of runs to list (0 = all)")
	cmd.Flags().Bool("json", false, "Print records as JSON")
	cmd.Flags().Bool("no-color", false, "Disable colored output")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("file")
	limit, _ := flags.GetInt("limit")
	asJSON, _ := flags.GetBool("json")
	noColor, _ := flags.GetBool("no-color")

	store, err := report.OpenHistory(path)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		rec, err := store.Get(args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd, rec)
	}

	records, err := store.List(limit)
	if err != nil {
		return err
	}
	if asJSON {
		if records == nil {
			records = []report.HistoryRecord{}
		}
		return printJSON(cmd, records)
	}

	output.NewConsole(output.ConsoleConfig{Writer: cmd.OutOrStdout(), NoColor: noColor}).PrintHistory(records)
	return nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := report.Encode(".json", v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
	return err
}
