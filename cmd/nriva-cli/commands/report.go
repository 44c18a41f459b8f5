package commands

import (
	"fmt"
	"os"

	"nriva-archiver/lib/serviceutil"
	"nriva-archiver/lib/sqliteutil"
	"nriva-archiver/services/archiver/db"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var reportDb *string
var reportFailures *int

func init() {
	reportDb = reportCmd.Flags().String("db", "archive/data/outcomes.db", "The outcome database to summarize.")
	reportFailures = reportCmd.Flags().Int("failures", 20, "How many recent failures to list.")
	rootCmd.AddCommand(reportCmd)
}

var reportCmd = &cobra.Command{
	Use:   "report [--db <path/to/outcomes.db>] [--failures <n>]",
	Short: "Summarizes the outcome log of past scraping runs.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		database, err := sqliteutil.OpenDB(db.Schema, *reportDb)
		if err != nil {
			serviceutil.Fatal("failed to open outcome db", err)
		}
		defer database.Close()
		store := db.NewStore(database)

		kinds, err := store.SummarizeByKind(ctx)
		if err != nil {
			serviceutil.Fatal("failed to summarize outcomes", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Kind", "Ops", "Success", "Fatal", "Avg ms", "Total time"})
		for _, k := range kinds {
			t.AppendRow(table.Row{k.Kind, k.TotalOps, k.Success, k.Fatal, k.AvgMs, k.TotalTime})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()

		failures, err := store.ListFailures(ctx, *reportFailures)
		if err != nil {
			serviceutil.Fatal("failed to list failures", err)
		}
		if len(failures) == 0 {
			fmt.Println("No recorded failures.")
			return
		}

		t = table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Kind", "Target", "Attempts", "Time", "Error"})
		for _, f := range failures {
			t.AppendRow(table.Row{f.Kind, f.Target, f.Attempts, f.Time.Format("2006-01-02 15:04:05"), f.Error})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}
