package commands

import (
	"coursemigrate/internal/journal"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	reportRun    string
	reportStatus string
	reportRuns   bool
)

func init() {
	reportCmd.Flags().StringVar(&reportRun, "run", "", "Run to report on, defaults to the latest run.")
	reportCmd.Flags().StringVar(&reportStatus, "status", "", "Only list outcomes with this status (migrated, skipped, failed).")
	reportCmd.Flags().BoolVar(&reportRuns, "runs", false, "List every run instead.")
	rootCmd.AddCommand(reportCmd)
}

func printTally(runID string, tally journal.Tally) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("run " + runID)
	t.AppendHeader(table.Row{"Migrated", "Skipped", "Failed", "Total"})
	t.AppendRow(table.Row{tally.Migrated, tally.Skipped, tally.Failed, tally.Total()})
	t.SetStyle(table.StyleRounded)
	t.Render()
}

// printOutcomes lists outcomes, onlyProblems hides migrated posts.
func printOutcomes(outcomes []journal.Outcome, onlyProblems bool) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Course", "Post", "Title", "Status", "Reason", "Record"})
	count := 0
	for _, o := range outcomes {
		if onlyProblems && o.Status == journal.StatusMigrated {
			continue
		}
		record := ""
		if o.RecordID > 0 {
			record = fmt.Sprint(o.RecordID)
		}
		t.AppendRow(table.Row{o.Course, o.PostID, o.Title, o.Status, o.Reason, record})
		count++
	}
	if count == 0 {
		return
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var reportCmd = &cobra.Command{
	Use:   "report [--run <id>] [--status <status>]",
	Short: "Prints the outcomes of a migration run from the journal.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		j, err := openJournal()
		if err != nil {
			fatal("failed to open journal", err)
		}
		defer j.Close()

		if reportRuns {
			runs, err := j.Runs(ctx)
			if err != nil {
				fatal("failed to list runs", err)
			}
			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Run", "Started", "Finished", "Courses"})
			for _, run := range runs {
				finished := "-"
				if run.Finished() {
					finished = run.FinishedAt.Local().Format(time.DateTime)
				}
				t.AppendRow(table.Row{run.ID, run.StartedAt.Local().Format(time.DateTime), finished, strings.Join(run.Courses, ", ")})
			}
			t.SetStyle(table.StyleRounded)
			t.Render()
			return
		}

		run, found, err := j.Run(ctx, reportRun)
		if err != nil {
			fatal("failed to read run", err)
		}
		if !found {
			fmt.Fprintln(os.Stderr, "no such run")
			os.Exit(1)
		}
		tally, err := j.Tally(ctx, run.ID)
		if err != nil {
			fatal("failed to tally run", err)
		}
		outcomes, err := j.Outcomes(ctx, run.ID, journal.Status(reportStatus))
		if err != nil {
			fatal("failed to list outcomes", err)
		}

		printTally(run.ID, tally)
		printOutcomes(outcomes, false)
	},
}
