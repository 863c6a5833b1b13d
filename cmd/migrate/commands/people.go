package commands

import (
	"coursemigrate/internal/migrate"
	"log/slog"

	"github.com/spf13/cobra"
)

var peopleWorkers int

func init() {
	peopleCmd.Flags().IntVar(&peopleWorkers, "workers", 8, "People processed at once.")
	rootCmd.AddCommand(peopleCmd)
}

var peopleCmd = &cobra.Command{
	Use:   "people <people.json>",
	Short: "Creates famous people and uploads their pictures, from picture_url or wikipedia.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		people, err := migrate.LoadPeople(args[0])
		if err != nil {
			fatal("failed to read people", err)
		}
		populator := migrate.NewPeople(newRepos(), newWikipedia(), migrate.Options{
			WorkDir: cfg.WorkDir,
			Workers: peopleWorkers,
		}, tel)
		tally, err := populator.Populate(cmd.Context(), people)
		if err != nil {
			slog.Error("some people could not be populated", "err", err)
		}
		printTally("people", tally)
	},
}
