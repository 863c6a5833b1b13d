package commands

import (
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/migrate"
	"coursemigrate/internal/scrapers/kartra"
	"log/slog"

	"github.com/spf13/cobra"
)

var keepFiles bool

func init() {
	migrateCmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Keep downloaded videos in the work directory.")
	rootCmd.AddCommand(migrateCmd)
}

func newCrawler(session kartraSession) *kartra.Crawler {
	return kartra.NewCrawler(session.Session, tel)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [course id...]",
	Short: "Migrates the posts of courses, posts that already exist are skipped.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		courses := cfg.courses(args)
		if len(courses) == 0 {
			slog.Warn("no courses to migrate, configure courses or pass course ids")
			return
		}
		telemetry.InstrumentPerfStats(ctx, tel)

		session, err := openSession(ctx, false)
		if err != nil {
			fatal("failed to open kartra session, run login first", err)
		}
		defer session.Close()

		j, err := openJournal()
		if err != nil {
			fatal("failed to open journal", err)
		}
		defer j.Close()

		orchestrator := migrate.New(
			newRepos(),
			newCrawler(session),
			newVimeo(),
			newMediaTool(),
			j,
			migrate.Options{
				WorkDir:   cfg.WorkDir,
				Workers:   cfg.PostWorkers,
				KeepFiles: keepFiles,
			},
			tel,
		)
		result, err := orchestrator.Run(ctx, courses)
		if err != nil {
			slog.Error("some courses could not be migrated", "err", err)
		}

		printTally(result.RunID, result.Tally)
		printOutcomes(result.Outcomes, true)
	},
}
