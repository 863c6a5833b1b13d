package commands

import (
	"coursemigrate/internal/migrate"
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	replaysMigrateCmd.Flags().BoolVar(&keepFiles, "keep-files", false, "Keep downloaded videos in the work directory.")
	replaysCmd.AddCommand(replaysMigrateCmd, replaysTitlesCmd)
	rootCmd.AddCommand(replaysCmd)
}

func newReplays() *migrate.Replays {
	if cfg.Replays.Coach == "" {
		fatal("replays.coach is not configured", nil)
	}
	return migrate.NewReplays(newRepos(), newVimeo(), migrate.ReplayOptions{
		User:     cfg.Replays.User,
		Coach:    cfg.Replays.Coach,
		Location: cfg.replayLocation(),
		Options: migrate.Options{
			WorkDir:   cfg.WorkDir,
			Workers:   cfg.Replays.Workers,
			KeepFiles: keepFiles,
		},
	}, tel)
}

var replaysCmd = &cobra.Command{
	Use:   "replays",
	Short: "Moves coaching session recordings from vimeo to coaching replays.",
}

var replaysMigrateCmd = &cobra.Command{
	Use:   "migrate <folder id>",
	Short: "Creates a coaching replay for every video of a vimeo folder.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		tally, err := newReplays().Migrate(cmd.Context(), args[0])
		if err != nil {
			slog.Error("some replays could not be migrated", "folder", args[0], "err", err)
		}
		printTally("replays", tally)
	},
}

var replaysTitlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "Fills type, octagram and recording date of replays from their names.",
	Run: func(cmd *cobra.Command, args []string) {
		tally, err := newReplays().ParseTitles(cmd.Context())
		if err != nil {
			slog.Error("some replay titles could not be stored", "err", err)
		}
		printTally("titles", tally)
	},
}
