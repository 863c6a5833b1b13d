package commands

import (
	"coursemigrate/internal/journal"
	"coursemigrate/internal/media"
	"coursemigrate/internal/migrate"
	"log/slog"
	"sync"

	"github.com/spf13/cobra"
)

func init() {
	backfillCmd.AddCommand(backfillAudioCmd, backfillFramesCmd, backfillTranscodeCmd)
	rootCmd.AddCommand(backfillCmd)
}

func newBackfiller() *migrate.Backfiller {
	return migrate.NewBackfiller(newRepos(), newMediaTool(), migrate.Options{
		WorkDir: cfg.WorkDir,
		Workers: cfg.MediaWorkers,
	}, tel)
}

func finishBackfill(name string, tally journal.Tally, err error) {
	if err != nil {
		slog.Error("backfill had failures", "backfill", name, "err", err)
	}
	printTally(name, tally)
}

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Completes the media of posts that were already migrated.",
}

var backfillAudioCmd = &cobra.Command{
	Use:   "audio",
	Short: "Extracts and uploads the audio of posts that have none.",
	Run: func(cmd *cobra.Command, args []string) {
		tally, err := newBackfiller().Audio(cmd.Context())
		finishBackfill("audio", tally, err)
	},
}

var backfillFramesCmd = &cobra.Command{
	Use:   "frames",
	Short: "Uploads the first frame of posts that have none.",
	Run: func(cmd *cobra.Command, args []string) {
		tally, err := newBackfiller().Frames(cmd.Context())
		finishBackfill("frames", tally, err)
	},
}

var backfillTranscodeCmd = &cobra.Command{
	Use:   "transcode",
	Short: "Re-encodes .mov videos that are not h264 to mp4.",
	Run: func(cmd *cobra.Command, args []string) {
		var mutex sync.Mutex
		last := map[int64]int{}
		tally, err := newBackfiller().Transcode(cmd.Context(), func(postID int64, p media.Progress) {
			percent := int(p.Fraction() * 100)
			mutex.Lock()
			defer mutex.Unlock()
			// one line per 10%
			previous, seen := last[postID]
			if seen && percent/10 == previous/10 {
				return
			}
			last[postID] = percent
			slog.Info("transcoding", "post", postID, "percent", percent)
		})
		finishBackfill("transcode", tally, err)
	},
}
