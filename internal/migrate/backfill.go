package migrate

import (
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/media"
	"coursemigrate/internal/models"
	"coursemigrate/internal/strapi"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const report_backfill = "backfill"

// Backfiller completes media of posts that are already migrated.
type Backfiller struct {
	repos   models.Repos
	tool    MediaTool
	workDir string
	workers int
	tel     telemetry.API
}

func NewBackfiller(repos models.Repos, tool MediaTool, opts Options, tel telemetry.API) *Backfiller {
	assert.NotNil(repos.Client)
	assert.NotNil(tool)
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "coursemigrate")
	}
	return &Backfiller{
		repos:   repos,
		tool:    tool,
		workDir: filepath.Join(opts.WorkDir, "backfill"),
		workers: opts.Workers,
		tel:     telemetry.NewScopedAPI("migrate", tel),
	}
}

type derive func(ctx context.Context, post models.PostCourseVideo, dir string) (field, path string, err error)

var errNothingToDo = errors.New("nothing to do")

// each runs fn over the matching posts, uploading the file fn produced into
// the field it names.
func (b *Backfiller) each(ctx context.Context, name string, match func(models.PostCourseVideo) bool, fn derive) (journal.Tally, error) {
	ctx, span := tracer.Start(ctx, "backfill."+name)
	defer span.End()

	posts, err := b.repos.PostCourseVideos.ListDepth(ctx, 1)
	if err != nil {
		return journal.Tally{}, err
	}

	var (
		mutex sync.Mutex
		tally journal.Tally
		errs  []error
	)
	group := errgroup.Group{}
	group.SetLimit(b.workers)
	for _, post := range posts {
		if !match(post) {
			continue
		}
		group.Go(func() error {
			status, err := b.one(ctx, post, fn)
			mutex.Lock()
			defer mutex.Unlock()
			tally.Add(status)
			if err != nil {
				id, _ := post.ID()
				b.tel.ReportBroken(report_backfill, name, id, err)
				errs = append(errs, fmt.Errorf("post %d: %w", id, err))
			}
			return nil
		})
	}
	group.Wait()
	b.tel.ReportDebug(report_backfill, name, tally.Migrated, tally.Skipped, tally.Failed)
	return tally, errors.Join(errs...)
}

func (b *Backfiller) one(ctx context.Context, post models.PostCourseVideo, fn derive) (journal.Status, error) {
	id, _ := post.ID()
	dir := filepath.Join(b.workDir, strconv.FormatInt(id, 10))
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return journal.StatusFailed, err
	}
	defer os.RemoveAll(dir)

	field, path, err := fn(ctx, post, dir)
	if errors.Is(err, errNothingToDo) {
		return journal.StatusSkipped, nil
	}
	if err != nil {
		return journal.StatusFailed, err
	}

	uploaded, err := b.repos.Client.Upload(ctx, path)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("upload: %w", err)
	}
	if uploaded == nil {
		return journal.StatusFailed, fmt.Errorf("upload: %s was not produced", path)
	}
	err = b.repos.PostCourseVideos.Update(ctx, post, map[string]strapi.Value{
		field: strapi.MediaValue(uploaded),
	})
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("update: %w", err)
	}
	return journal.StatusMigrated, nil
}

// Audio extracts the audio of posts that have a video but no audio file.
func (b *Backfiller) Audio(ctx context.Context) (journal.Tally, error) {
	return b.each(
		ctx, "audio",
		func(p models.PostCourseVideo) bool {
			return p.Video() != nil && p.Audio() == nil
		},
		func(ctx context.Context, p models.PostCourseVideo, dir string) (string, string, error) {
			dest := filepath.Join(dir, "audio.mp3")
			err := b.tool.ExtractAudio(ctx, b.repos.Client.AssetUrl(p.Video()), dest)
			if errors.Is(err, media.ErrNoAudio) {
				return "", "", errNothingToDo
			}
			return "audio_file", dest, err
		},
	)
}

// Frames stores frame zero of posts without a first frame.
func (b *Backfiller) Frames(ctx context.Context) (journal.Tally, error) {
	return b.each(
		ctx, "frames",
		func(p models.PostCourseVideo) bool {
			return p.Video() != nil && p.FirstFrame() == nil
		},
		func(ctx context.Context, p models.PostCourseVideo, dir string) (string, string, error) {
			dest := filepath.Join(dir, "first_frame.jpg")
			err := b.tool.FirstFrame(ctx, b.repos.Client.AssetUrl(p.Video()), dest)
			return "first_frame", dest, err
		},
	)
}

func isMov(m *strapi.Media) bool {
	if m == nil {
		return false
	}
	return strings.EqualFold(m.Ext, ".mov") || strings.HasSuffix(strings.ToLower(m.Url), ".mov")
}

// Transcode re-encodes .mov videos whose video stream is not h264 and
// replaces the video file of the post. progress may be nil.
func (b *Backfiller) Transcode(ctx context.Context, progress func(postID int64, p media.Progress)) (journal.Tally, error) {
	return b.each(
		ctx, "transcode",
		func(p models.PostCourseVideo) bool {
			return isMov(p.Video())
		},
		func(ctx context.Context, p models.PostCourseVideo, dir string) (string, string, error) {
			source := b.repos.Client.AssetUrl(p.Video())
			info, err := b.tool.Probe(ctx, source)
			if err != nil {
				return "", "", err
			}
			if !info.NeedsTranscode() {
				return "", "", errNothingToDo
			}

			id, _ := p.ID()
			var report func(media.Progress)
			if progress != nil {
				report = func(pr media.Progress) { progress(id, pr) }
			}
			dest := filepath.Join(dir, "video.mp4")
			err = b.tool.Transcode(ctx, source, dest, report)
			return "video_file", dest, err
		},
	)
}
