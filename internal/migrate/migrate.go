package migrate

import (
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/media"
	"coursemigrate/internal/models"
	"coursemigrate/internal/scrapers/kartra"
	"coursemigrate/internal/sources/vimeo"
	"coursemigrate/internal/strapi"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

const (
	report_migrate_course = "migrate.course"
	report_migrate_post   = "migrate.post"
	report_migrate_run    = "migrate.run"
)

var tracer = otel.Tracer("coursemigrate/migrate")
var meter = otel.Meter("coursemigrate/migrate")
var postCounter, _ = meter.Int64Counter(
	"migrate.posts",
	metric.WithDescription("posts processed by outcome"),
)

// Source enumerates and resolves the posts of a course.
type Source interface {
	Discover(ctx context.Context, course string) ([]kartra.Post, error)
	Resolve(ctx context.Context, post kartra.Post) (kartra.Post, bool, error)
}

// Downloader fetches a video (and its thumbnail) into a directory.
type Downloader interface {
	Fetch(ctx context.Context, videoID, dir string) (vimeo.Downloaded, bool, error)
}

// MediaTool runs the subprocess work, see media.Tool.
type MediaTool interface {
	Probe(ctx context.Context, source string) (media.Info, error)
	ExtractAudio(ctx context.Context, source, dest string) error
	FirstFrame(ctx context.Context, source, dest string) error
	Transcode(ctx context.Context, source, dest string, progress func(media.Progress)) error
}

// Journal is where outcomes are recorded, optional.
type Journal interface {
	StartRun(ctx context.Context, courses []string) (journal.Run, error)
	Record(ctx context.Context, runID string, o journal.Outcome) error
	FinishRun(ctx context.Context, runID string) error
}

// Course is a source course, Title is the title of the destination course
// and defaults to the id.
type Course struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (c Course) title() string {
	if c.Title != "" {
		return c.Title
	}
	return c.ID
}

type Options struct {
	// WorkDir holds the per post download directories.
	WorkDir string
	// Workers bounds the posts migrated concurrently, defaults to 4.
	Workers int
	// KeepFiles leaves downloaded files in WorkDir after a post finishes.
	KeepFiles bool
}

type Orchestrator struct {
	repos   models.Repos
	source  Source
	videos  Downloader
	tool    MediaTool
	journal Journal
	opts    Options
	tel     telemetry.API
}

func New(repos models.Repos, source Source, videos Downloader, tool MediaTool, j Journal, opts Options, tel telemetry.API) *Orchestrator {
	assert.NotNil(repos.Client)
	assert.NotNil(source)
	assert.NotNil(videos)
	assert.NotNil(tool)
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "coursemigrate")
	}
	return &Orchestrator{
		repos:   repos,
		source:  source,
		videos:  videos,
		tool:    tool,
		journal: j,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("migrate", tel),
	}
}

type Result struct {
	RunID    string
	Tally    journal.Tally
	Outcomes []journal.Outcome
}

// Run migrates every course. A course that cannot be discovered is reported
// and counted as an error of the run, the other courses still run.
func (o *Orchestrator) Run(ctx context.Context, courses []Course) (Result, error) {
	ctx, span := tracer.Start(ctx, "run")
	defer span.End()

	var result Result
	if o.journal != nil {
		ids := make([]string, len(courses))
		for i, c := range courses {
			ids[i] = c.ID
		}
		run, err := o.journal.StartRun(ctx, ids)
		if err != nil {
			return Result{}, err
		}
		result.RunID = run.ID
	}

	var errs []error
	for _, course := range courses {
		outcomes, err := o.MigrateCourse(ctx, result.RunID, course)
		if err != nil {
			o.tel.ReportBroken(report_migrate_course, err, course.ID)
			errs = append(errs, fmt.Errorf("course %s: %w", course.ID, err))
			continue
		}
		for _, outcome := range outcomes {
			result.Tally.Add(outcome.Status)
		}
		result.Outcomes = append(result.Outcomes, outcomes...)
	}

	if o.journal != nil {
		err := o.journal.FinishRun(ctx, result.RunID)
		if err != nil {
			o.tel.ReportWarning(report_migrate_run, err)
		}
	}
	o.tel.ReportDebug(report_migrate_run, "done", result.Tally.Migrated, result.Tally.Skipped, result.Tally.Failed)
	return result, errors.Join(errs...)
}

// MigrateCourse discovers the posts of a course and migrates them
// concurrently. The outcomes are in discovery order.
func (o *Orchestrator) MigrateCourse(ctx context.Context, runID string, course Course) ([]journal.Outcome, error) {
	ctx, span := tracer.Start(ctx, "course")
	defer span.End()
	span.SetAttributes(attribute.String("course", course.ID))

	posts, err := o.source.Discover(ctx, course.ID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]journal.Outcome, len(posts))
	group := errgroup.Group{}
	group.SetLimit(o.opts.Workers)
	for i, post := range posts {
		group.Go(func() error {
			// failures stay with their post, the group never cancels
			outcomes[i] = o.MigratePost(ctx, course, post)
			o.record(ctx, runID, outcomes[i])
			return nil
		})
	}
	group.Wait()
	return outcomes, nil
}

func (o *Orchestrator) record(ctx context.Context, runID string, outcome journal.Outcome) {
	postCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("course", outcome.Course),
		attribute.String("status", string(outcome.Status)),
	))
	switch outcome.Status {
	case journal.StatusFailed:
		o.tel.ReportBroken(report_migrate_post, outcome.Course, outcome.PostID, outcome.Reason)
	case journal.StatusSkipped:
		o.tel.ReportDebug(report_migrate_post, "skipped", outcome.Course, outcome.PostID, outcome.Reason)
	default:
		o.tel.ReportDebug(report_migrate_post, "migrated", outcome.Course, outcome.PostID, outcome.RecordID)
	}

	if o.journal == nil || runID == "" {
		return
	}
	err := o.journal.Record(ctx, runID, outcome)
	if err != nil {
		o.tel.ReportWarning(report_migrate_post, fmt.Errorf("journal: %w", err))
	}
}

const (
	reasonExists     = "already migrated"
	reasonNotFound   = "post page not found"
	reasonNoVideo    = "no playable video"
	reasonNoSource   = "video not found on source"
	reasonIncomplete = "post has no name or category"
)

func skipped(outcome journal.Outcome, reason string) journal.Outcome {
	outcome.Status = journal.StatusSkipped
	outcome.Reason = reason
	return outcome
}

func failed(outcome journal.Outcome, err error) journal.Outcome {
	outcome.Status = journal.StatusFailed
	outcome.Reason = err.Error()
	return outcome
}

// named is true when discovery saw enough of the post to place it in the
// hierarchy without visiting its page.
func named(post kartra.Post) bool {
	return post.Name != "" && post.Category != "" && post.Subcategory != ""
}

// MigratePost runs the pipeline of a single post. Every error ends up in the
// returned outcome.
func (o *Orchestrator) MigratePost(ctx context.Context, course Course, post kartra.Post) journal.Outcome {
	ctx, span := tracer.Start(ctx, "post")
	defer span.End()
	span.SetAttributes(
		attribute.String("course", course.ID),
		attribute.Int("post_id", post.ID),
	)

	outcome := journal.Outcome{Course: course.ID, PostID: post.ID, Title: post.Name}

	// posts only seen by the raw html scan have to be resolved first
	if !named(post) && !post.Resolved {
		resolved, found, err := o.source.Resolve(ctx, post)
		if err != nil {
			return failed(outcome, fmt.Errorf("resolve: %w", err))
		}
		if !found {
			return skipped(outcome, reasonNotFound)
		}
		post = resolved
		outcome.Title = post.Name
	}
	if post.Name == "" || post.Category == "" {
		return skipped(outcome, reasonIncomplete)
	}
	if post.Subcategory == "" {
		post.Subcategory = post.Category
	}

	courseRec, _, err := o.repos.Courses.GetOrCreate(ctx, models.NewCourse(course.title()))
	if err != nil {
		return failed(outcome, fmt.Errorf("course: %w", err))
	}
	category, _, err := o.repos.CourseCategories.GetOrCreate(ctx, models.NewCourseCategory(post.Category, courseRec))
	if err != nil {
		return failed(outcome, fmt.Errorf("category: %w", err))
	}
	subcategory, _, err := o.repos.CourseSubcategories.GetOrCreate(ctx, models.NewCourseSubcategory(post.Subcategory, category))
	if err != nil {
		return failed(outcome, fmt.Errorf("subcategory: %w", err))
	}

	existing, found, err := o.repos.PostCourseVideos.FindOne(
		ctx,
		strapi.EqStr("title", post.Name),
		strapi.Eq("course_subcategory", strapi.RefToRecord(subcategory.Record)),
	)
	if err != nil {
		return failed(outcome, fmt.Errorf("find post: %w", err))
	}
	if found {
		id, _ := existing.ID()
		outcome.RecordID = int(id)
		return skipped(outcome, reasonExists)
	}

	if !post.Resolved {
		resolved, found, err := o.source.Resolve(ctx, post)
		if err != nil {
			return failed(outcome, fmt.Errorf("resolve: %w", err))
		}
		if !found {
			return skipped(outcome, reasonNotFound)
		}
		post = resolved
	}
	if !post.HasVideo() {
		return skipped(outcome, reasonNoVideo)
	}

	dir := filepath.Join(o.opts.WorkDir, course.ID, strconv.Itoa(post.ID))
	err = os.RemoveAll(dir)
	if err != nil {
		return failed(outcome, err)
	}
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return failed(outcome, err)
	}
	if !o.opts.KeepFiles {
		defer os.RemoveAll(dir)
	}

	files, found, err := o.videos.Fetch(ctx, post.VideoID, dir)
	if err != nil {
		return failed(outcome, fmt.Errorf("download video %s: %w", post.VideoID, err))
	}
	if !found {
		return skipped(outcome, reasonNoSource)
	}

	audioPath := filepath.Join(dir, "audio.mp3")
	err = o.tool.ExtractAudio(ctx, files.Video, audioPath)
	if errors.Is(err, media.ErrNoAudio) {
		audioPath = ""
	} else if err != nil {
		return failed(outcome, err)
	}

	upload := func(path string) (*strapi.Media, error) {
		if path == "" {
			return nil, nil
		}
		return o.repos.Client.Upload(ctx, path)
	}
	video, err := upload(files.Video)
	if err != nil {
		return failed(outcome, fmt.Errorf("upload video: %w", err))
	}
	if video == nil {
		return failed(outcome, fmt.Errorf("upload video: %s is missing", files.Video))
	}
	audio, err := upload(audioPath)
	if err != nil {
		return failed(outcome, fmt.Errorf("upload audio: %w", err))
	}
	thumbnail, err := upload(files.Thumbnail)
	if err != nil {
		return failed(outcome, fmt.Errorf("upload thumbnail: %w", err))
	}

	created := models.NewPostCourseVideo(models.PostCourseVideoFields{
		Title:       post.Name,
		Course:      courseRec,
		Category:    category,
		Subcategory: subcategory,
		Video:       video,
		Audio:       audio,
		Thumbnail:   thumbnail,
	})
	err = o.repos.PostCourseVideos.Create(ctx, created)
	if err != nil {
		return failed(outcome, fmt.Errorf("create post: %w", err))
	}

	id, _ := created.ID()
	outcome.Status = journal.StatusMigrated
	outcome.RecordID = int(id)
	return outcome
}
