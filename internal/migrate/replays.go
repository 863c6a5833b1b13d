package migrate

import (
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/models"
	"coursemigrate/internal/sources/vimeo"
	"coursemigrate/internal/strapi"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	report_replays_migrate = "replays.migrate"
	report_replays_titles  = "replays.titles"
)

// Folder lists and downloads the videos of a vimeo project folder.
type Folder interface {
	FolderVideos(ctx context.Context, user, folder string) ([]vimeo.Video, error)
	Fetch(ctx context.Context, videoID, dir string) (vimeo.Downloaded, bool, error)
}

type ReplayOptions struct {
	// User owns the folder, empty means the token owner.
	User string
	// Coach is the author name every replay is attributed to.
	Coach string
	// Location is the zone dates in titles are written in, defaults to UTC.
	Location *time.Location
	Options
}

// Replays moves coaching session recordings from vimeo into coaching
// replays.
type Replays struct {
	repos  models.Repos
	folder Folder
	opts   ReplayOptions
	tel    telemetry.API
}

func NewReplays(repos models.Repos, folder Folder, opts ReplayOptions, tel telemetry.API) *Replays {
	assert.NotNil(repos.Client)
	assert.NotNil(folder)
	assert.NotEmptyStr(opts.Coach)
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "coursemigrate")
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Replays{
		repos:  repos,
		folder: folder,
		opts:   opts,
		tel:    telemetry.NewScopedAPI("migrate", tel),
	}
}

func (r *Replays) coach(ctx context.Context) (models.Author, error) {
	coach, _, err := r.repos.Authors.GetOrCreate(ctx, models.NewAuthor(r.opts.Coach))
	if err != nil {
		return models.Author{}, fmt.Errorf("coach %q: %w", r.opts.Coach, err)
	}
	return coach, nil
}

// sameRecording compares a stored recording date with a parsed one, zero
// meaning none.
func sameRecording(a time.Time, aok bool, b time.Time) bool {
	if !aok || b.IsZero() {
		return !aok && b.IsZero()
	}
	return a.Equal(b)
}

// exists reports whether a replay with the parsed name and date is already
// there. Names repeat across sessions, so the name alone is not enough.
func (r *Replays) exists(ctx context.Context, title ReplayTitle) (bool, error) {
	candidates, err := r.repos.CoachingReplays.Where(ctx, strapi.EqStr("name", title.Name))
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		recorded, ok := c.RecordingDate()
		if sameRecording(recorded, ok, title.Recorded) {
			return true, nil
		}
	}
	return false, nil
}

// Migrate creates a coaching replay for every video of folder, names are
// parsed with ParseReplayTitle. Videos already migrated are skipped.
func (r *Replays) Migrate(ctx context.Context, folder string) (journal.Tally, error) {
	ctx, span := tracer.Start(ctx, "replays.migrate")
	defer span.End()

	coach, err := r.coach(ctx)
	if err != nil {
		return journal.Tally{}, err
	}
	videos, err := r.folder.FolderVideos(ctx, r.opts.User, folder)
	if err != nil {
		return journal.Tally{}, fmt.Errorf("list folder %s: %w", folder, err)
	}
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].Name < videos[j].Name
	})

	var (
		mutex sync.Mutex
		tally journal.Tally
		errs  []error
	)
	// videos whose titles parse the same would race on the existence check
	seen := map[string]bool{}
	group := errgroup.Group{}
	group.SetLimit(r.opts.Workers)
	for _, video := range videos {
		title := ParseReplayTitle(video.Name, r.opts.Location)
		key := title.Name + "\x00" + title.Recorded.UTC().String()
		if seen[key] {
			r.tel.ReportWarning(report_replays_migrate, "duplicate title", video.Name)
			mutex.Lock()
			tally.Add(journal.StatusSkipped)
			mutex.Unlock()
			continue
		}
		seen[key] = true
		group.Go(func() error {
			status, err := r.migrateOne(ctx, coach, video)
			mutex.Lock()
			defer mutex.Unlock()
			tally.Add(status)
			if err != nil {
				r.tel.ReportBroken(report_replays_migrate, video.Name, err)
				errs = append(errs, fmt.Errorf("video %s: %w", video.ID(), err))
			}
			return nil
		})
	}
	group.Wait()
	r.tel.ReportDebug(report_replays_migrate, folder, tally.Migrated, tally.Skipped, tally.Failed)
	return tally, errors.Join(errs...)
}

func (r *Replays) migrateOne(ctx context.Context, coach models.Author, video vimeo.Video) (journal.Status, error) {
	id := video.ID()
	if id == "" {
		r.tel.ReportWarning(report_replays_migrate, "video without id", video.Uri)
		return journal.StatusSkipped, nil
	}
	title := ParseReplayTitle(video.Name, r.opts.Location)
	if title.Name == "" {
		r.tel.ReportWarning(report_replays_migrate, "untitled video", id)
		return journal.StatusSkipped, nil
	}
	found, err := r.exists(ctx, title)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("lookup: %w", err)
	}
	if found {
		return journal.StatusSkipped, nil
	}

	dir := filepath.Join(r.opts.WorkDir, "replays", id)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		return journal.StatusFailed, err
	}
	if !r.opts.KeepFiles {
		defer os.RemoveAll(dir)
	}

	files, found, err := r.folder.Fetch(ctx, id, dir)
	if errors.Is(err, vimeo.ErrNoDownload) || (err == nil && !found) {
		r.tel.ReportWarning(report_replays_migrate, reasonNoSource, id)
		return journal.StatusSkipped, nil
	}
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("download: %w", err)
	}
	uploaded, err := r.repos.Client.Upload(ctx, files.Video)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("upload: %w", err)
	}
	if uploaded == nil {
		return journal.StatusFailed, fmt.Errorf("upload: %s was not downloaded", files.Video)
	}

	replay := models.NewCoachingReplay(title.Name)
	replay.Set("coach", strapi.RefToRecord(coach.Record))
	replay.Set("videofile", strapi.MediaValue(uploaded))
	replay.SetDetails(title.Type, title.Octagram, title.Recorded)
	err = r.repos.CoachingReplays.Create(ctx, replay)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("create: %w", err)
	}
	return journal.StatusMigrated, nil
}

// ParseTitles re-parses the names of the coach's replays and stores the
// type, octagram and date found in them. Replays whose title carries nothing
// new are skipped.
func (r *Replays) ParseTitles(ctx context.Context) (journal.Tally, error) {
	ctx, span := tracer.Start(ctx, "replays.titles")
	defer span.End()

	coach, err := r.coach(ctx)
	if err != nil {
		return journal.Tally{}, err
	}
	coachID, _ := coach.ID()
	replays, err := r.repos.CoachingReplays.ListDepth(ctx, 1)
	if err != nil {
		return journal.Tally{}, err
	}

	var (
		tally journal.Tally
		errs  []error
	)
	for _, replay := range replays {
		ref, ok := replay.Coach()
		if !ok || ref.ID != coachID {
			continue
		}
		partial := titleUpdate(replay, ParseReplayTitle(replay.Name(), r.opts.Location))
		if len(partial) == 0 {
			tally.Add(journal.StatusSkipped)
			continue
		}
		err := r.repos.CoachingReplays.Update(ctx, replay, partial)
		if err != nil {
			id, _ := replay.ID()
			r.tel.ReportBroken(report_replays_titles, id, err)
			errs = append(errs, fmt.Errorf("replay %d: %w", id, err))
			tally.Add(journal.StatusFailed)
			continue
		}
		tally.Add(journal.StatusMigrated)
	}
	return tally, errors.Join(errs...)
}

// titleUpdate is the partial update bringing replay in line with title,
// fields the title does not carry are left alone.
func titleUpdate(replay models.CoachingReplay, title ReplayTitle) map[string]strapi.Value {
	partial := map[string]strapi.Value{}
	if title.Name != "" && title.Name != replay.Name() {
		partial["name"] = strapi.StringValue(title.Name)
	}
	if title.Type != "" && title.Type != replay.Type() {
		partial["type"] = strapi.StringValue(title.Type)
	}
	if title.Octagram != "" && title.Octagram != replay.Octagram() {
		partial["octagram"] = strapi.StringValue(title.Octagram)
	}
	if !title.Recorded.IsZero() {
		recorded, ok := replay.RecordingDate()
		if !ok || !recorded.Equal(title.Recorded) {
			partial["recording_date"] = strapi.DatetimeValue(title.Recorded)
		}
	}
	return partial
}
