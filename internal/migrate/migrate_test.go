package migrate

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/media"
	"coursemigrate/internal/models"
	"coursemigrate/internal/scrapers/kartra"
	"coursemigrate/internal/sources/vimeo"
	"coursemigrate/internal/strapi"
	"coursemigrate/internal/strapi/strapitest"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mutex    sync.Mutex
	posts    map[string][]kartra.Post
	pages    map[int]kartra.Post
	resolved map[int]int
}

func (f *fakeSource) Discover(ctx context.Context, course string) ([]kartra.Post, error) {
	posts, ok := f.posts[course]
	if !ok {
		return nil, kartra.ErrCourseNotFound
	}
	return posts, nil
}

func (f *fakeSource) Resolve(ctx context.Context, post kartra.Post) (kartra.Post, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.resolved[post.ID]++
	page, ok := f.pages[post.ID]
	if !ok {
		return post, false, nil
	}
	if post.Name == "" {
		post.Name = page.Name
	}
	if post.Category == "" {
		post.Category = page.Category
	}
	if post.Subcategory == "" {
		post.Subcategory = page.Subcategory
	}
	post.VideoID = page.VideoID
	post.Resolved = true
	return post, true, nil
}

func (f *fakeSource) resolveCount(id int) int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.resolved[id]
}

type fakeVideos struct {
	missing map[string]bool
	noThumb map[string]bool
}

func (f fakeVideos) Fetch(ctx context.Context, videoID, dir string) (vimeo.Downloaded, bool, error) {
	if f.missing[videoID] {
		return vimeo.Downloaded{}, false, nil
	}
	out := vimeo.Downloaded{Video: filepath.Join(dir, "video.mp4")}
	err := os.WriteFile(out.Video, []byte("video "+videoID), 0644)
	if err != nil {
		return vimeo.Downloaded{}, true, err
	}
	if !f.noThumb[videoID] {
		out.Thumbnail = filepath.Join(dir, "thumbnail.jpg")
		err = os.WriteFile(out.Thumbnail, []byte("thumbnail "+videoID), 0644)
		if err != nil {
			return vimeo.Downloaded{}, true, err
		}
	}
	return out, true, nil
}

type fakeTool struct {
	mutex   sync.Mutex
	silent  map[string]bool
	codec   string
	sources []string
}

func (f *fakeTool) seen(source string) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sources = append(f.sources, source)
}

func (f *fakeTool) Probe(ctx context.Context, source string) (media.Info, error) {
	f.seen(source)
	return media.Info{Streams: []media.Stream{{CodecName: f.codec, CodecType: "video"}}}, nil
}

func (f *fakeTool) ExtractAudio(ctx context.Context, source, dest string) error {
	f.seen(source)
	for suffix := range f.silent {
		if strings.HasSuffix(filepath.Dir(source), suffix) {
			return media.ErrNoAudio
		}
	}
	return os.WriteFile(dest, []byte("audio"), 0644)
}

func (f *fakeTool) FirstFrame(ctx context.Context, source, dest string) error {
	f.seen(source)
	return os.WriteFile(dest, []byte("frame"), 0644)
}

func (f *fakeTool) Transcode(ctx context.Context, source, dest string, progress func(media.Progress)) error {
	f.seen(source)
	if progress != nil {
		progress(media.Progress{Position: 1, Duration: 1})
	}
	return os.WriteFile(dest, []byte("h264"), 0644)
}

type fixture struct {
	server  *strapitest.Server
	repos   models.Repos
	source  *fakeSource
	tool    *fakeTool
	journal *journal.Journal
	tel     *telemetry.Recorder
}

func newFixture(t *testing.T) *fixture {
	server := strapitest.New(models.Registry)
	t.Cleanup(server.Close)
	tel := &telemetry.Recorder{}
	client := strapi.NewClient(models.Registry, strapi.ClientOptions{BaseUrl: server.URL}, tel)

	j, err := journal.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	return &fixture{
		server:  server,
		repos:   models.NewRepos(client),
		source:  &fakeSource{posts: map[string][]kartra.Post{}, pages: map[int]kartra.Post{}, resolved: map[int]int{}},
		tool:    &fakeTool{silent: map[string]bool{}, codec: "h264"},
		journal: j,
		tel:     tel,
	}
}

func (f *fixture) orchestrator(t *testing.T, videos fakeVideos, workers int) *Orchestrator {
	return New(f.repos, f.source, videos, f.tool, f.journal, Options{
		WorkDir: t.TempDir(),
		Workers: workers,
	}, f.tel)
}

func (f *fixture) creations() int {
	total := 0
	for _, collection := range []string{"courses", "course-categories", "course-subcategories", "post-course-videos"} {
		total += f.server.Created(collection)
	}
	return total
}

func TestMigrateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.source.posts["X"] = []kartra.Post{
		{ID: 42, Name: "Intro", Course: "X", Category: "A", Subcategory: "B", SubcategoryID: 7},
	}
	f.source.pages[42] = kartra.Post{Name: "Intro", Category: "A", Subcategory: "B", VideoID: "v42"}
	o := f.orchestrator(t, fakeVideos{}, 2)
	ctx := context.Background()

	first, err := o.Run(ctx, []Course{{ID: "X"}})
	require.NoError(t, err)
	require.Equal(t, journal.Tally{Migrated: 1}, first.Tally)
	require.Equal(t, 4, f.creations())
	require.Equal(t, 3, f.server.Uploads())

	created := first.Outcomes[0]
	require.Equal(t, journal.StatusMigrated, created.Status)
	attrs := f.server.Attrs("post-course-videos", int64(created.RecordID))
	require.Equal(t, "Intro", attrs["title"])
	require.NotNil(t, attrs["video_file"])
	require.NotNil(t, attrs["audio_file"])
	require.NotNil(t, attrs["thumbnail"])

	post, found, err := f.repos.PostCourseVideos.Get(ctx, int64(created.RecordID))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ".mp4", post.Video().Ext)
	require.Equal(t, ".mp3", post.Audio().Ext)
	require.Nil(t, post.FirstFrame())
	course, found, err := f.repos.Courses.FindOne(ctx, strapi.EqStr("title", "X"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "X", course.Title())

	second, err := o.Run(ctx, []Course{{ID: "X"}})
	require.NoError(t, err)
	require.Equal(t, journal.Tally{Skipped: 1}, second.Tally)
	require.Equal(t, reasonExists, second.Outcomes[0].Reason)
	require.Equal(t, created.RecordID, second.Outcomes[0].RecordID)
	require.Equal(t, 4, f.creations())
	require.Equal(t, 3, f.server.Uploads())
	require.Equal(t, 1, f.source.resolveCount(42))

	tally, err := f.journal.Tally(ctx, first.RunID)
	require.NoError(t, err)
	require.Equal(t, first.Tally, tally)
	tally, err = f.journal.Tally(ctx, second.RunID)
	require.NoError(t, err)
	require.Equal(t, second.Tally, tally)
}

func TestMigrateSkips(t *testing.T) {
	f := newFixture(t)
	f.source.posts["C"] = []kartra.Post{
		// regex only, hierarchy comes from the post page
		{ID: 1, Course: "C"},
		{ID: 2, Name: "Reading", Course: "C", Category: "A", Subcategory: "B", SubcategoryID: 3},
		{ID: 3, Name: "Gone", Course: "C", Category: "A", Subcategory: "B", SubcategoryID: 3},
		{ID: 4, Name: "Private", Course: "C", Category: "A", Subcategory: "B", SubcategoryID: 3},
		{ID: 5, Name: "Silent", Course: "C", Category: "A", Subcategory: "A", SubcategoryID: kartra.SyntheticSubcategoryID},
	}
	f.source.pages[1] = kartra.Post{Name: "Hidden", Category: "Z", Subcategory: "Y", VideoID: "v1"}
	f.source.pages[2] = kartra.Post{Name: "Reading"}
	f.source.pages[4] = kartra.Post{Name: "Private", VideoID: "v4"}
	f.source.pages[5] = kartra.Post{Name: "Silent", VideoID: "v5"}
	f.tool.silent["/5"] = true

	o := f.orchestrator(t, fakeVideos{missing: map[string]bool{"v4": true}, noThumb: map[string]bool{"v5": true}}, 3)
	result, err := o.Run(context.Background(), []Course{{ID: "C", Title: "Course C"}})
	require.NoError(t, err)
	require.Equal(t, journal.Tally{Migrated: 2, Skipped: 3}, result.Tally)

	byID := map[int]journal.Outcome{}
	for _, outcome := range result.Outcomes {
		byID[outcome.PostID] = outcome
	}
	require.Equal(t, journal.StatusMigrated, byID[1].Status)
	require.Equal(t, "Hidden", byID[1].Title)
	require.Equal(t, reasonNoVideo, byID[2].Reason)
	require.Equal(t, reasonNotFound, byID[3].Reason)
	require.Equal(t, reasonNoSource, byID[4].Reason)
	require.Equal(t, journal.StatusMigrated, byID[5].Status)
	require.Equal(t, 1, f.source.resolveCount(1))

	silent := f.server.Attrs("post-course-videos", int64(byID[5].RecordID))
	require.Nil(t, silent["audio_file"])
	require.Nil(t, silent["thumbnail"])
	require.NotNil(t, silent["video_file"])

	_, found, err := f.repos.Courses.FindOne(context.Background(), strapi.EqStr("title", "Course C"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 1, f.server.Created("courses"))
	// Z for post 1, A for the others
	require.Equal(t, 2, f.server.Created("course-categories"))
}

func TestFailureStaysWithItsPost(t *testing.T) {
	f := newFixture(t)
	f.source.posts["X"] = []kartra.Post{
		{ID: 1, Name: "One", Course: "X", Category: "A", Subcategory: "B", SubcategoryID: 1},
		{ID: 2, Name: "Two", Course: "X", Category: "A", Subcategory: "B", SubcategoryID: 1},
	}
	f.source.pages[1] = kartra.Post{VideoID: "v1"}
	f.source.pages[2] = kartra.Post{VideoID: "v2"}
	f.server.Fail(http.MethodPost, "upload", http.StatusInternalServerError)

	o := f.orchestrator(t, fakeVideos{}, 1)
	ctx := context.Background()
	first, err := o.Run(ctx, []Course{{ID: "X"}, {ID: "missing"}})
	require.ErrorIs(t, err, kartra.ErrCourseNotFound)
	require.Equal(t, journal.Tally{Migrated: 1, Failed: 1}, first.Tally)
	require.Equal(t, journal.StatusFailed, first.Outcomes[0].Status)
	require.Contains(t, first.Outcomes[0].Reason, "upload video")
	require.NotEmpty(t, f.tel.Broken(report_migrate_post))

	failed, err := f.journal.Outcomes(ctx, first.RunID, journal.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	require.Equal(t, 1, failed[0].PostID)

	second, err := o.Run(ctx, []Course{{ID: "X"}})
	require.NoError(t, err)
	require.Equal(t, journal.Tally{Migrated: 1, Skipped: 1}, second.Tally)
	require.Equal(t, 2, f.server.Created("post-course-videos"))
}

func TestConcurrentPostsShareHierarchy(t *testing.T) {
	f := newFixture(t)
	var posts []kartra.Post
	for id := 1; id <= 12; id++ {
		post := kartra.Post{ID: id, Name: "Lesson", Course: "X", Category: "A", Subcategory: "B", SubcategoryID: 1}
		post.Name += string(rune('A' + id))
		posts = append(posts, post)
		f.source.pages[id] = kartra.Post{VideoID: "v"}
	}
	f.source.posts["X"] = posts

	o := f.orchestrator(t, fakeVideos{}, 6)
	result, err := o.Run(context.Background(), []Course{{ID: "X"}})
	require.NoError(t, err)
	require.Equal(t, 12, result.Tally.Migrated)
	require.Equal(t, 1, f.server.Created("courses"))
	require.Equal(t, 1, f.server.Created("course-categories"))
	require.Equal(t, 1, f.server.Created("course-subcategories"))
	require.Equal(t, 12, f.server.Created("post-course-videos"))
}
