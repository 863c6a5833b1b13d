package strapi_test

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/strapi"
	"coursemigrate/internal/strapi/strapitest"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type course struct {
	*strapi.Record
}

func (c course) Title() string {
	return c.Str("title")
}

type fixture struct {
	server   *strapitest.Server
	client   *strapi.Client
	courses  strapi.Repository[course]
	category *strapi.Entity
	tel      *telemetry.Recorder
}

func setup(t *testing.T) fixture {
	registry := strapi.NewRegistry()
	courseEntity := registry.Register(&strapi.Entity{
		Name:       "course",
		Collection: "courses",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "thumbnail", Type: strapi.Opt(strapi.CustomCoercible{Codec: strapi.MediaCodec})},
		},
		NaturalKey: []string{"title"},
	})
	category := registry.Register(&strapi.Entity{
		Name:       "category",
		Collection: "categories",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "course", Type: strapi.Opt(strapi.Reference{Entity: "course"})},
		},
		NaturalKey: []string{"name", "course"},
	})
	require.NoError(t, registry.Validate())

	server := strapitest.New(registry)
	t.Cleanup(server.Close)

	tel := &telemetry.Recorder{}
	client := strapi.NewClient(registry, strapi.ClientOptions{
		BaseUrl: server.URL,
		Token:   "test-token",
	}, tel)

	return fixture{
		server:   server,
		client:   client,
		courses:  strapi.NewRepository(client, courseEntity, func(r *strapi.Record) course { return course{r} }),
		category: category,
		tel:      tel,
	}
}

func newCourse(f fixture, title string) course {
	return course{strapi.NewRecord(f.courses.Entity(), map[string]strapi.Value{
		"title": strapi.StringValue(title),
	})}
}

func TestGhostLookupThenCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, found, err := f.courses.FindOne(ctx, strapi.EqStr("title", "ghost"))
	require.NoError(t, err)
	require.False(t, found)

	created, wasCreated, err := f.courses.GetOrCreate(ctx, newCourse(f, "ghost"))
	require.NoError(t, err)
	require.True(t, wasCreated)
	require.Equal(t, 1, f.server.Created("courses"))

	id, ok := created.ID()
	require.True(t, ok)
	createdAt, ok := created.Extra("createdAt")
	require.True(t, ok)
	require.NotEmpty(t, createdAt)

	again, wasCreated, err := f.courses.GetOrCreate(ctx, newCourse(f, "ghost"))
	require.NoError(t, err)
	require.False(t, wasCreated)
	againID, _ := again.ID()
	require.Equal(t, id, againID)
	require.Equal(t, 1, f.server.Created("courses"))
}

func TestGetOrCreateConcurrent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = f.courses.GetOrCreate(ctx, newCourse(f, "shared"))
		}(i)
	}
	wg.Wait()
	require.NoError(t, errors.Join(errs...))
	require.Equal(t, 1, f.server.Created("courses"))
}

func TestFindOneAmbiguous(t *testing.T) {
	f := setup(t)
	f.server.Seed("courses", map[string]any{"title": "dup"})
	f.server.Seed("courses", map[string]any{"title": "dup"})

	_, found, err := f.courses.FindOne(context.Background(), strapi.EqStr("title", "dup"))
	require.False(t, found)
	var ambiguous *strapi.AmbiguousResultError
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, 2, ambiguous.Count)
	require.Equal(t, "course", ambiguous.Entity)

	_, _, err = f.courses.GetOrCreate(context.Background(), newCourse(f, "dup"))
	require.ErrorAs(t, err, &ambiguous)
	require.Equal(t, 0, f.server.Created("courses"))
}

func TestFindByReference(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := f.server.Seed("courses", map[string]any{"title": "A"})
	second := f.server.Seed("courses", map[string]any{"title": "B"})
	f.server.Seed("categories", map[string]any{"name": "Basics", "course": first})
	f.server.Seed("categories", map[string]any{"name": "Basics", "course": second})

	categories := strapi.NewRepository(f.client, f.category, func(r *strapi.Record) *strapi.Record { return r })
	found, ok, err := categories.FindOne(ctx,
		strapi.EqStr("name", "Basics"),
		strapi.Eq("course", strapi.RefTo(second)),
	)
	require.NoError(t, err)
	require.True(t, ok)

	ref, ok := found.Ref("course")
	require.True(t, ok)
	require.Equal(t, second, ref.ID)
	require.True(t, ref.Deep())
	require.Equal(t, "B", ref.Record.Str("title"))
}

func TestUpdateAndDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c := newCourse(f, "before")
	err := f.courses.Update(ctx, c, nil)
	var precondition *strapi.PreconditionError
	require.ErrorAs(t, err, &precondition)
	require.ErrorAs(t, f.courses.Delete(ctx, c), &precondition)

	require.NoError(t, f.courses.Create(ctx, c))
	id, _ := c.ID()

	err = f.courses.Update(ctx, c, map[string]strapi.Value{"title": strapi.StringValue("after")})
	require.NoError(t, err)
	require.Equal(t, "after", c.Title())
	require.Equal(t, "after", f.server.Attrs("courses", id)["title"])

	fetched, found, err := f.courses.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "after", fetched.Title())

	require.NoError(t, f.courses.Delete(ctx, c))
	_, hasID := c.ID()
	require.False(t, hasID)
	require.Equal(t, 0, f.server.Count("courses"))

	_, found, err = f.courses.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPersistError(t *testing.T) {
	f := setup(t)
	f.server.Fail(http.MethodPost, "courses", http.StatusBadRequest)

	err := f.courses.Create(context.Background(), newCourse(f, "broken"))
	var persist *strapi.PersistError
	require.ErrorAs(t, err, &persist)
	require.Equal(t, http.StatusBadRequest, persist.Status)
	require.Contains(t, persist.Body, "injected failure")
	require.NotEmpty(t, f.tel.Broken("client.create"))
}

func TestFailedUpdateKeepsRecord(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c := newCourse(f, "before")
	require.NoError(t, f.courses.Create(ctx, c))
	id, _ := c.ID()

	f.server.Fail(http.MethodPut, "courses", http.StatusBadRequest)
	err := f.courses.Update(ctx, c, map[string]strapi.Value{"title": strapi.StringValue("rejected")})
	var persist *strapi.PersistError
	require.ErrorAs(t, err, &persist)
	require.Equal(t, "before", c.Title())
	require.Equal(t, "before", f.server.Attrs("courses", id)["title"])

	err = f.courses.Update(ctx, c, map[string]strapi.Value{"nope": strapi.StringValue("x")})
	var precondition *strapi.PreconditionError
	require.ErrorAs(t, err, &precondition)
	require.Equal(t, "before", c.Title())
}

func TestUpdateWarningsUseUpdateId(t *testing.T) {
	registry := strapi.NewRegistry()
	entity := registry.Register(&strapi.Entity{
		Name:       "course",
		Collection: "courses",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "rank", Type: strapi.Opt(strapi.Int())},
		},
		NaturalKey: []string{"title"},
	})
	require.NoError(t, registry.Validate())

	mux := http.NewServeMux()
	mux.HandleFunc("PUT /api/courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"data":{"id":1,"attributes":{"title":"after","rank":"not a number"}}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	tel := &telemetry.Recorder{}
	client := strapi.NewClient(registry, strapi.ClientOptions{BaseUrl: server.URL}, tel)

	r := strapi.NewRecord(entity, map[string]strapi.Value{"title": strapi.StringValue("before")})
	r.SetID(1)
	err := client.Update(context.Background(), r, map[string]strapi.Value{"title": strapi.StringValue("after")})
	require.NoError(t, err)
	require.Equal(t, "after", r.Str("title"))

	var ids []string
	for _, rep := range tel.Reports("warning") {
		ids = append(ids, rep.Id)
	}
	require.Contains(t, ids, "strapi.client.update")
	require.NotContains(t, ids, "strapi.client.create")
}

func TestQueryParams(t *testing.T) {
	registry := strapi.NewRegistry()
	registry.Register(&strapi.Entity{
		Name:       "section",
		Collection: "sections",
		Fields:     []strapi.Field{{Name: "name", Type: strapi.String()}},
		NaturalKey: []string{"name"},
		FilterHook: func(field string, ref strapi.Ref) (string, string) {
			return fmt.Sprintf("filters[%s][legacy_id][$eq]", field), fmt.Sprintf("s-%d", ref.ID)
		},
	})
	lessons := registry.Register(&strapi.Entity{
		Name:       "lesson",
		Collection: "lessons",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "section", Type: strapi.Opt(strapi.Reference{Entity: "section"})},
		},
		NaturalKey: []string{"title"},
	})
	require.NoError(t, registry.Validate())

	var (
		mutex   sync.Mutex
		queries []url.Values
	)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/lessons", func(w http.ResponseWriter, r *http.Request) {
		mutex.Lock()
		queries = append(queries, r.URL.Query())
		mutex.Unlock()
		w.Header().Set("content-type", "application/json")
		fmt.Fprint(w, `{"data":[],"meta":{}}`)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client := strapi.NewClient(registry, strapi.ClientOptions{BaseUrl: server.URL}, &telemetry.Recorder{})
	repo := strapi.NewRepository(client, lessons, func(r *strapi.Record) *strapi.Record { return r })
	ctx := context.Background()

	_, found, err := repo.FindOne(ctx, strapi.Eq("section", strapi.RefTo(9)))
	require.NoError(t, err)
	require.False(t, found)

	_, err = repo.List(ctx)
	require.NoError(t, err)
	_, err = repo.ListDepth(ctx, 2)
	require.NoError(t, err)

	require.Len(t, queries, 3)
	require.Equal(t, "s-9", queries[0].Get("filters[section][legacy_id][$eq]"))
	require.Empty(t, queries[0].Get("filters[section][id][$eq]"))
	require.Equal(t, "deep", queries[1].Get("populate"))
	require.Equal(t, "-1", queries[1].Get("pagination[limit]"))
	require.Equal(t, "deep,2", queries[2].Get("populate"))
}

func TestUpload(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	missing, err := f.client.Upload(ctx, filepath.Join(t.TempDir(), "missing.png"))
	require.NoError(t, err)
	require.Nil(t, missing)
	require.Equal(t, 0, f.server.Uploads())

	path := filepath.Join(t.TempDir(), "thumb.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0644))

	media, err := f.client.Upload(ctx, path)
	require.NoError(t, err)
	require.NotNil(t, media)
	require.NotZero(t, media.ID)
	require.Equal(t, "thumb.png", media.Name)
	require.Equal(t, ".png", media.Ext)
	require.Equal(t, f.server.URL+media.Url, f.client.AssetUrl(media))
	require.Equal(t, "https://cdn.example/a.png", f.client.AssetUrl(&strapi.Media{Url: "https://cdn.example/a.png"}))
	require.Empty(t, f.client.AssetUrl(nil))

	c := newCourse(f, "with thumbnail")
	c.Set("thumbnail", strapi.MediaValue(media))
	require.NoError(t, f.courses.Create(ctx, c))

	found, ok, err := f.courses.FindOne(ctx, strapi.Eq("thumbnail", strapi.MediaValue(media)))
	require.NoError(t, err)
	require.True(t, ok)
	got := strapi.MediaOf(must(found.Get("thumbnail")))
	require.NotNil(t, got)
	require.Equal(t, media.Hash, got.Hash)

	f.server.Fail(http.MethodPost, "upload", http.StatusInternalServerError)
	_, err = f.client.Upload(ctx, path)
	var persist *strapi.PersistError
	require.True(t, errors.As(err, &persist), fmt.Sprint(err))
}

func must(v strapi.Value, _ bool) strapi.Value {
	return v
}
