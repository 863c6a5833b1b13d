package models

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/strapi"
	"coursemigrate/internal/strapi/strapitest"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

const postPayload = `{
	"id": 3,
	"attributes": {
		"title": "test",
		"createdAt": "2024-01-28T12:40:44.736Z",
		"updatedAt": "2024-01-28T12:40:55.889Z",
		"publishedAt": "2024-01-28T12:40:55.886Z",
		"transcript": null,
		"season": {"data": null},
		"episode": null,
		"author": {"data": null},
		"course_subcategory": {
			"data": {
				"id": 1,
				"attributes": {
					"name": "c",
					"course_category": {
						"data": {"id": 1, "attributes": {"name": "b"}}
					},
					"post_youtube_videos": {"data": []}
				}
			}
		},
		"video_file": {
			"data": {
				"id": 1,
				"attributes": {
					"name": "lesson.mp4",
					"alternativeText": null,
					"caption": null,
					"width": null,
					"height": null,
					"formats": null,
					"hash": "lesson_5c2b0208c1",
					"ext": ".mp4",
					"mime": "video/mp4",
					"size": 1063.89,
					"url": "/uploads/lesson_5c2b0208c1.mp4",
					"previewUrl": null,
					"provider": "local",
					"provider_metadata": null,
					"createdAt": "2024-01-26T07:08:04.284Z",
					"updatedAt": "2024-01-28T05:12:37.606Z"
				}
			}
		},
		"audio_file": {"data": null},
		"thumbnail": {"data": null}
	}
}`

func TestRegistryIsValid(t *testing.T) {
	require.NoError(t, Registry.Validate())
	for _, name := range []string{EntityCourse, EntityCourseCategory, EntityCourseSubcategory, EntityPostCourseVideo} {
		_, ok := Registry.Lookup(name)
		require.True(t, ok, name)
	}
}

func TestPostCourseVideoFromWire(t *testing.T) {
	var obj map[string]any
	require.NoError(t, json.Unmarshal([]byte(postPayload), &obj))

	rec, err := strapi.FromWire(entity(EntityPostCourseVideo), obj)
	require.NoError(t, err)
	post := WrapPostCourseVideo(rec)

	require.Equal(t, "test", post.Title())
	require.Equal(t, "lesson_5c2b0208c1", post.Video().Hash)
	require.InDelta(t, 1063.89, post.Video().Size, 0.001)
	require.Nil(t, post.Audio())
	require.Nil(t, post.Thumbnail())

	sub, ok := post.Subcategory()
	require.True(t, ok)
	require.True(t, sub.Deep())
	subcategory := WrapCourseSubcategory(sub.Record)
	require.Equal(t, "c", subcategory.Name())
	category, ok := subcategory.Category()
	require.True(t, ok)
	require.Equal(t, "b", category.Record.Str("name"))

	episode, _ := post.Get("episode")
	require.True(t, episode.IsNull())
	_, hasAuthor := post.Extra("author")
	require.True(t, hasAuthor)
}

func TestHierarchyAgainstBackend(t *testing.T) {
	server := strapitest.New(Registry)
	t.Cleanup(server.Close)
	client := strapi.NewClient(Registry, strapi.ClientOptions{BaseUrl: server.URL}, &telemetry.Recorder{})
	repos := NewRepos(client)
	ctx := context.Background()

	course, created, err := repos.Courses.GetOrCreate(ctx, NewCourse("course-x"))
	require.NoError(t, err)
	require.True(t, created)

	category, created, err := repos.CourseCategories.GetOrCreate(ctx, NewCourseCategory("A", course))
	require.NoError(t, err)
	require.True(t, created)

	subcategory, created, err := repos.CourseSubcategories.GetOrCreate(ctx, NewCourseSubcategory("B", category))
	require.NoError(t, err)
	require.True(t, created)

	post := newTestPost(course, category, subcategory, "42")
	require.NoError(t, repos.PostCourseVideos.Create(ctx, post))

	found, ok, err := repos.PostCourseVideos.FindOne(ctx,
		strapi.EqStr("title", "42"),
		strapi.Eq("course_subcategory", strapi.RefToRecord(subcategory.Record)),
	)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, found.Video())

	sameName, created, err := repos.CourseCategories.GetOrCreate(ctx, NewCourseCategory("A", course))
	require.NoError(t, err)
	require.False(t, created)
	require.True(t, sameName.Same(category.Record))

	other, _, err := repos.Courses.GetOrCreate(ctx, NewCourse("course-y"))
	require.NoError(t, err)
	_, created, err = repos.CourseCategories.GetOrCreate(ctx, NewCourseCategory("A", other))
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, 2, server.Created("course-categories"))
}

func newTestPost(course Course, category CourseCategory, sub CourseSubcategory, title string) PostCourseVideo {
	return NewPostCourseVideo(PostCourseVideoFields{
		Title:       title,
		Course:      course,
		Category:    category,
		Subcategory: sub,
	})
}
