// Package models declares the content types of the course CMS and typed
// wrappers over their records.
package models

import (
	"coursemigrate/internal/strapi"
	"fmt"
)

const (
	EntityAuthor            = "author"
	EntityCoachingReplay    = "coaching_replay"
	EntityCourse            = "course"
	EntityCourseCategory    = "course_category"
	EntityCourseSubcategory = "course_subcategory"
	EntityPostCourseVideo   = "post_course_video"
	EntityPostYoutubeVideo  = "post_youtube_video"
	EntitySeason            = "season"
	EntityYoutubeChannel    = "youtube_channel"
	EntityFamousPeople      = "famous_people"
)

var (
	media     = strapi.Opt(strapi.CustomCoercible{Codec: strapi.MediaCodec})
	mediaList = strapi.Opt(strapi.CustomCoercible{Codec: strapi.MediaListCodec})
	datetime  = strapi.Opt(strapi.CustomCoercible{Codec: strapi.DatetimeCodec})
)

func ref(entity string) strapi.Descriptor {
	return strapi.Opt(strapi.Reference{Entity: entity})
}

func refs(entity string) strapi.Descriptor {
	return strapi.Opt(strapi.ReferenceList{Entity: entity})
}

// Registry holds every content type, relations between them are resolved by
// entity name so declaration order does not matter.
var Registry = newRegistry()

func newRegistry() *strapi.Registry {
	r := strapi.NewRegistry()

	r.Register(&strapi.Entity{
		Name:       EntityAuthor,
		Collection: "authors",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
		},
		NaturalKey: []string{"name"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityCoachingReplay,
		Collection: "coaching-replays",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "coach", Type: ref(EntityAuthor)},
			{Name: "recording_date", Type: datetime},
			{Name: "videofile", Type: media},
			{Name: "type", Type: strapi.Opt(strapi.String())},
			{Name: "octagram", Type: strapi.Opt(strapi.String())},
		},
		NaturalKey: []string{"name"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityCourse,
		Collection: "courses",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "course_categories", Type: refs(EntityCourseCategory)},
		},
		NaturalKey: []string{"title"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityCourseCategory,
		Collection: "course-categories",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "course", Type: ref(EntityCourse)},
		},
		NaturalKey: []string{"name", "course"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityCourseSubcategory,
		Collection: "course-subcategories",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "course_category", Type: ref(EntityCourseCategory)},
			{Name: "post_youtube_videos", Type: refs(EntityPostYoutubeVideo)},
			{Name: "post_course_videos", Type: refs(EntityPostCourseVideo)},
		},
		NaturalKey: []string{"name", "course_category"},
		FilterHook: func(field string, sub strapi.Ref) (string, string) {
			return fmt.Sprintf("filters[%s][id][$eq]", field), fmt.Sprint(sub.ID)
		},
	})
	r.Register(&strapi.Entity{
		Name:       EntityPostCourseVideo,
		Collection: "post-course-videos",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "video_file", Type: media},
			{Name: "season", Type: ref(EntitySeason)},
			{Name: "episode", Type: strapi.Opt(strapi.Int())},
			{Name: "course", Type: ref(EntityCourse)},
			{Name: "course_category", Type: ref(EntityCourseCategory)},
			{Name: "course_subcategory", Type: ref(EntityCourseSubcategory)},
			{Name: "audio_file", Type: media},
			{Name: "thumbnail", Type: media},
			{Name: "misc_files", Type: mediaList},
			{Name: "transcript", Type: strapi.Opt(strapi.String())},
			{Name: "first_frame", Type: media},
			{Name: "full_title", Type: strapi.Opt(strapi.String())},
			{Name: "authors", Type: refs(EntityAuthor)},
		},
		NaturalKey: []string{"title", "course_subcategory"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityPostYoutubeVideo,
		Collection: "post-youtube-videos",
		Fields: []strapi.Field{
			{Name: "title", Type: strapi.String()},
			{Name: "post_type", Type: strapi.Opt(strapi.String())},
			{Name: "video_file", Type: media},
			{Name: "tags", Type: strapi.Opt(strapi.String())},
			{Name: "author", Type: ref(EntityAuthor)},
			{Name: "youtube_channel", Type: ref(EntityYoutubeChannel)},
			{Name: "season", Type: ref(EntitySeason)},
			{Name: "episode", Type: strapi.Opt(strapi.Int())},
			{Name: "course_subcategory", Type: ref(EntityCourseSubcategory)},
			{Name: "url", Type: strapi.Opt(strapi.String())},
			{Name: "description", Type: strapi.Opt(strapi.String())},
			{Name: "audio_file", Type: media},
			{Name: "thumbnail", Type: media},
			{Name: "transcript", Type: strapi.Opt(strapi.String())},
		},
		NaturalKey: []string{"title"},
	})
	r.Register(&strapi.Entity{
		Name:       EntitySeason,
		Collection: "seasons",
		Fields: []strapi.Field{
			{Name: "display", Type: strapi.String()},
			{Name: "season_number", Type: strapi.Int()},
			{Name: "season_part", Type: strapi.Opt(strapi.Int())},
			{Name: "post_youtube_videos", Type: refs(EntityPostYoutubeVideo)},
			{Name: "post_course_videos", Type: refs(EntityPostCourseVideo)},
		},
		NaturalKey: []string{"display"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityYoutubeChannel,
		Collection: "youtube-channels",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "post_youtube_videos", Type: refs(EntityPostYoutubeVideo)},
		},
		NaturalKey: []string{"name"},
	})
	r.Register(&strapi.Entity{
		Name:       EntityFamousPeople,
		Collection: "famous-people",
		Fields: []strapi.Field{
			{Name: "name", Type: strapi.String()},
			{Name: "typecode", Type: strapi.String()},
			{Name: "typecode_order", Type: strapi.Int()},
			{Name: "octagram", Type: strapi.Opt(strapi.String())},
			{Name: "picture", Type: media},
			{Name: "picture_url", Type: strapi.Opt(strapi.String())},
		},
		NaturalKey: []string{"name"},
	})

	err := r.Validate()
	if err != nil {
		panic(err)
	}
	return r
}

func entity(name string) *strapi.Entity {
	e, ok := Registry.Lookup(name)
	if !ok {
		panic("models: unknown entity " + name)
	}
	return e
}
