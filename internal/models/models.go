package models

import (
	"coursemigrate/internal/strapi"
	"time"
)

type Author struct{ *strapi.Record }

func WrapAuthor(r *strapi.Record) Author { return Author{r} }

func NewAuthor(name string) Author {
	return Author{strapi.NewRecord(entity(EntityAuthor), map[string]strapi.Value{
		"name": strapi.StringValue(name),
	})}
}

func (a Author) Name() string { return a.Str("name") }

type CoachingReplay struct{ *strapi.Record }

func WrapCoachingReplay(r *strapi.Record) CoachingReplay { return CoachingReplay{r} }

func NewCoachingReplay(name string) CoachingReplay {
	return CoachingReplay{strapi.NewRecord(entity(EntityCoachingReplay), map[string]strapi.Value{
		"name": strapi.StringValue(name),
	})}
}

func (c CoachingReplay) Name() string { return c.Str("name") }

func (c CoachingReplay) RecordingDate() (time.Time, bool) {
	d, ok := c.Custom("recording_date").(strapi.Datetime)
	return d.Time, ok
}

func (c CoachingReplay) Video() *strapi.Media {
	v, _ := c.Get("videofile")
	return strapi.MediaOf(v)
}

func (c CoachingReplay) Coach() (strapi.Ref, bool) { return c.Ref("coach") }

func (c CoachingReplay) Type() string { return c.Str("type") }

func (c CoachingReplay) Octagram() string { return c.Str("octagram") }

// SetDetails sets type, octagram and recording date, empty values clear them.
func (c CoachingReplay) SetDetails(typ, octagram string, recorded time.Time) {
	c.Set("type", optionalStr(typ))
	c.Set("octagram", optionalStr(octagram))
	if recorded.IsZero() {
		c.Set("recording_date", strapi.NullValue())
	} else {
		c.Set("recording_date", strapi.DatetimeValue(recorded))
	}
}

func optionalStr(s string) strapi.Value {
	if s == "" {
		return strapi.NullValue()
	}
	return strapi.StringValue(s)
}

type Course struct{ *strapi.Record }

func WrapCourse(r *strapi.Record) Course { return Course{r} }

func NewCourse(title string) Course {
	return Course{strapi.NewRecord(entity(EntityCourse), map[string]strapi.Value{
		"title": strapi.StringValue(title),
	})}
}

func (c Course) Title() string { return c.Str("title") }

func (c Course) Categories() []strapi.Ref { return c.Refs("course_categories") }

type CourseCategory struct{ *strapi.Record }

func WrapCourseCategory(r *strapi.Record) CourseCategory { return CourseCategory{r} }

// NewCourseCategory needs a persisted course since the category is keyed by it.
func NewCourseCategory(name string, course Course) CourseCategory {
	return CourseCategory{strapi.NewRecord(entity(EntityCourseCategory), map[string]strapi.Value{
		"name":   strapi.StringValue(name),
		"course": strapi.RefToRecord(course.Record),
	})}
}

func (c CourseCategory) Name() string { return c.Str("name") }

func (c CourseCategory) Course() (strapi.Ref, bool) { return c.Ref("course") }

type CourseSubcategory struct{ *strapi.Record }

func WrapCourseSubcategory(r *strapi.Record) CourseSubcategory { return CourseSubcategory{r} }

func NewCourseSubcategory(name string, category CourseCategory) CourseSubcategory {
	return CourseSubcategory{strapi.NewRecord(entity(EntityCourseSubcategory), map[string]strapi.Value{
		"name":            strapi.StringValue(name),
		"course_category": strapi.RefToRecord(category.Record),
	})}
}

func (c CourseSubcategory) Name() string { return c.Str("name") }

func (c CourseSubcategory) Category() (strapi.Ref, bool) { return c.Ref("course_category") }

func (c CourseSubcategory) Posts() []strapi.Ref { return c.Refs("post_course_videos") }

// PostCourseVideo is a single lesson of a course.
type PostCourseVideo struct{ *strapi.Record }

func WrapPostCourseVideo(r *strapi.Record) PostCourseVideo { return PostCourseVideo{r} }

type PostCourseVideoFields struct {
	Title       string
	Course      Course
	Category    CourseCategory
	Subcategory CourseSubcategory
	Video       *strapi.Media
	Audio       *strapi.Media
	Thumbnail   *strapi.Media
}

// NewPostCourseVideo sets missing media fields to null so the post is
// created without them.
func NewPostCourseVideo(f PostCourseVideoFields) PostCourseVideo {
	return PostCourseVideo{strapi.NewRecord(entity(EntityPostCourseVideo), map[string]strapi.Value{
		"title":              strapi.StringValue(f.Title),
		"course":             strapi.RefToRecord(f.Course.Record),
		"course_category":    strapi.RefToRecord(f.Category.Record),
		"course_subcategory": strapi.RefToRecord(f.Subcategory.Record),
		"video_file":         strapi.MediaValue(f.Video),
		"audio_file":         strapi.MediaValue(f.Audio),
		"thumbnail":          strapi.MediaValue(f.Thumbnail),
	})}
}

func (p PostCourseVideo) Title() string { return p.Str("title") }

func (p PostCourseVideo) media(field string) *strapi.Media {
	v, _ := p.Get(field)
	return strapi.MediaOf(v)
}

func (p PostCourseVideo) Video() *strapi.Media { return p.media("video_file") }

func (p PostCourseVideo) Audio() *strapi.Media { return p.media("audio_file") }

func (p PostCourseVideo) Thumbnail() *strapi.Media { return p.media("thumbnail") }

func (p PostCourseVideo) FirstFrame() *strapi.Media { return p.media("first_frame") }

func (p PostCourseVideo) Subcategory() (strapi.Ref, bool) { return p.Ref("course_subcategory") }

func (p PostCourseVideo) MiscFiles() strapi.MediaList {
	l, _ := p.Custom("misc_files").(strapi.MediaList)
	return l
}

type PostYoutubeVideo struct{ *strapi.Record }

func WrapPostYoutubeVideo(r *strapi.Record) PostYoutubeVideo { return PostYoutubeVideo{r} }

type Season struct{ *strapi.Record }

func WrapSeason(r *strapi.Record) Season { return Season{r} }

type YoutubeChannel struct{ *strapi.Record }

func WrapYoutubeChannel(r *strapi.Record) YoutubeChannel { return YoutubeChannel{r} }

type FamousPeople struct{ *strapi.Record }

func WrapFamousPeople(r *strapi.Record) FamousPeople { return FamousPeople{r} }

func NewFamousPeople(name, typecode string, order int, octagram, pictureUrl string) FamousPeople {
	return FamousPeople{strapi.NewRecord(entity(EntityFamousPeople), map[string]strapi.Value{
		"name":           strapi.StringValue(name),
		"typecode":       strapi.StringValue(typecode),
		"typecode_order": strapi.IntValue(int64(order)),
		"octagram":       optionalStr(octagram),
		"picture_url":    optionalStr(pictureUrl),
	})}
}

func (f FamousPeople) Name() string { return f.Str("name") }

func (f FamousPeople) Typecode() string { return f.Str("typecode") }

func (f FamousPeople) PictureUrl() string { return f.Str("picture_url") }

func (f FamousPeople) Picture() *strapi.Media {
	v, _ := f.Get("picture")
	return strapi.MediaOf(v)
}
