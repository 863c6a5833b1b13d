package models

import "coursemigrate/internal/strapi"

// Repos binds a repository per content type to one client.
type Repos struct {
	Client              *strapi.Client
	Authors             strapi.Repository[Author]
	CoachingReplays     strapi.Repository[CoachingReplay]
	Courses             strapi.Repository[Course]
	CourseCategories    strapi.Repository[CourseCategory]
	CourseSubcategories strapi.Repository[CourseSubcategory]
	PostCourseVideos    strapi.Repository[PostCourseVideo]
	PostYoutubeVideos   strapi.Repository[PostYoutubeVideo]
	Seasons             strapi.Repository[Season]
	YoutubeChannels     strapi.Repository[YoutubeChannel]
	FamousPeople        strapi.Repository[FamousPeople]
}

func NewRepos(client *strapi.Client) Repos {
	return Repos{
		Client:              client,
		Authors:             strapi.NewRepository(client, entity(EntityAuthor), WrapAuthor),
		CoachingReplays:     strapi.NewRepository(client, entity(EntityCoachingReplay), WrapCoachingReplay),
		Courses:             strapi.NewRepository(client, entity(EntityCourse), WrapCourse),
		CourseCategories:    strapi.NewRepository(client, entity(EntityCourseCategory), WrapCourseCategory),
		CourseSubcategories: strapi.NewRepository(client, entity(EntityCourseSubcategory), WrapCourseSubcategory),
		PostCourseVideos:    strapi.NewRepository(client, entity(EntityPostCourseVideo), WrapPostCourseVideo),
		PostYoutubeVideos:   strapi.NewRepository(client, entity(EntityPostYoutubeVideo), WrapPostYoutubeVideo),
		Seasons:             strapi.NewRepository(client, entity(EntitySeason), WrapSeason),
		YoutubeChannels:     strapi.NewRepository(client, entity(EntityYoutubeChannel), WrapYoutubeChannel),
		FamousPeople:        strapi.NewRepository(client, entity(EntityFamousPeople), WrapFamousPeople),
	}
}
