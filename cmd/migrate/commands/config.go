package commands

import (
	"coursemigrate/dev/env"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/migrate"
	"errors"
	"fmt"
	"path/filepath"
	"time"
	_ "time/tzdata"
)

type StrapiConfig struct {
	BaseUrl           string `json:"base_url"`
	Token             string `json:"token"`
	Concurrency       int    `json:"concurrency"`
	UploadConcurrency int    `json:"upload_concurrency"`
}

type KartraConfig struct {
	BaseUrl           string  `json:"base_url"`
	AppUrl            string  `json:"app_url"`
	CookiesFile       string  `json:"cookies_file"`
	CloudflareBypass  bool    `json:"cloudflare_bypass"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	// CacheDir enables the page cache, pages are kept for
	// CacheLifetimeHours (24 by default).
	CacheDir           string `json:"cache_dir"`
	CacheLifetimeHours int    `json:"cache_lifetime_hours"`
}

type VimeoConfig struct {
	BaseUrl string `json:"base_url"`
	Token   string `json:"token"`
}

type ReplaysConfig struct {
	// User owns the replay folders, empty means the token owner.
	User  string `json:"user"`
	Coach string `json:"coach"`
	// Timezone the dates in replay titles are written in.
	Timezone string `json:"timezone"`
	Workers  int    `json:"workers"`
}

type WikipediaConfig struct {
	BaseUrl   string `json:"base_url"`
	UserAgent string `json:"user_agent"`
}

type Config struct {
	Strapi       StrapiConfig     `json:"strapi"`
	Kartra       KartraConfig     `json:"kartra"`
	Vimeo        VimeoConfig      `json:"vimeo"`
	Replays      ReplaysConfig    `json:"replays"`
	Wikipedia    WikipediaConfig  `json:"wikipedia"`
	Courses      []migrate.Course `json:"courses"`
	WorkDir      string           `json:"work_dir"`
	PostWorkers  int              `json:"post_workers"`
	MediaWorkers int              `json:"media_workers"`
	FFmpeg       string           `json:"ffmpeg"`
	FFprobe      string           `json:"ffprobe"`
	Journal      string           `json:"journal"`
	Telemetry    telemetry.Config `json:"telemetry"`
}

func resolve(path *string) error {
	if *path == "" {
		return nil
	}
	resolved, err := devenv.ResolvePath(*path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", *path, err)
	}
	*path = resolved
	return nil
}

// normalize fills defaults and expands <dev_state> paths.
func (c *Config) normalize() error {
	if c.Kartra.CookiesFile == "" {
		c.Kartra.CookiesFile = "<dev_state>/kartra_cookies.json"
	}
	if c.WorkDir == "" {
		c.WorkDir = "<dev_state>/work"
	}
	if c.Journal == "" {
		c.Journal = "<dev_state>/journal.db"
	}
	if c.Kartra.CacheLifetimeHours <= 0 {
		c.Kartra.CacheLifetimeHours = 24
	}
	if c.Replays.Timezone == "" {
		c.Replays.Timezone = "America/Los_Angeles"
	}
	_, err := time.LoadLocation(c.Replays.Timezone)
	if err != nil {
		return fmt.Errorf("replays.timezone: %w", err)
	}

	var errs []error
	for _, path := range []*string{&c.Kartra.CookiesFile, &c.Kartra.CacheDir, &c.WorkDir, &c.Journal} {
		errs = append(errs, resolve(path))
	}
	err = errors.Join(errs...)
	if err != nil {
		return err
	}
	if c.Journal != ":memory:" {
		c.Journal = filepath.Clean(c.Journal)
	}
	return nil
}

func (c Config) replayLocation() *time.Location {
	loc, err := time.LoadLocation(c.Replays.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c Config) cacheLifetime() time.Duration {
	return time.Duration(c.Kartra.CacheLifetimeHours) * time.Hour
}

// courses picks the configured courses named by ids, ids that are not
// configured are migrated under their own title. No ids means every
// configured course.
func (c Config) courses(ids []string) []migrate.Course {
	if len(ids) == 0 {
		return c.Courses
	}
	byID := map[string]migrate.Course{}
	for _, course := range c.Courses {
		byID[course.ID] = course
	}
	out := make([]migrate.Course, len(ids))
	for i, id := range ids {
		course, ok := byID[id]
		if !ok {
			course = migrate.Course{ID: id}
		}
		out[i] = course
	}
	return out
}
