package commands

import (
	"context"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/media"
	"coursemigrate/internal/models"
	"coursemigrate/internal/scrapers/kartra"
	"coursemigrate/internal/sources/vimeo"
	"coursemigrate/internal/sources/wikipedia"
	"coursemigrate/internal/strapi"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
)

func newRepos() models.Repos {
	client := strapi.NewClient(models.Registry, strapi.ClientOptions{
		BaseUrl:           cfg.Strapi.BaseUrl,
		Token:             cfg.Strapi.Token,
		Concurrency:       cfg.Strapi.Concurrency,
		UploadConcurrency: cfg.Strapi.UploadConcurrency,
	}, tel)
	return models.NewRepos(client)
}

func newMediaTool() *media.Tool {
	return media.NewTool(media.Options{
		FFmpeg:  cfg.FFmpeg,
		FFprobe: cfg.FFprobe,
		Workers: cfg.MediaWorkers,
	}, tel)
}

func newVimeo() *vimeo.Client {
	return vimeo.NewClient(vimeo.Options{
		BaseUrl: cfg.Vimeo.BaseUrl,
		Token:   cfg.Vimeo.Token,
	}, tel)
}

func newWikipedia() *wikipedia.Client {
	return wikipedia.NewClient(wikipedia.Options{
		BaseUrl:   cfg.Wikipedia.BaseUrl,
		UserAgent: cfg.Wikipedia.UserAgent,
	}, tel)
}

func openJournal() (*journal.Journal, error) {
	return journal.Open(cfg.Journal, nil)
}

// kartraSession is a primed session and the page cache it reads from.
type kartraSession struct {
	*kartra.Session
	cache *badger.DB
}

func (s kartraSession) Close() error {
	err := s.Session.Close()
	if s.cache != nil {
		err = errors.Join(err, s.cache.Close())
	}
	return err
}

// openSession primes a session from the stored cookies, interactive asks for
// a cookie header on the terminal when they are missing or stale.
func openSession(ctx context.Context, interactive bool) (kartraSession, error) {
	if cfg.Kartra.BaseUrl == "" {
		return kartraSession{}, fmt.Errorf("kartra.base_url is not configured")
	}

	var out kartraSession
	if cfg.Kartra.CacheDir != "" {
		db, err := badger.Open(badger.DefaultOptions(cfg.Kartra.CacheDir).WithLogger(nil))
		if err != nil {
			return kartraSession{}, fmt.Errorf("open page cache: %w", err)
		}
		out.cache = db
	}

	session, err := kartra.NewSession(kartra.SessionOptions{
		BaseUrl:           cfg.Kartra.BaseUrl,
		AppUrl:            cfg.Kartra.AppUrl,
		CookiesFile:       cfg.Kartra.CookiesFile,
		CloudflareBypass:  cfg.Kartra.CloudflareBypass,
		RequestsPerSecond: cfg.Kartra.RequestsPerSecond,
		Cache:             out.cache,
		CacheLifetime:     cfg.cacheLifetime(),
	}, tel)
	if err != nil {
		if out.cache != nil {
			out.cache.Close()
		}
		return kartraSession{}, err
	}
	out.Session = session

	var login kartra.LoginFunc
	if interactive {
		loginUrl := cfg.Kartra.AppUrl
		if loginUrl == "" {
			loginUrl = cfg.Kartra.BaseUrl
		}
		login = kartra.PromptLogin(os.Stdin, os.Stderr, loginUrl+"/login")
	}
	err = session.Prime(ctx, login)
	if err != nil {
		out.Close()
		return kartraSession{}, err
	}
	return out, nil
}
