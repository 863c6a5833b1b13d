package kartra

import (
	"bytes"
	"context"
	"coursemigrate/internal/components/chrono"
	"encoding/gob"
	"errors"
	"net/url"
	"time"

	"github.com/PuerkitoBio/purell"
	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errPageNotCached = errors.New("page not cached")

type cachedPage struct {
	Url       string
	Contents  []byte
	ExpiresAt int64
}

// pageCache keeps fetched portal pages in badger, namespaced per course so a
// single course can be invalidated.
type pageCache struct {
	db       *badger.DB
	baseUrl  *url.URL
	lifetime time.Duration
	clock    chrono.API
}

func coursePrefix(course string) string {
	return "page:" + course + ":"
}

func (c pageCache) key(course, endpoint string) (string, error) {
	full, err := c.baseUrl.Parse(endpoint)
	if err != nil {
		return "", err
	}
	normalized := purell.NormalizeURL(
		full,
		purell.FlagsSafe|
			purell.FlagsUsuallySafeNonGreedy|
			purell.FlagRemoveDirectoryIndex|
			purell.FlagRemoveFragment|
			purell.FlagSortQuery,
	)
	return coursePrefix(course) + normalized, nil
}

func (c pageCache) get(ctx context.Context, course, endpoint string) (cachedPage, error) {
	_, span := tracer.Start(ctx, "cache.get")
	defer span.End()

	key, err := c.key(course, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return cachedPage{}, err
	}
	span.SetAttributes(attribute.String("cache_key", key))

	var serialized []byte
	err = c.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(key))
		if err != nil {
			return err
		}
		serialized, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return cachedPage{}, errPageNotCached
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read item from badger")
		return cachedPage{}, err
	}

	var cached cachedPage
	err = gob.NewDecoder(bytes.NewBuffer(serialized)).Decode(&cached)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to deserialize cached page")
		return cachedPage{}, err
	}

	if c.clock.Now().Unix() >= cached.ExpiresAt {
		err = c.db.Update(func(tx *badger.Txn) error {
			return tx.Delete([]byte(key))
		})
		if err != nil {
			span.RecordError(err)
		}
		span.SetStatus(codes.Ok, "CACHE EXPIRED")
		return cachedPage{}, errPageNotCached
	}
	return cached, nil
}

func (c pageCache) set(ctx context.Context, course, endpoint string, page cachedPage) error {
	_, span := tracer.Start(ctx, "cache.set")
	defer span.End()

	key, err := c.key(course, endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create cache key")
		return err
	}
	if page.ExpiresAt == 0 {
		page.ExpiresAt = c.clock.Now().Add(c.lifetime).Unix()
	}

	serialized := bytes.NewBuffer(nil)
	err = gob.NewEncoder(serialized).Encode(page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize page")
		return err
	}

	err = c.db.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(key), serialized.Bytes())
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to set badger item")
		return err
	}
	return nil
}

// invalidate drops every cached page of a course.
func (c pageCache) invalidate(course string) error {
	return c.db.DropPrefix([]byte(coursePrefix(course)))
}

func (c pageCache) clear() error {
	return c.db.DropAll()
}
