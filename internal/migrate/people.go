package migrate

import (
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/models"
	"coursemigrate/internal/strapi"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

const report_people = "people.populate"

// Typecodes are the personality types in their display order.
var Typecodes = []string{
	"ESTJ", "ESTP", "ENTJ", "ENFJ",
	"ESFJ", "ESFP", "ENTP", "ENFP",
	"ISTJ", "ISTP", "INTJ", "INFJ",
	"ISFJ", "ISFP", "INTP", "INFP",
}

// TypecodeOrder is the position of code in Typecodes.
func TypecodeOrder(code string) (int, bool) {
	code = strings.ToUpper(code)
	for i, t := range Typecodes {
		if t == code {
			return i, true
		}
	}
	return 0, false
}

// Person is one entry of a famous people list.
type Person struct {
	Name       string `json:"name"`
	Typecode   string `json:"typecode"`
	Octagram   string `json:"octagram"`
	PictureUrl string `json:"picture_url"`
}

// LoadPeople reads a json array of people.
func LoadPeople(file string) ([]Person, error) {
	buff, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	var people []Person
	err = json.Unmarshal(buff, &people)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", file, err)
	}
	return people, nil
}

// Pictures finds and downloads portraits, see wikipedia.Client.
type Pictures interface {
	Picture(ctx context.Context, name string) (string, bool, error)
	Download(ctx context.Context, link, dest string) error
}

// People fills the famous people collection and their pictures.
type People struct {
	repos    models.Repos
	pictures Pictures
	opts     Options
	tel      telemetry.API
}

func NewPeople(repos models.Repos, pictures Pictures, opts Options, tel telemetry.API) *People {
	assert.NotNil(repos.Client)
	assert.NotNil(pictures)
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "coursemigrate")
	}
	return &People{
		repos:    repos,
		pictures: pictures,
		opts:     opts,
		tel:      telemetry.NewScopedAPI("migrate", tel),
	}
}

// Populate creates the people that are missing and gives a picture to those
// without one. The picture comes from picture_url or else a lookup by name.
func (p *People) Populate(ctx context.Context, people []Person) (journal.Tally, error) {
	ctx, span := tracer.Start(ctx, "people.populate")
	defer span.End()

	var (
		mutex sync.Mutex
		tally journal.Tally
		errs  []error
	)
	group := errgroup.Group{}
	group.SetLimit(p.opts.Workers)
	for _, person := range people {
		group.Go(func() error {
			status, err := p.one(ctx, person)
			mutex.Lock()
			defer mutex.Unlock()
			tally.Add(status)
			if err != nil {
				p.tel.ReportBroken(report_people, person.Name, err)
				errs = append(errs, fmt.Errorf("%s: %w", person.Name, err))
			}
			return nil
		})
	}
	group.Wait()
	return tally, errors.Join(errs...)
}

var unsafeFileChars = regexp.MustCompile(`[^\w.-]+`)

func pictureFile(name, link string) string {
	ext := ".jpg"
	if u, err := url.Parse(link); err == nil {
		e := strings.ToLower(path.Ext(u.Path))
		if e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return unsafeFileChars.ReplaceAllString(name, "_") + ext
}

func (p *People) one(ctx context.Context, person Person) (journal.Status, error) {
	name := strings.TrimSpace(person.Name)
	if name == "" {
		return journal.StatusSkipped, nil
	}
	order, ok := TypecodeOrder(person.Typecode)
	if !ok {
		return journal.StatusFailed, fmt.Errorf("unknown typecode %q", person.Typecode)
	}

	record, _, err := p.repos.FamousPeople.GetOrCreate(ctx, models.NewFamousPeople(
		name, strings.ToUpper(person.Typecode), order, person.Octagram, person.PictureUrl,
	))
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("get or create: %w", err)
	}
	if record.Picture() != nil {
		return journal.StatusSkipped, nil
	}

	link := person.PictureUrl
	if link == "" {
		link = record.PictureUrl()
	}
	if link == "" {
		found := false
		link, found, err = p.pictures.Picture(ctx, name)
		if err != nil {
			return journal.StatusFailed, fmt.Errorf("find picture: %w", err)
		}
		if !found {
			p.tel.ReportWarning(report_people, "no picture found", name)
			return journal.StatusSkipped, nil
		}
	}

	parent := filepath.Join(p.opts.WorkDir, "people")
	err = os.MkdirAll(parent, 0755)
	if err != nil {
		return journal.StatusFailed, err
	}
	// names sanitized to the same file must not collide across workers
	dir, err := os.MkdirTemp(parent, "person-")
	if err != nil {
		return journal.StatusFailed, err
	}
	if !p.opts.KeepFiles {
		defer os.RemoveAll(dir)
	}
	dest := filepath.Join(dir, pictureFile(name, link))
	err = p.pictures.Download(ctx, link, dest)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("download: %w", err)
	}

	uploaded, err := p.repos.Client.Upload(ctx, dest)
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("upload: %w", err)
	}
	if uploaded == nil {
		return journal.StatusFailed, fmt.Errorf("upload: %s was not downloaded", dest)
	}
	err = p.repos.FamousPeople.Update(ctx, record, map[string]strapi.Value{
		"picture": strapi.MediaValue(uploaded),
	})
	if err != nil {
		return journal.StatusFailed, fmt.Errorf("update: %w", err)
	}
	return journal.StatusMigrated, nil
}
