package migrate

import (
	"context"
	"coursemigrate/internal/journal"
	"coursemigrate/internal/strapi"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

type fakePictures struct {
	mutex   sync.Mutex
	links   map[string]string
	lookups []string
}

func (f *fakePictures) Picture(ctx context.Context, name string) (string, bool, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.lookups = append(f.lookups, name)
	link, ok := f.links[name]
	return link, ok, nil
}

func (f *fakePictures) Download(ctx context.Context, link, dest string) error {
	return os.WriteFile(dest, []byte(link), 0644)
}

func (f *fakePictures) lookupCount() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return len(f.lookups)
}

func TestPopulatePeople(t *testing.T) {
	f := newFixture(t)
	pictures := &fakePictures{links: map[string]string{
		"Ada Lovelace": "https://upload.example.org/ada.jpg",
	}}
	workDir := t.TempDir()
	p := NewPeople(f.repos, pictures, Options{WorkDir: workDir, Workers: 3}, f.tel)
	ctx := context.Background()
	people := []Person{
		{Name: "Ada Lovelace", Typecode: "intp"},
		{Name: "Carl Jung", Typecode: "INFJ", PictureUrl: "https://img.example.org/jung.png"},
		{Name: "Nobody", Typecode: "ESTJ"},
		{Name: "Bad", Typecode: "XXXX"},
		{Name: " "},
	}

	first, err := p.Populate(ctx, people)
	require.ErrorContains(t, err, `unknown typecode "XXXX"`)
	require.Equal(t, journal.Tally{Migrated: 2, Skipped: 2, Failed: 1}, first)
	require.Equal(t, 3, f.server.Created("famous-people"))
	require.Equal(t, 2, f.server.Uploads())
	require.Equal(t, 2, pictures.lookupCount())
	require.NotEmpty(t, f.tel.Broken("people.populate"))

	ada, found, err := f.repos.FamousPeople.FindOne(ctx, strapi.EqStr("name", "Ada Lovelace"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "INTP", ada.Typecode())
	require.NotNil(t, ada.Picture())
	id, _ := ada.ID()
	require.EqualValues(t, 14, f.server.Attrs("famous-people", id)["typecode_order"])

	jung, found, err := f.repos.FamousPeople.FindOne(ctx, strapi.EqStr("name", "Carl Jung"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "https://img.example.org/jung.png", jung.PictureUrl())
	require.Equal(t, ".png", jung.Picture().Ext)

	nobody, found, err := f.repos.FamousPeople.FindOne(ctx, strapi.EqStr("name", "Nobody"))
	require.NoError(t, err)
	require.True(t, found)
	require.Nil(t, nobody.Picture())

	second, err := p.Populate(ctx, people)
	require.Error(t, err)
	require.Equal(t, journal.Tally{Skipped: 4, Failed: 1}, second)
	require.Equal(t, 3, f.server.Created("famous-people"))
	require.Equal(t, 2, f.server.Uploads())
	// only the person still without a picture is looked up again
	require.Equal(t, 3, pictures.lookupCount())

	left, err := os.ReadDir(filepath.Join(workDir, "people"))
	require.NoError(t, err)
	require.Empty(t, left)
}

func TestTypecodeOrder(t *testing.T) {
	order, ok := TypecodeOrder("infp")
	require.True(t, ok)
	require.Equal(t, 15, order)
	order, ok = TypecodeOrder("ESTJ")
	require.True(t, ok)
	require.Equal(t, 0, order)
	_, ok = TypecodeOrder("ABCD")
	require.False(t, ok)
}

func TestPictureFile(t *testing.T) {
	require.Equal(t, "Carl_Jung.png", pictureFile("Carl Jung", "https://img.example.org/jung.PNG?w=1"))
	require.Equal(t, "J._R._R._Tolkien.jpg", pictureFile("J. R. R. Tolkien", "https://img.example.org/thumb"))
	require.Equal(t, "Ada.jpg", pictureFile("Ada", "::not a url"))
}

func TestLoadPeople(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "people.json")
	err := os.WriteFile(file, []byte(`[
		{"name": "Ada Lovelace", "typecode": "INTP", "octagram": "SDSF"},
		{"name": "Carl Jung", "typecode": "INFJ", "picture_url": "https://img.example.org/jung.png"}
	]`), 0644)
	require.NoError(t, err)

	people, err := LoadPeople(file)
	require.NoError(t, err)
	want := []Person{
		{Name: "Ada Lovelace", Typecode: "INTP", Octagram: "SDSF"},
		{Name: "Carl Jung", Typecode: "INFJ", PictureUrl: "https://img.example.org/jung.png"},
	}
	if diff := cmp.Diff(want, people); diff != "" {
		t.Fatalf("LoadPeople mismatch (-want +got):\n%s", diff)
	}

	broken := filepath.Join(dir, "broken.json")
	require.NoError(t, os.WriteFile(broken, []byte(`{"name":`), 0644))
	_, err = LoadPeople(broken)
	require.ErrorContains(t, err, "parse")

	_, err = LoadPeople(filepath.Join(dir, "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
