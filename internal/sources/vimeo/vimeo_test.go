package vimeo

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newVimeo(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	var server *httptest.Server

	mux.HandleFunc("GET /videos/{id}", func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("content-type", "application/json")
		switch req.PathValue("id") {
		case "1":
			fmt.Fprintf(w, `{
				"uri": "/videos/1",
				"name": "Lesson",
				"download": [
					{"quality": "sd", "height": 540, "link": "%[1]s/files/sd.mp4"},
					{"quality": "hd", "height": 1080, "link": "%[1]s/files/hd.mp4?token=x"},
					{"quality": "hd", "height": 720, "link": "%[1]s/files/720.mp4"}
				],
				"pictures": {"sizes": [
					{"width": 100, "link": "%[1]s/files/small.jpg"},
					{"width": 1920, "link": "%[1]s/files/large.jpg"}
				]}
			}`, server.URL)
		case "2":
			fmt.Fprint(w, `{"uri": "/videos/2", "download": [], "pictures": {"sizes": []}}`)
		case "3":
			fmt.Fprintf(w, `{
				"download": [{"height": 360, "link": "%[1]s/files/sd.mp4"}],
				"pictures": {"sizes": [{"link": "%[1]s/files/missing.jpg"}]}
			}`, server.URL)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error": "The requested video couldn't be found."}`)
		}
	})
	mux.HandleFunc("GET /users/{user}/projects/{folder}/items", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("content-type", "application/json")
		if req.PathValue("folder") != "9" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"paging": {"next": null}, "data": [
				{"type": "video", "video": {"uri": "/videos/30", "name": "Jane INTJ 3/4/2024"}}
			]}`)
			return
		}
		fmt.Fprint(w, `{"paging": {"next": "/users/u1/projects/9/items?page=2&per_page=100"}, "data": [
			{"type": "video", "video": {"uri": "/videos/10", "name": "Joe ESTP"}},
			{"type": "folder", "folder": {"uri": "/users/u1/projects/11"}},
			{"type": "video", "video": {"uri": "/videos/20", "name": "Ann"}}
		]}`)
	})
	mux.HandleFunc("GET /files/{name}", func(w http.ResponseWriter, req *http.Request) {
		switch req.PathValue("name") {
		case "hd.mp4":
			fmt.Fprint(w, "hd video bytes")
		case "sd.mp4":
			fmt.Fprint(w, "sd video bytes")
		case "large.jpg":
			fmt.Fprint(w, "jpeg bytes")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestFetch(t *testing.T) {
	server := newVimeo(t)
	tel := &telemetry.Recorder{}
	client := NewClient(Options{BaseUrl: server.URL, Token: "secret"}, tel)
	ctx := context.Background()
	dir := t.TempDir()

	out, found, err := client.Fetch(ctx, "1", filepath.Join(dir, "1"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, filepath.Join(dir, "1", "video.mp4"), out.Video)
	require.Equal(t, filepath.Join(dir, "1", "thumbnail.jpg"), out.Thumbnail)

	contents, err := os.ReadFile(out.Video)
	require.NoError(t, err)
	require.Equal(t, "hd video bytes", string(contents))
	contents, err = os.ReadFile(out.Thumbnail)
	require.NoError(t, err)
	require.Equal(t, "jpeg bytes", string(contents))

	_, found, err = client.Fetch(ctx, "404", filepath.Join(dir, "404"))
	require.NoError(t, err)
	require.False(t, found)

	_, found, err = client.Fetch(ctx, "2", filepath.Join(dir, "2"))
	require.True(t, found)
	require.ErrorIs(t, err, ErrNoDownload)
}

func TestFetchWithoutThumbnail(t *testing.T) {
	server := newVimeo(t)
	tel := &telemetry.Recorder{}
	client := NewClient(Options{BaseUrl: server.URL, Token: "secret"}, tel)

	out, found, err := client.Fetch(context.Background(), "3", t.TempDir())
	require.NoError(t, err)
	require.True(t, found)
	require.NotEmpty(t, out.Video)
	require.Empty(t, out.Thumbnail)
	require.NotEmpty(t, tel.Reports("warning"))
}

func TestUnauthorized(t *testing.T) {
	server := newVimeo(t)
	client := NewClient(Options{BaseUrl: server.URL, Token: "wrong"}, &telemetry.Recorder{})

	_, _, err := client.Video(context.Background(), "1")
	require.Error(t, err)
}

func TestBest(t *testing.T) {
	video := Video{Download: []File{
		{Height: 720, Link: "a"},
		{Height: 2160},
		{Height: 1080, Link: "b"},
	}}
	best, ok := video.Best()
	require.True(t, ok)
	require.Equal(t, "b", best.Link)

	_, ok = Video{}.Best()
	require.False(t, ok)
	require.Empty(t, Video{}.Thumbnail())
}

func TestFolderVideos(t *testing.T) {
	server := newVimeo(t)
	tel := &telemetry.Recorder{}
	client := NewClient(Options{BaseUrl: server.URL, Token: "secret"}, tel)

	videos, err := client.FolderVideos(context.Background(), "u1", "9")
	require.NoError(t, err)
	var ids, names []string
	for _, v := range videos {
		ids = append(ids, v.ID())
		names = append(names, v.Name)
	}
	require.Equal(t, []string{"10", "20", "30"}, ids)
	require.Equal(t, []string{"Joe ESTP", "Ann", "Jane INTJ 3/4/2024"}, names)

	_, err = client.FolderVideos(context.Background(), "u1", "404")
	require.Error(t, err)
	require.NotEmpty(t, tel.Broken(report_vimeo_folder))

	require.Empty(t, Video{Uri: "/users/1"}.ID())
}
