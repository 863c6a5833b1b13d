package vimeo

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_vimeo_video    = "vimeo.video"
	report_vimeo_folder   = "vimeo.folder"
	report_vimeo_download = "vimeo.download"
)

const DefaultBaseUrl = "https://api.vimeo.com"

type Options struct {
	BaseUrl         string
	Token           string
	Timeout         time.Duration
	DownloadTimeout time.Duration
}

type Client struct {
	api       *resty.Client
	downloads *resty.Client
	tel       telemetry.API
}

func NewClient(opts Options, tel telemetry.API) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = time.Hour
	}
	tel = telemetry.NewScopedAPI("vimeo", tel)

	api := resty.New()
	api.SetBaseURL(opts.BaseUrl)
	api.SetAuthToken(opts.Token)
	api.SetHeader("accept", "application/vnd.vimeo.*+json;version=3.4")
	api.SetTimeout(opts.Timeout)
	telemetry.InstrumentResty(api, tel, "coursemigrate/vimeo")

	downloads := resty.New()
	downloads.SetTimeout(opts.DownloadTimeout)
	downloads.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Client{api: api, downloads: downloads, tel: tel}
}

type File struct {
	Quality string `json:"quality"`
	Type    string `json:"type"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Size    int64  `json:"size"`
	Link    string `json:"link"`
}

type Picture struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Link   string `json:"link"`
}

type Video struct {
	Uri      string `json:"uri"`
	Name     string `json:"name"`
	Duration int    `json:"duration"`
	Download []File `json:"download"`
	Pictures struct {
		Sizes []Picture `json:"sizes"`
	} `json:"pictures"`
}

var videoID = regexp.MustCompile(`/videos/(\d+)`)

// ID is the numeric id in the video uri, empty when the uri has none.
func (v Video) ID() string {
	match := videoID.FindStringSubmatch(v.Uri)
	if match == nil {
		return ""
	}
	return match[1]
}

// Best is the download with the largest height.
func (v Video) Best() (File, bool) {
	var best File
	found := false
	for _, f := range v.Download {
		if f.Link == "" {
			continue
		}
		if !found || f.Height > best.Height {
			best = f
			found = true
		}
	}
	return best, found
}

// Thumbnail is the last (largest) picture size.
func (v Video) Thumbnail() string {
	sizes := v.Pictures.Sizes
	if len(sizes) == 0 {
		return ""
	}
	return sizes[len(sizes)-1].Link
}

// Video fetches the metadata of a video, a missing video is found=false.
func (c *Client) Video(ctx context.Context, id string) (Video, bool, error) {
	var video Video
	res, err := c.api.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&video).
		Get("/videos/{id}")
	if err != nil {
		c.tel.ReportBroken(report_vimeo_video, err, id)
		return Video{}, false, err
	}
	if res.StatusCode() == http.StatusNotFound {
		return Video{}, false, nil
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("vimeo: GET /videos/%s: %s", id, res.Status())
		c.tel.ReportBroken(report_vimeo_video, err)
		return Video{}, false, err
	}
	return video, true, nil
}

type folderPage struct {
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Data []struct {
		Type  string `json:"type"`
		Video Video  `json:"video"`
	} `json:"data"`
}

// FolderVideos lists the videos of a project folder, following every page.
// An empty user lists the folders of the token owner.
func (c *Client) FolderVideos(ctx context.Context, user, folder string) ([]Video, error) {
	owner := "/me"
	if user != "" {
		owner = "/users/" + url.PathEscape(user)
	}
	next := fmt.Sprintf("%s/projects/%s/items?per_page=100", owner, url.PathEscape(folder))

	var videos []Video
	for next != "" {
		var page folderPage
		res, err := c.api.R().
			SetContext(ctx).
			SetResult(&page).
			Get(next)
		if err != nil {
			c.tel.ReportBroken(report_vimeo_folder, err, folder)
			return nil, err
		}
		if !res.IsSuccess() {
			err := fmt.Errorf("vimeo: GET %s: %s", next, res.Status())
			c.tel.ReportBroken(report_vimeo_folder, err)
			return nil, err
		}
		for _, item := range page.Data {
			if item.Type == "video" {
				videos = append(videos, item.Video)
			}
		}
		next = page.Paging.Next
	}
	return videos, nil
}

// Download writes the contents at link to dest. A response shorter than its
// declared content length is an error.
func (c *Client) Download(ctx context.Context, link, dest string) error {
	err := os.MkdirAll(filepath.Dir(dest), 0755)
	if err != nil {
		return err
	}
	res, err := c.downloads.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(link)
	if err != nil {
		c.tel.ReportBroken(report_vimeo_download, err, link)
		return err
	}
	if !res.IsSuccess() {
		os.Remove(dest)
		err := fmt.Errorf("vimeo: download %s: %s", link, res.Status())
		c.tel.ReportBroken(report_vimeo_download, err)
		return err
	}

	expected := res.RawResponse.ContentLength
	if expected > 0 {
		stat, err := os.Stat(dest)
		if err != nil {
			return err
		}
		if stat.Size() != expected {
			os.Remove(dest)
			err := fmt.Errorf("vimeo: download %s: got %d bytes, expected %d", link, stat.Size(), expected)
			c.tel.ReportBroken(report_vimeo_download, err)
			return err
		}
	}
	return nil
}

// Downloaded are the local files of one video, Thumbnail is empty when the
// video has no picture or it could not be fetched.
type Downloaded struct {
	Video     string
	Thumbnail string
}

// ErrNoDownload is returned when the video exists but exposes no download
// link, usually because downloads are disabled for the account.
var ErrNoDownload = errors.New("vimeo: video has no download link")

func extension(link, fallback string) string {
	u, err := url.Parse(link)
	if err != nil {
		return fallback
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 5 {
		return fallback
	}
	return ext
}

// Fetch downloads the best rendition and thumbnail of a video into dir.
func (c *Client) Fetch(ctx context.Context, id, dir string) (Downloaded, bool, error) {
	video, found, err := c.Video(ctx, id)
	if err != nil || !found {
		return Downloaded{}, found, err
	}
	best, ok := video.Best()
	if !ok {
		return Downloaded{}, true, fmt.Errorf("%w: %s", ErrNoDownload, id)
	}

	out := Downloaded{Video: filepath.Join(dir, "video"+extension(best.Link, ".mp4"))}
	err = c.Download(ctx, best.Link, out.Video)
	if err != nil {
		return Downloaded{}, true, err
	}

	thumbnail := video.Thumbnail()
	if thumbnail == "" {
		return out, true, nil
	}
	dest := filepath.Join(dir, "thumbnail"+extension(thumbnail, ".jpg"))
	err = c.Download(ctx, thumbnail, dest)
	if err != nil {
		c.tel.ReportWarning(report_vimeo_download, "thumbnail skipped", id, err)
		return out, true, nil
	}
	out.Thumbnail = dest
	return out, true, nil
}
