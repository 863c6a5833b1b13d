package wikipedia

import (
	"context"
	"coursemigrate/internal/components/telemetry"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	report_wikipedia_picture  = "wikipedia.picture"
	report_wikipedia_download = "wikipedia.download"
)

const DefaultBaseUrl = "https://en.wikipedia.org"

type Options struct {
	BaseUrl string
	// UserAgent is required by the wikimedia api policy.
	UserAgent string
	// ThumbnailSize is the width of the requested picture, defaults to 256.
	ThumbnailSize int
	Timeout       time.Duration
}

// Client looks up article pictures on a MediaWiki site.
type Client struct {
	http *resty.Client
	size int
	tel  telemetry.API
}

func NewClient(opts Options, tel telemetry.API) *Client {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "coursemigrate/1.0"
	}
	if opts.ThumbnailSize <= 0 {
		opts.ThumbnailSize = 256
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	tel = telemetry.NewScopedAPI("wikipedia", tel)

	client := resty.New()
	client.SetBaseURL(opts.BaseUrl)
	client.SetTimeout(opts.Timeout)
	client.SetHeader("user-agent", opts.UserAgent)
	telemetry.InstrumentResty(client, tel, "coursemigrate/wikipedia")

	return &Client{http: client, size: opts.ThumbnailSize, tel: tel}
}

type queryResponse struct {
	Query struct {
		Pages map[string]struct {
			Title     string  `json:"title"`
			Missing   *string `json:"missing"`
			Thumbnail struct {
				Source string `json:"source"`
			} `json:"thumbnail"`
		} `json:"pages"`
	} `json:"query"`
}

// Picture returns the thumbnail link of the article titled name. Missing
// articles and articles without a picture are found=false.
func (c *Client) Picture(ctx context.Context, name string) (string, bool, error) {
	var body queryResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action":      "query",
			"titles":      name,
			"prop":        "pageimages",
			"format":      "json",
			"redirects":   "1",
			"pithumbsize": fmt.Sprint(c.size),
		}).
		SetResult(&body).
		Get("/w/api.php")
	if err != nil {
		c.tel.ReportBroken(report_wikipedia_picture, err, name)
		return "", false, err
	}
	if !res.IsSuccess() {
		err := fmt.Errorf("wikipedia: query %q: %s", name, res.Status())
		c.tel.ReportBroken(report_wikipedia_picture, err)
		return "", false, err
	}
	for _, page := range body.Query.Pages {
		if page.Missing != nil || page.Thumbnail.Source == "" {
			continue
		}
		return page.Thumbnail.Source, true, nil
	}
	return "", false, nil
}

// Download writes the picture at link to dest.
func (c *Client) Download(ctx context.Context, link, dest string) error {
	err := os.MkdirAll(filepath.Dir(dest), 0755)
	if err != nil {
		return err
	}
	res, err := c.http.R().
		SetContext(ctx).
		SetOutput(dest).
		Get(link)
	if err != nil {
		c.tel.ReportBroken(report_wikipedia_download, err, link)
		return err
	}
	if !res.IsSuccess() {
		os.Remove(dest)
		err := fmt.Errorf("wikipedia: download %s: %s", link, res.Status())
		c.tel.ReportBroken(report_wikipedia_download, err)
		return err
	}
	return nil
}
