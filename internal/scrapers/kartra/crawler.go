package kartra

import (
	"bytes"
	"context"
	"coursemigrate/internal/components/assert"
	"coursemigrate/internal/components/telemetry"
	"coursemigrate/pkg/htmlutil"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"

	"github.com/PuerkitoBio/goquery"
)

const (
	report_crawler_discover = "crawler.discover"
	report_crawler_resolve  = "crawler.resolve"
)

// ErrCourseNotFound is returned by Discover when the course index is missing.
var ErrCourseNotFound = errors.New("kartra: course not found")

type Crawler struct {
	session *Session
	tel     telemetry.API
}

func NewCrawler(session *Session, tel telemetry.API) *Crawler {
	assert.NotNil(session)
	assert.NotNil(tel)
	return &Crawler{
		session: session,
		tel:     telemetry.NewScopedAPI("kartra", tel),
	}
}

func indexPath(course string) string {
	return fmt.Sprintf("/portal/%s/index", course)
}

func subcategoryPath(course string, id int) string {
	return fmt.Sprintf("/portal/%s/subcategory/%d", course, id)
}

func postPath(course string, id int) string {
	return fmt.Sprintf("/portal/%s/post/%d", course, id)
}

var (
	postLinkRegex        = regexp.MustCompile(`/post/(\d+)`)
	subcategoryLinkRegex = regexp.MustCompile(`/subcategory/(\d+)`)
	vimeoRegex           = regexp.MustCompile(`(?:player\.vimeo\.com/video/|vimeo\.com/)(\d+)`)
)

func linkID(re *regexp.Regexp, u *url.URL) (int, bool) {
	if u == nil {
		return 0, false
	}
	groups := re.FindStringSubmatch(u.Path)
	if len(groups) < 2 {
		return 0, false
	}
	id, err := strconv.Atoi(groups[1])
	return id, err == nil
}

// postSet keeps discovered posts in discovery order, one per id. Posts found
// through page structure replace posts that were only matched by the raw
// html scan, whichever came first.
type postSet struct {
	order      []int
	posts      map[int]Post
	structured map[int]bool
}

func newPostSet() *postSet {
	return &postSet{posts: map[int]Post{}, structured: map[int]bool{}}
}

func (s *postSet) add(p Post, structured bool) {
	_, seen := s.posts[p.ID]
	if !seen {
		s.order = append(s.order, p.ID)
		s.posts[p.ID] = p
		s.structured[p.ID] = structured
		return
	}
	if structured && !s.structured[p.ID] {
		s.posts[p.ID] = p
		s.structured[p.ID] = true
	}
}

func (s *postSet) list() []Post {
	out := make([]Post, len(s.order))
	for i, id := range s.order {
		out[i] = s.posts[id]
	}
	return out
}

type categoryBlock struct {
	name  string
	links []htmlutil.Anchor
}

func parseCategories(base *url.URL, doc *goquery.Document) []categoryBlock {
	var blocks []categoryBlock
	doc.Find("ul.nav.list-unstyled > li.dropdown").Each(func(_ int, li *goquery.Selection) {
		name := htmlutil.CleanText(li.Find("a.dropdown-toggle").First().Text())
		blocks = append(blocks, categoryBlock{
			name:  name,
			links: htmlutil.GetAnchors(base, li.Find("ul.dropdown-menu li a")),
		})
	})
	return blocks
}

func parsePostItems(base *url.URL, doc *goquery.Document) []htmlutil.Anchor {
	var out []htmlutil.Anchor
	for _, a := range htmlutil.GetAnchors(base, doc.Find("li a")) {
		if _, ok := linkID(postLinkRegex, a.Url); ok {
			out = append(out, a)
		}
	}
	return out
}

// scanPostIDs matches post links of the course anywhere in the raw html,
// including scripts and attributes the structured pass does not look at.
func scanPostIDs(course string, contents []byte) []int {
	re := regexp.MustCompile(`/portal/` + regexp.QuoteMeta(course) + `/post/(\d+)`)
	var ids []int
	for _, groups := range re.FindAllSubmatch(contents, -1) {
		id, err := strconv.Atoi(string(groups[1]))
		if err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Discover enumerates every post of a course through its index, category
// dropdowns and subcategory pages. Each post is returned once.
func (c *Crawler) Discover(ctx context.Context, course string) ([]Post, error) {
	ctx, span := tracer.Start(ctx, "discover")
	defer span.End()

	index, found, err := c.session.navigate(ctx, course, indexPath(course))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrCourseNotFound, course)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(index.contents))
	if err != nil {
		c.tel.ReportBroken(report_crawler_discover, fmt.Errorf("parse index: %w", err), course)
		return nil, err
	}

	posts := newPostSet()
	for _, block := range parseCategories(index.url, doc) {
		for _, link := range block.links {
			if id, ok := linkID(postLinkRegex, link.Url); ok {
				posts.add(Post{
					ID:            id,
					Name:          link.Name,
					Course:        course,
					Category:      block.name,
					Subcategory:   block.name,
					SubcategoryID: SyntheticSubcategoryID,
				}, true)
				continue
			}

			id, ok := linkID(subcategoryLinkRegex, link.Url)
			if !ok {
				continue
			}
			sub := Subcategory{ID: id, Name: link.Name, Category: block.name, Course: course}
			err := c.discoverSubcategory(ctx, sub, posts)
			if err != nil {
				return nil, err
			}
		}
	}

	for _, id := range scanPostIDs(course, index.contents) {
		posts.add(Post{ID: id, Course: course}, false)
	}

	out := posts.list()
	c.tel.ReportDebug(report_crawler_discover, course, len(out))
	return out, nil
}

func (c *Crawler) discoverSubcategory(ctx context.Context, sub Subcategory, posts *postSet) error {
	p, found, err := c.session.navigate(ctx, sub.Course, subcategoryPath(sub.Course, sub.ID))
	if err != nil {
		return err
	}
	if !found {
		c.tel.ReportWarning(report_crawler_discover, "subcategory not found", sub.Course, sub.ID)
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(p.contents))
	if err != nil {
		c.tel.ReportBroken(report_crawler_discover, fmt.Errorf("parse subcategory: %w", err), sub.ID)
		return err
	}

	for _, item := range parsePostItems(p.url, doc) {
		id, _ := linkID(postLinkRegex, item.Url)
		posts.add(Post{
			ID:            id,
			Name:          item.Name,
			Course:        sub.Course,
			Category:      sub.Category,
			Subcategory:   sub.Name,
			SubcategoryID: sub.ID,
		}, true)
	}
	for _, id := range scanPostIDs(sub.Course, p.contents) {
		posts.add(Post{
			ID:            id,
			Course:        sub.Course,
			Category:      sub.Category,
			Subcategory:   sub.Name,
			SubcategoryID: sub.ID,
		}, false)
	}
	return nil
}

func firstText(doc *goquery.Document, selector string) string {
	return htmlutil.CleanText(doc.Find(selector).First().Text())
}

func extractVideoID(doc *goquery.Document, body string) string {
	var id string
	doc.Find("iframe").EachWithBreak(func(_ int, iframe *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src"} {
			src, ok := iframe.Attr(attr)
			if !ok {
				continue
			}
			groups := vimeoRegex.FindStringSubmatch(src)
			if len(groups) == 2 {
				id = groups[1]
				return false
			}
		}
		return true
	})
	if id != "" {
		return id
	}
	groups := vimeoRegex.FindStringSubmatch(body)
	if len(groups) == 2 {
		return groups[1]
	}
	return ""
}

// Resolve visits the post page, fills the names discovery could not see and
// extracts the embedded Vimeo video id. A post without a video resolves with
// an empty VideoID, a post whose page is gone resolves with found=false.
func (c *Crawler) Resolve(ctx context.Context, post Post) (Post, bool, error) {
	ctx, span := tracer.Start(ctx, "resolve")
	defer span.End()

	p, found, err := c.session.navigate(ctx, post.Course, postPath(post.Course, post.ID))
	if err != nil {
		return post, false, err
	}
	if !found {
		return post, false, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(p.contents))
	if err != nil {
		c.tel.ReportBroken(report_crawler_resolve, fmt.Errorf("parse post: %w", err), post.String())
		return post, false, err
	}

	if post.Name == "" {
		post.Name = firstText(doc, "div.panel.panel-kartra div.panel-heading h1")
	}
	if post.Subcategory == "" {
		post.Subcategory = firstText(doc, "div.panel.panel-blank.menu_box div.panel-heading h2")
	}
	if post.Category == "" {
		post.Category = firstText(doc, "ul.nav.list-unstyled li.dropdown.active a")
	}
	if post.Subcategory == "" {
		post.Subcategory = post.Category
		post.SubcategoryID = SyntheticSubcategoryID
	}

	body, err := doc.Find("div.panel.panel-kartra div.panel-body").First().Html()
	if err != nil {
		c.tel.ReportWarning(report_crawler_resolve, fmt.Errorf("serialize body: %w", err), post.String())
	}
	post.Body = body
	post.VideoID = extractVideoID(doc, string(p.contents))
	post.Resolved = true

	if post.VideoID == "" {
		c.tel.ReportDebug(report_crawler_resolve, "no playable video", post.String())
	}
	return post, true, nil
}
