package htmlutil

import (
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestGetAnchors(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(`
		<ul>
			<li><a href="/portal/abc/post/1" data-post_id="1">  Intro
				 to   things </a></li>
			<li><a>no href</a></li>
			<li><a href="https://example.com/x">External</a></li>
		</ul>
	`))
	require.NoError(t, err)

	base, err := url.Parse("https://app.kartra.com/portal/abc/index")
	require.NoError(t, err)

	anchors := GetAnchors(base, doc.Find("a"))
	require.Len(t, anchors, 2)
	require.Equal(t, "Intro to things", anchors[0].Name)
	require.Equal(t, "https://app.kartra.com/portal/abc/post/1", anchors[0].Url.String())
	require.Equal(t, "1", anchors[0].Attrs["data-post_id"])
	require.Equal(t, "https://example.com/x", anchors[1].Url.String())
}
