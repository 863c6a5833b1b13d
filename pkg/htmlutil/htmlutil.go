package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

type Anchor struct {
	Name string
	Url  *url.URL
	// Attrs holds the data-* attributes of the anchor element.
	Attrs map[string]string
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText trims, strips non-printable runes and collapses inner whitespace.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.Trim(s, " \t\n")
	return innerWhitespace.ReplaceAllString(s, " ")
}

// GetAnchors resolves every anchor in sel against base, anchors with
// unparseable or missing hrefs are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	anchors := []Anchor{}
	for _, n := range sel.Nodes {
		href := ""
		attrs := map[string]string{}
		for _, a := range n.Attr {
			if a.Key == "href" {
				href = a.Val
				continue
			}
			if strings.HasPrefix(a.Key, "data-") {
				attrs[a.Key] = a.Val
			}
		}
		if href == "" {
			continue
		}

		link, err := url.Parse(href)
		if err != nil {
			continue
		}
		if base != nil {
			link = base.ResolveReference(link)
		}

		anchors = append(anchors, Anchor{
			Name:  CleanText(GetText(n)),
			Url:   link,
			Attrs: attrs,
		})
	}

	return anchors
}
