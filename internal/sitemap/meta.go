package sitemap

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

func parseDocument(html string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

// extractMeta pulls the page title, the first description (plain or
// OpenGraph) and the keywords tag. Only present values are keyed.
func extractMeta(doc *goquery.Document) map[string]any {
	meta := make(map[string]any)

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" {
		meta["title"] = title
	}

	var description, keywords string
	doc.Find("meta").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, ok := s.Attr("name")
		if !ok {
			name, _ = s.Attr("property")
		}
		switch strings.ToLower(name) {
		case "description", "og:description":
			if description == "" {
				description, _ = s.Attr("content")
			}
		case "keywords":
			if keywords == "" {
				keywords, _ = s.Attr("content")
			}
		}
		return description == "" || keywords == ""
	})
	if description != "" {
		meta["description"] = description
	}
	if keywords != "" {
		meta["keywords"] = keywords
	}
	return meta
}

// ExtractMeta parses rawHTML and returns its page metadata. Used by crawls
// and by single-URL info refreshes.
func ExtractMeta(rawHTML string) (map[string]any, error) {
	doc, err := parseDocument(rawHTML)
	if err != nil {
		return nil, err
	}
	return extractMeta(doc), nil
}

// extractLinks returns anchor targets in document order.
func extractLinks(doc *goquery.Document) []string {
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && href != "" {
			hrefs = append(hrefs, href)
		}
	})
	return hrefs
}
