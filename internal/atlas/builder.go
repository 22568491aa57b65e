// Package atlas builds bounded structural snapshots of page DOMs.
package atlas

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/domsphere/siteintel/internal/site"
)

const (
	// DefaultMaxElements caps how many elements one snapshot records.
	DefaultMaxElements = 200
	// maxTextSample bounds the per-element text excerpt.
	maxTextSample = 160
)

// Builder turns raw HTML into an indexed element snapshot. Elements are
// assigned indices in document order, so a parent's index is always smaller
// than any of its descendants'.
type Builder struct {
	maxElements int
}

// New builds a Builder. A non-positive cap falls back to DefaultMaxElements.
func New(maxElements int) *Builder {
	if maxElements <= 0 {
		maxElements = DefaultMaxElements
	}
	return &Builder{maxElements: maxElements}
}

// Build parses rawHTML and produces the snapshot for (siteID, url). The
// returned snapshot fully replaces any prior one for the same pair.
func (b *Builder) Build(siteID, url, rawHTML string, capturedAt time.Time) (site.Atlas, error) {
	root, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return site.Atlas{}, fmt.Errorf("parse html for %s: %w", url, err)
	}

	elements := make([]site.AtlasElement, 0, b.maxElements)
	// Arena of assigned indices; parent references resolve through it so
	// skipped node types never break the chain.
	assigned := make(map[*html.Node]int)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(elements) >= b.maxElements {
			return
		}
		if n.Type == html.ElementNode {
			idx := len(elements)
			elements = append(elements, b.buildElement(n, idx, assigned))
			assigned[n] = idx
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(root)

	return site.Atlas{
		ID:         atlasID(siteID, url),
		SiteID:     siteID,
		URL:        url,
		DOMHash:    fmt.Sprintf("%x", sha256.Sum256([]byte(rawHTML))),
		CapturedAt: capturedAt,
		Elements:   elements,
	}, nil
}

func (b *Builder) buildElement(n *html.Node, idx int, assigned map[*html.Node]int) site.AtlasElement {
	el := site.AtlasElement{
		Idx:        idx,
		Tag:        sanitize(n.Data),
		TextSample: truncate(sanitize(collectText(n)), maxTextSample),
		CSSPath:    sanitize(cssPath(n)),
	}

	for _, attr := range n.Attr {
		switch {
		case attr.Key == "id":
			el.ID = sanitize(attr.Val)
		case attr.Key == "class":
			el.ClassList = classList(attr.Val)
		case attr.Key == "role":
			el.Role = sanitize(attr.Val)
		case strings.HasPrefix(attr.Key, "data-"):
			if el.DataAttrs == nil {
				el.DataAttrs = make(map[string]string)
			}
			el.DataAttrs[sanitize(attr.Key)] = sanitize(attr.Val)
		}
	}

	// Nearest ancestor that already holds an index; nil for roots.
	for parent := n.Parent; parent != nil; parent = parent.Parent {
		if pIdx, ok := assigned[parent]; ok {
			el.ParentIdx = &pIdx
			break
		}
	}
	return el
}

// cssPath concatenates tag plus #id (or .classes) for every element from
// the document root down to n, joined by spaces.
func cssPath(n *html.Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Type == html.ElementNode; cur = cur.Parent {
		segment := cur.Data
		if id := attrValue(cur, "id"); id != "" {
			segment += "#" + id
		} else if class := attrValue(cur, "class"); class != "" {
			if classes := classList(class); len(classes) > 0 {
				segment += "." + strings.Join(classes, ".")
			}
		}
		segments = append(segments, segment)
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " ")
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func classList(raw string) []string {
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, sanitize(f))
	}
	return out
}

// collectText joins the trimmed text of all descendant text nodes.
func collectText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		if cur.Type == html.TextNode {
			b.WriteString(strings.TrimSpace(cur.Data))
		}
		for child := cur.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

// sanitize strips embedded NUL bytes, which break common storage encodings.
func sanitize(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

func atlasID(siteID, url string) string {
	sum := sha256.Sum256([]byte(siteID + ":" + url))
	return fmt.Sprintf("atlas-%x", sum[:8])
}
