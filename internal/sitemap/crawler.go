// Package sitemap implements the bounded breadth-first site crawler.
package sitemap

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/domsphere/siteintel/internal/site"
	"github.com/domsphere/siteintel/internal/siteurl"
)

const (
	// DefaultMaxPages bounds how many pages a single crawl may collect.
	DefaultMaxPages = 5000
	// DefaultQueueFanout sizes the pending-queue budget relative to the
	// page budget.
	DefaultQueueFanout = 4
)

// Config carries the crawl policy limits.
type Config struct {
	MaxPages    int
	QueueFanout int
}

// Request describes one crawl invocation. A nil MaxDepth means unlimited
// depth; a zero MaxPages falls back to the configured budget.
type Request struct {
	SiteID   string
	StartURL string
	MaxDepth *int
	MaxPages int
}

// Crawler discovers same-host pages reachable from a seed URL. Each Crawl
// call owns its queue and visited set, so independent crawls for different
// sites can run concurrently.
type Crawler struct {
	fetcher site.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Crawler.
func New(f site.Fetcher, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.QueueFanout < 2 {
		cfg.QueueFanout = DefaultQueueFanout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{fetcher: f, cfg: cfg, logger: logger}
}

type queueItem struct {
	url   string
	depth int
}

// Crawl runs a breadth-first traversal from the canonicalized start URL and
// returns the discovered pages in deterministic visitation order. A single
// fetch failure skips that page without aborting the crawl; an unresolvable
// start URL aborts immediately since there is nothing to traverse.
func (c *Crawler) Crawl(ctx context.Context, req Request) ([]site.CrawlPage, error) {
	start, err := siteurl.Canonicalize(req.StartURL)
	if err != nil {
		return nil, fmt.Errorf("crawl start url: %w", err)
	}
	base, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("crawl start url %q: %w", start, site.ErrUnresolvableURL)
	}

	maxPages := req.MaxPages
	if maxPages <= 0 {
		maxPages = c.cfg.MaxPages
	}
	queueBudget := c.cfg.QueueFanout * 2
	if b := maxPages * c.cfg.QueueFanout; b > queueBudget {
		queueBudget = b
	}

	seen := make(map[string]struct{})
	queue := []queueItem{{url: start, depth: 0}}
	pages := make([]site.CrawlPage, 0, 16)

	for len(queue) > 0 && len(pages) < maxPages {
		if err := ctx.Err(); err != nil {
			return pages, fmt.Errorf("crawl canceled: %w", err)
		}
		item := queue[0]
		queue = queue[1:]
		if _, ok := seen[item.url]; ok {
			continue
		}
		// Marked before fetching so a failed page is never retried.
		seen[item.url] = struct{}{}

		html, err := c.fetcher.Fetch(ctx, item.url)
		if err != nil {
			fetchErrorsTotal.Inc()
			c.logger.Warn("sitemap fetch failed",
				zap.String("site_id", req.SiteID),
				zap.String("url", item.url),
				zap.Error(err),
			)
			continue
		}

		doc, err := parseDocument(html)
		if err != nil {
			c.logger.Warn("sitemap parse failed",
				zap.String("site_id", req.SiteID),
				zap.String("url", item.url),
				zap.Error(err),
			)
			continue
		}

		meta := extractMeta(doc)
		meta["hash"] = fmt.Sprintf("%x", sha256.Sum256([]byte(html)))
		pages = append(pages, site.CrawlPage{URL: item.url, Meta: meta})
		pagesCrawledTotal.Inc()

		if req.MaxDepth != nil && item.depth >= *req.MaxDepth {
			continue
		}

		for _, href := range extractLinks(doc) {
			candidate, ok := c.admitLink(item.url, href, base, seen)
			if !ok {
				continue
			}
			if len(queue) >= queueBudget {
				queueDropsTotal.Inc()
				continue
			}
			queue = append(queue, queueItem{url: candidate, depth: item.depth + 1})
		}
	}

	c.logger.Info("sitemap crawl finished",
		zap.String("site_id", req.SiteID),
		zap.String("start_url", start),
		zap.Int("pages", len(pages)),
	)
	return pages, nil
}

// admitLink resolves an anchor target against the current page and applies
// the enqueue filters: http(s) only, same host as the seed, not yet seen.
func (c *Crawler) admitLink(current, href string, base *url.URL, seen map[string]struct{}) (string, bool) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	cur, err := url.Parse(current)
	if err != nil {
		return "", false
	}
	candidate, err := siteurl.Canonicalize(cur.ResolveReference(ref).String())
	if err != nil {
		return "", false
	}
	parsed, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(parsed.Host, base.Host) {
		return "", false
	}
	if _, ok := seen[candidate]; ok {
		return "", false
	}
	return candidate, true
}
