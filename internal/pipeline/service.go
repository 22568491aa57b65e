// Package pipeline exposes the operational surface of the site intelligence
// pipeline: crawl, reconcile, refresh, embed and search.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/domsphere/siteintel/internal/atlas"
	"github.com/domsphere/siteintel/internal/embedding"
	"github.com/domsphere/siteintel/internal/inventory"
	"github.com/domsphere/siteintel/internal/site"
	"github.com/domsphere/siteintel/internal/sitemap"
	"github.com/domsphere/siteintel/internal/siteurl"
)

// DefaultEmbedBatchLimit bounds how many URLs one embed call may carry.
const DefaultEmbedBatchLimit = 50

// Config carries pipeline-level policy knobs.
type Config struct {
	EmbedBatchLimit int
	// DefaultCrawlDepth applies when a crawl request carries no depth.
	// Zero or negative means unlimited.
	DefaultCrawlDepth int
}

// Service ties the crawler, reconciler, atlas builder and embedding index
// together behind the operations the HTTP layer calls.
type Service struct {
	store   site.Store
	fetcher site.Fetcher
	crawler *sitemap.Crawler
	builder *atlas.Builder
	index   *embedding.Index
	recon   *inventory.Reconciler
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time
}

// New wires a Service from its collaborators.
func New(store site.Store, fetcher site.Fetcher, crawler *sitemap.Crawler, builder *atlas.Builder, index *embedding.Index, cfg Config, logger *zap.Logger) *Service {
	if cfg.EmbedBatchLimit <= 0 {
		cfg.EmbedBatchLimit = DefaultEmbedBatchLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		fetcher: fetcher,
		crawler: crawler,
		builder: builder,
		index:   index,
		recon:   inventory.New(store, logger),
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.recon = s.recon.WithClock(now)
	return s
}

// RegisterSite creates or updates a site. An empty id derives a slug from
// the parent URL's host.
func (s *Service) RegisterSite(ctx context.Context, id, parentURL, displayName string, meta map[string]any) (string, error) {
	canonical, err := siteurl.Canonicalize(parentURL)
	if err != nil {
		return "", fmt.Errorf("register site: %w", err)
	}
	if id == "" {
		parsed, err := url.Parse(canonical)
		if err != nil {
			return "", fmt.Errorf("register site %q: %w", parentURL, site.ErrUnresolvableURL)
		}
		id = hostSlug(parsed.Host)
	}
	err = s.store.UpsertSite(ctx, site.Site{
		ID:          id,
		ParentURL:   canonical,
		DisplayName: displayName,
		Meta:        meta,
	})
	if err != nil {
		return "", fmt.Errorf("register site %s: %w", id, err)
	}
	s.logger.Info("site registered",
		zap.String("site_id", id),
		zap.String("parent_url", canonical),
	)
	return id, nil
}

// BuildSiteMap crawls from startURL (resolved against the site root when
// relative or empty) and reconciles the result into the page registry.
func (s *Service) BuildSiteMap(ctx context.Context, siteID, startURL string, depth *int, limit int, markMissing bool) ([]site.CrawlPage, error) {
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("build site map: %w", err)
	}
	start, err := siteurl.Resolve(startURL, st.ParentURL)
	if err != nil {
		return nil, fmt.Errorf("build site map: %w", err)
	}
	if depth == nil && s.cfg.DefaultCrawlDepth > 0 {
		d := s.cfg.DefaultCrawlDepth
		depth = &d
	}
	pages, err := s.crawler.Crawl(ctx, sitemap.Request{
		SiteID:   siteID,
		StartURL: start,
		MaxDepth: depth,
		MaxPages: limit,
	})
	if err != nil {
		return nil, fmt.Errorf("build site map: %w", err)
	}
	res, err := s.recon.ReconcileCrawl(ctx, siteID, pages, markMissing)
	if err != nil {
		return nil, fmt.Errorf("build site map: %w", err)
	}
	s.logger.Info("site map built",
		zap.String("site_id", siteID),
		zap.Int("pages", len(pages)),
		zap.Int("marked_gone", res.MarkedGone),
	)
	return pages, nil
}

// RefreshInfo returns the metadata record for one page, refetching when
// force is set or no cached record exists. A fetch failure falls back to the
// cached record when one is available.
func (s *Service) RefreshInfo(ctx context.Context, siteID, rawURL string, force bool) (*site.PageInfo, error) {
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("refresh info: %w", err)
	}
	pageURL, err := siteurl.Resolve(rawURL, st.ParentURL)
	if err != nil {
		return nil, fmt.Errorf("refresh info: %w", err)
	}

	var cached *site.PageInfo
	if existing, err := s.store.GetPageInfo(ctx, siteID, pageURL); err == nil {
		cached = &existing
	} else if !errors.Is(err, site.ErrNotFound) {
		return nil, fmt.Errorf("refresh info: %w", err)
	}
	if cached != nil && !force {
		return cached, nil
	}

	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if cached != nil {
			s.logger.Warn("info refresh fetch failed, serving cached record",
				zap.String("site_id", siteID),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("refresh info %s: %w", pageURL, err)
	}
	meta, err := sitemap.ExtractMeta(html)
	if err != nil {
		return nil, fmt.Errorf("refresh info %s: %w", pageURL, err)
	}

	info := site.PageInfo{
		SiteID:     siteID,
		URL:        pageURL,
		Meta:       meta,
		Normalized: normalizedFields(pageURL, meta),
	}
	if err := s.store.UpsertPageInfo(ctx, info); err != nil {
		return nil, fmt.Errorf("refresh info %s: %w", pageURL, err)
	}
	if err := s.recon.Touch(ctx, siteID, pageURL, site.RefreshInfo); err != nil {
		return nil, fmt.Errorf("refresh info: %w", err)
	}
	return &info, nil
}

// RefreshAtlas returns the atlas snapshot for one page under the same
// caching contract as RefreshInfo. Snapshots replace wholesale.
func (s *Service) RefreshAtlas(ctx context.Context, siteID, rawURL string, force bool) (*site.Atlas, error) {
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("refresh atlas: %w", err)
	}
	pageURL, err := siteurl.Resolve(rawURL, st.ParentURL)
	if err != nil {
		return nil, fmt.Errorf("refresh atlas: %w", err)
	}

	var cached *site.Atlas
	if existing, err := s.store.GetAtlas(ctx, siteID, pageURL); err == nil {
		cached = &existing
	} else if !errors.Is(err, site.ErrNotFound) {
		return nil, fmt.Errorf("refresh atlas: %w", err)
	}
	if cached != nil && !force {
		return cached, nil
	}

	html, err := s.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		if cached != nil {
			s.logger.Warn("atlas refresh fetch failed, serving cached snapshot",
				zap.String("site_id", siteID),
				zap.String("url", pageURL),
				zap.Error(err),
			)
			return cached, nil
		}
		return nil, fmt.Errorf("refresh atlas %s: %w", pageURL, err)
	}
	snapshot, err := s.builder.Build(siteID, pageURL, html, s.now())
	if err != nil {
		return nil, fmt.Errorf("refresh atlas %s: %w", pageURL, err)
	}
	if err := s.store.UpsertAtlas(ctx, snapshot); err != nil {
		return nil, fmt.Errorf("refresh atlas %s: %w", pageURL, err)
	}
	if err := s.recon.Touch(ctx, siteID, pageURL, site.RefreshAtlas); err != nil {
		return nil, fmt.Errorf("refresh atlas: %w", err)
	}
	return &snapshot, nil
}

// GetPageInfo returns the stored metadata record for one page without
// fetching.
func (s *Service) GetPageInfo(ctx context.Context, siteID, rawURL string) (*site.PageInfo, error) {
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("get page info: %w", err)
	}
	pageURL, err := siteurl.Resolve(rawURL, st.ParentURL)
	if err != nil {
		return nil, fmt.Errorf("get page info: %w", err)
	}
	info, err := s.store.GetPageInfo(ctx, siteID, pageURL)
	if err != nil {
		return nil, fmt.Errorf("get page info: %w", err)
	}
	return &info, nil
}

// GetAtlas returns the stored atlas snapshot for one page without fetching.
func (s *Service) GetAtlas(ctx context.Context, siteID, rawURL string) (*site.Atlas, error) {
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("get atlas: %w", err)
	}
	pageURL, err := siteurl.Resolve(rawURL, st.ParentURL)
	if err != nil {
		return nil, fmt.Errorf("get atlas: %w", err)
	}
	snapshot, err := s.store.GetAtlas(ctx, siteID, pageURL)
	if err != nil {
		return nil, fmt.Errorf("get atlas: %w", err)
	}
	return &snapshot, nil
}

// EmbedPages embeds a batch of page URLs (resolved against the site root)
// and touches the embedding timestamp for every page that succeeded.
func (s *Service) EmbedPages(ctx context.Context, siteID string, urls []string) (site.BatchResult, error) {
	if len(urls) > s.cfg.EmbedBatchLimit {
		return site.BatchResult{}, fmt.Errorf("embed batch of %d exceeds limit %d", len(urls), s.cfg.EmbedBatchLimit)
	}
	st, err := s.store.GetSite(ctx, siteID)
	if err != nil {
		return site.BatchResult{}, fmt.Errorf("embed pages: %w", err)
	}

	resolved := make([]string, 0, len(urls))
	var unresolvable []string
	for _, u := range urls {
		r, err := siteurl.Resolve(u, st.ParentURL)
		if err != nil {
			unresolvable = append(unresolvable, u)
			continue
		}
		resolved = append(resolved, r)
	}

	result, err := s.index.EmbedBatch(ctx, siteID, resolved)
	if err != nil {
		return result, fmt.Errorf("embed pages: %w", err)
	}
	result.Total = len(urls)
	result.Failed = append(unresolvable, result.Failed...)

	failed := make(map[string]struct{}, len(result.Failed))
	for _, u := range result.Failed {
		failed[u] = struct{}{}
	}
	for _, u := range resolved {
		if _, ok := failed[u]; ok {
			continue
		}
		if err := s.recon.Touch(ctx, siteID, u, site.RefreshEmbedding); err != nil {
			return result, fmt.Errorf("embed pages: %w", err)
		}
	}
	return result, nil
}

// SearchSite embeds the query and returns the topK most similar pages.
func (s *Service) SearchSite(ctx context.Context, siteID, query string, topK int) ([]site.SearchResult, error) {
	if _, err := s.store.GetSite(ctx, siteID); err != nil {
		return nil, fmt.Errorf("search site: %w", err)
	}
	results, err := s.index.Search(ctx, siteID, query, topK)
	if err != nil {
		return nil, fmt.Errorf("search site %s: %w", siteID, err)
	}
	return results, nil
}

// PageRange selects one page of a listing. Page is 1-based; a zero or
// negative PageSize returns the full set.
type PageRange struct {
	Page     int
	PageSize int
}

// GetSiteMap returns the active pages of the registry as crawl-shaped rows,
// plus the total count before pagination.
func (s *Service) GetSiteMap(ctx context.Context, siteID string, pr PageRange) ([]site.CrawlPage, int, error) {
	pages, err := s.store.ListPages(ctx, siteID, site.PageStatusActive)
	if err != nil {
		return nil, 0, fmt.Errorf("get site map: %w", err)
	}
	out := make([]site.CrawlPage, 0, len(pages))
	for _, p := range pages {
		out = append(out, site.CrawlPage{URL: p.URL, Meta: p.Meta})
	}
	return paginate(out, pr), len(out), nil
}

// ListPages returns registry rows, optionally filtered by status, plus the
// total count before pagination.
func (s *Service) ListPages(ctx context.Context, siteID string, status site.PageStatus, pr PageRange) ([]site.Page, int, error) {
	pages, err := s.store.ListPages(ctx, siteID, status)
	if err != nil {
		return nil, 0, fmt.Errorf("list pages: %w", err)
	}
	return paginate(pages, pr), len(pages), nil
}

func paginate[T any](items []T, pr PageRange) []T {
	if pr.PageSize <= 0 {
		return items
	}
	page := pr.Page
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pr.PageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pr.PageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// hostSlug turns a URL host into a site id: lowercase, www. stripped,
// dots and colons become dashes.
func hostSlug(host string) string {
	slug := strings.ToLower(host)
	slug = strings.TrimPrefix(slug, "www.")
	slug = strings.ReplaceAll(slug, ".", "-")
	slug = strings.ReplaceAll(slug, ":", "-")
	return slug
}

// normalizedFields derives the flattened lookup fields stored next to the
// raw page meta.
func normalizedFields(pageURL string, meta map[string]any) map[string]any {
	normalized := make(map[string]any, 4)
	if parsed, err := url.Parse(pageURL); err == nil {
		normalized["hostname"] = parsed.Host
		normalized["path"] = parsed.Path
	}
	if title, ok := meta["title"]; ok {
		normalized["title"] = title
	}
	if description, ok := meta["description"]; ok {
		normalized["description"] = description
	}
	return normalized
}
