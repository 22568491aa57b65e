// Package site defines core types shared across the pipeline subsystems.
package site

import "time"

// PageStatus represents the lifecycle state of a page within a site.
type PageStatus string

// Page status values persisted in the page registry.
const (
	PageStatusActive PageStatus = "active"
	PageStatusGone   PageStatus = "gone"
)

// RefreshKind selects which per-page refresh timestamp a touch updates.
type RefreshKind string

// Refresh kinds tracked on each page row.
const (
	RefreshInfo      RefreshKind = "info"
	RefreshAtlas     RefreshKind = "atlas"
	RefreshEmbedding RefreshKind = "embedding"
)

// Site is the registered crawl root plus free-form metadata.
type Site struct {
	ID          string         `json:"site_id"`
	ParentURL   string         `json:"parent_url"`
	DisplayName string         `json:"display_name,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// Page is one row of the per-site page registry, keyed by canonical URL.
type Page struct {
	SiteID               string         `json:"site_id"`
	URL                  string         `json:"url"`
	Status               PageStatus     `json:"status"`
	Meta                 map[string]any `json:"meta,omitempty"`
	ContentHash          string         `json:"content_hash,omitempty"`
	FirstSeenAt          time.Time      `json:"first_seen_at"`
	LastSeenAt           time.Time      `json:"last_seen_at"`
	LastCrawledAt        *time.Time     `json:"last_crawled_at,omitempty"`
	InfoRefreshedAt      *time.Time     `json:"info_refreshed_at,omitempty"`
	AtlasRefreshedAt     *time.Time     `json:"atlas_refreshed_at,omitempty"`
	EmbeddingRefreshedAt *time.Time     `json:"embedding_refreshed_at,omitempty"`
}

// PageUpsert carries one crawled page into the registry.
type PageUpsert struct {
	URL         string
	Meta        map[string]any
	ContentHash string
}

// CrawlPage is a single discovery produced by the sitemap crawler.
// Meta holds title/description/keywords plus the content hash.
type CrawlPage struct {
	URL  string         `json:"url"`
	Meta map[string]any `json:"meta,omitempty"`
}

// PageInfo is the refreshed metadata record for one (site, URL).
type PageInfo struct {
	SiteID     string         `json:"site_id"`
	URL        string         `json:"url"`
	Meta       map[string]any `json:"meta,omitempty"`
	Normalized map[string]any `json:"normalized,omitempty"`
}

// AtlasElement is one indexed DOM element inside an atlas snapshot.
// ParentIdx points at the nearest indexed ancestor and is always smaller
// than Idx; it is nil for root elements.
type AtlasElement struct {
	Idx        int               `json:"idx"`
	Tag        string            `json:"tag"`
	ID         string            `json:"id,omitempty"`
	ClassList  []string          `json:"class_list,omitempty"`
	Role       string            `json:"role,omitempty"`
	DataAttrs  map[string]string `json:"data_attrs,omitempty"`
	TextSample string            `json:"text_sample,omitempty"`
	CSSPath    string            `json:"css_path,omitempty"`
	ParentIdx  *int              `json:"parent_idx,omitempty"`
}

// Atlas is a bounded structural snapshot of one page's DOM. Snapshots are
// replaced wholesale on refresh; no history is kept.
type Atlas struct {
	ID         string         `json:"atlas_id"`
	SiteID     string         `json:"site_id"`
	URL        string         `json:"url"`
	DOMHash    string         `json:"dom_hash"`
	CapturedAt time.Time      `json:"captured_at"`
	Elements   []AtlasElement `json:"elements"`
}

// EmbeddingRecord stores the L2-normalized vector for one (site, URL)
// together with the source text it was built from.
type EmbeddingRecord struct {
	SiteID string         `json:"site_id"`
	URL    string         `json:"url"`
	Vector []float32      `json:"vector"`
	Text   string         `json:"text"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// SearchResult is one ranked hit from a semantic search.
type SearchResult struct {
	URL   string         `json:"url"`
	Score float64        `json:"score"`
	Meta  map[string]any `json:"meta,omitempty"`
}

// BatchResult summarizes a batch embedding run. Failed holds the URLs whose
// provider call failed; a partial failure never aborts the batch.
type BatchResult struct {
	Total    int      `json:"total"`
	Embedded int      `json:"embedded"`
	Failed   []string `json:"failed,omitempty"`
}
