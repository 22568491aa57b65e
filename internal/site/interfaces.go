package site

import (
	"context"
	"time"
)

// Store persists sites, the page registry, atlas snapshots, page info and
// embedding records. Implementations must be safe for concurrent use; page
// writes for the same (site, url) must serialize.
type Store interface {
	UpsertSite(ctx context.Context, s Site) error
	GetSite(ctx context.Context, siteID string) (Site, error)

	// UpsertPages applies one crawled batch. Each page row is created as
	// active or refreshed in place; the write is atomic per page.
	UpsertPages(ctx context.Context, siteID string, pages []PageUpsert, at time.Time) (int, error)
	GetPage(ctx context.Context, siteID, url string) (Page, error)
	// ListPages returns pages for a site, optionally filtered by status
	// (empty status means all).
	ListPages(ctx context.Context, siteID string, status PageStatus) ([]Page, error)
	// MarkPagesStatus sets the status on the given URLs and reports how many
	// rows changed.
	MarkPagesStatus(ctx context.Context, siteID string, urls []string, status PageStatus, at time.Time) (int, error)
	// TouchPage sets the refresh timestamp for kind, creating the row if
	// absent and flipping gone pages back to active.
	TouchPage(ctx context.Context, siteID, url string, kind RefreshKind, at time.Time) error

	UpsertPageInfo(ctx context.Context, info PageInfo) error
	GetPageInfo(ctx context.Context, siteID, url string) (PageInfo, error)
	ListPageInfo(ctx context.Context, siteID string) ([]PageInfo, error)

	UpsertAtlas(ctx context.Context, a Atlas) error
	GetAtlas(ctx context.Context, siteID, url string) (Atlas, error)
	ListAtlases(ctx context.Context, siteID string) ([]Atlas, error)

	UpsertEmbedding(ctx context.Context, rec EmbeddingRecord) error
	GetEmbedding(ctx context.Context, siteID, url string) (EmbeddingRecord, error)
	ListEmbeddings(ctx context.Context, siteID string) ([]EmbeddingRecord, error)

	Close()
}

// Fetcher retrieves the HTML body for a canonical URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// EmbeddingProvider turns text into an embedding vector. Transport and auth
// failures surface as ErrEmbeddingFailed; the pipeline does not interpret
// their cause.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
