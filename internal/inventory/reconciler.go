// Package inventory reconciles crawl output against the persisted page
// registry for a site.
package inventory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/domsphere/siteintel/internal/site"
)

// Result summarizes one reconciliation pass.
type Result struct {
	Touched    int
	MarkedGone int
}

// Reconciler makes fresh crawl results authoritative for a site's registry.
type Reconciler struct {
	store  site.Store
	logger *zap.Logger
	now    func() time.Time
}

// New builds a Reconciler.
func New(store site.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the reconciler's clock. Intended for tests.
func (r *Reconciler) WithClock(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// ReconcileCrawl upserts every discovered page as active and, when
// markMissing is set, flips previously active pages absent from the crawl
// to gone. markMissing must stay false for scoped or filtered crawls, or
// live pages outside the subset would be buried.
func (r *Reconciler) ReconcileCrawl(ctx context.Context, siteID string, pages []site.CrawlPage, markMissing bool) (Result, error) {
	if len(pages) == 0 {
		return Result{}, nil
	}
	now := r.now()

	seen := make(map[string]struct{}, len(pages))
	upserts := make([]site.PageUpsert, 0, len(pages))
	for _, p := range pages {
		if p.URL == "" {
			continue
		}
		seen[p.URL] = struct{}{}
		upserts = append(upserts, site.PageUpsert{
			URL:         p.URL,
			Meta:        p.Meta,
			ContentHash: contentHash(p.Meta),
		})
	}

	touched, err := r.store.UpsertPages(ctx, siteID, upserts, now)
	if err != nil {
		return Result{}, fmt.Errorf("upsert pages for site %s: %w", siteID, err)
	}
	result := Result{Touched: touched}

	if markMissing {
		result.MarkedGone = r.markMissing(ctx, siteID, seen, now)
	}

	r.logger.Info("reconciled crawl",
		zap.String("site_id", siteID),
		zap.Int("touched", result.Touched),
		zap.Int("marked_gone", result.MarkedGone),
		zap.Bool("mark_missing", markMissing),
	)
	return result, nil
}

// markMissing is best-effort: a failure mid-sweep must never be read as
// "everything unseen is gone", so errors are logged and swallowed.
func (r *Reconciler) markMissing(ctx context.Context, siteID string, seen map[string]struct{}, now time.Time) int {
	active, err := r.store.ListPages(ctx, siteID, site.PageStatusActive)
	if err != nil {
		r.logger.Warn("mark-missing sweep skipped",
			zap.String("site_id", siteID),
			zap.Error(err),
		)
		return 0
	}
	var missing []string
	for _, page := range active {
		if _, ok := seen[page.URL]; !ok {
			missing = append(missing, page.URL)
		}
	}
	if len(missing) == 0 {
		return 0
	}
	marked, err := r.store.MarkPagesStatus(ctx, siteID, missing, site.PageStatusGone, now)
	if err != nil {
		r.logger.Warn("mark-missing sweep incomplete",
			zap.String("site_id", siteID),
			zap.Int("candidates", len(missing)),
			zap.Error(err),
		)
	}
	return marked
}

// Touch records a single-URL refresh of the given kind without touching any
// other page. A gone page explicitly re-fetched flips back to active.
func (r *Reconciler) Touch(ctx context.Context, siteID, url string, kind site.RefreshKind) error {
	if err := r.store.TouchPage(ctx, siteID, url, kind, r.now()); err != nil {
		return fmt.Errorf("touch %s page %s: %w", kind, url, err)
	}
	return nil
}

func contentHash(meta map[string]any) string {
	if meta == nil {
		return ""
	}
	if h, ok := meta["hash"].(string); ok {
		return h
	}
	return ""
}
