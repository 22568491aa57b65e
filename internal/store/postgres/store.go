// Package postgres provides the Postgres-backed site store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/domsphere/siteintel/internal/site"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists sites, pages, atlases, page info and embeddings in Postgres.
type Store struct {
	pool querier
}

var _ site.Store = (*Store)(nil)

// New creates a Postgres-backed store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertSite inserts or replaces a registered site.
func (s *Store) UpsertSite(ctx context.Context, st site.Site) error {
	if st.ID == "" {
		return fmt.Errorf("site id is required")
	}
	metaJSON, err := marshalMeta(st.Meta)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO sites (site_id, parent_url, display_name, meta)
VALUES ($1, $2, $3, $4)
ON CONFLICT (site_id) DO UPDATE SET
	parent_url = excluded.parent_url,
	display_name = excluded.display_name,
	meta = excluded.meta`
	if _, err := s.pool.Exec(ctx, query, st.ID, st.ParentURL, st.DisplayName, metaJSON); err != nil {
		return fmt.Errorf("upsert site: %w", err)
	}
	return nil
}

// GetSite fetches one registered site.
func (s *Store) GetSite(ctx context.Context, siteID string) (site.Site, error) {
	const query = `
SELECT site_id, parent_url, display_name, meta
FROM sites
WHERE site_id = $1`
	var (
		st       site.Site
		metaJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, siteID).Scan(&st.ID, &st.ParentURL, &st.DisplayName, &metaJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return site.Site{}, fmt.Errorf("site %s: %w", siteID, site.ErrNotFound)
	}
	if err != nil {
		return site.Site{}, fmt.Errorf("get site: %w", err)
	}
	if err := unmarshalMeta(metaJSON, &st.Meta); err != nil {
		return site.Site{}, err
	}
	return st, nil
}

// UpsertPages applies one crawled batch. Each row is written with its own
// statement so a single failure does not poison the batch.
func (s *Store) UpsertPages(ctx context.Context, siteID string, pages []site.PageUpsert, at time.Time) (int, error) {
	const query = `
INSERT INTO site_pages (site_id, url, status, meta, content_hash, first_seen_at, last_seen_at, last_crawled_at)
VALUES ($1, $2, 'active', $3, $4, $5, $5, $5)
ON CONFLICT (site_id, url) DO UPDATE SET
	status = 'active',
	meta = COALESCE(excluded.meta, site_pages.meta),
	content_hash = CASE WHEN excluded.content_hash <> '' THEN excluded.content_hash ELSE site_pages.content_hash END,
	last_seen_at = excluded.last_seen_at,
	last_crawled_at = excluded.last_crawled_at`
	touched := 0
	for _, p := range pages {
		if p.URL == "" {
			continue
		}
		metaJSON, err := marshalMeta(p.Meta)
		if err != nil {
			return touched, err
		}
		if _, err := s.pool.Exec(ctx, query, siteID, p.URL, metaJSON, p.ContentHash, at); err != nil {
			return touched, fmt.Errorf("upsert page %s: %w", p.URL, err)
		}
		touched++
	}
	return touched, nil
}

// GetPage fetches one registry row.
func (s *Store) GetPage(ctx context.Context, siteID, url string) (site.Page, error) {
	query := selectPages + ` AND url = $2`
	row := s.pool.QueryRow(ctx, query, siteID, url)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return site.Page{}, fmt.Errorf("page %s: %w", url, site.ErrNotFound)
	}
	if err != nil {
		return site.Page{}, fmt.Errorf("get page: %w", err)
	}
	return page, nil
}

// ListPages returns pages for a site, optionally filtered by status.
func (s *Store) ListPages(ctx context.Context, siteID string, status site.PageStatus) ([]site.Page, error) {
	query := selectPages
	args := []any{siteID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY last_seen_at DESC, url ASC`
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()
	var out []site.Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, page)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return out, nil
}

// MarkPagesStatus sets the status on the given URLs and reports how many rows
// changed.
func (s *Store) MarkPagesStatus(ctx context.Context, siteID string, urls []string, status site.PageStatus, _ time.Time) (int, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	const query = `
UPDATE site_pages
SET status = $3
WHERE site_id = $1 AND url = ANY($2) AND status <> $3`
	tag, err := s.pool.Exec(ctx, query, siteID, urls, string(status))
	if err != nil {
		return 0, fmt.Errorf("mark pages %s: %w", status, err)
	}
	return int(tag.RowsAffected()), nil
}

// TouchPage sets the refresh timestamp for kind in a single atomic statement,
// creating the row if absent and flipping gone pages back to active.
func (s *Store) TouchPage(ctx context.Context, siteID, url string, kind site.RefreshKind, at time.Time) error {
	column, ok := refreshColumns[kind]
	if !ok {
		return fmt.Errorf("unknown refresh kind %q", kind)
	}
	query := fmt.Sprintf(`
INSERT INTO site_pages (site_id, url, status, first_seen_at, last_seen_at, %[1]s)
VALUES ($1, $2, 'active', $3, $3, $3)
ON CONFLICT (site_id, url) DO UPDATE SET
	status = 'active',
	last_seen_at = excluded.last_seen_at,
	%[1]s = excluded.%[1]s`, column)
	if _, err := s.pool.Exec(ctx, query, siteID, url, at); err != nil {
		return fmt.Errorf("touch %s page %s: %w", kind, url, err)
	}
	return nil
}

// refreshColumns maps refresh kinds onto page registry columns. The map is
// the whitelist that keeps kind out of raw SQL.
var refreshColumns = map[site.RefreshKind]string{
	site.RefreshInfo:      "info_refreshed_at",
	site.RefreshAtlas:     "atlas_refreshed_at",
	site.RefreshEmbedding: "embedding_refreshed_at",
}

// UpsertPageInfo replaces the info record for (site, url).
func (s *Store) UpsertPageInfo(ctx context.Context, info site.PageInfo) error {
	metaJSON, err := marshalMeta(info.Meta)
	if err != nil {
		return err
	}
	normalizedJSON, err := marshalMeta(info.Normalized)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO site_page_info (site_id, url, meta, normalized)
VALUES ($1, $2, $3, $4)
ON CONFLICT (site_id, url) DO UPDATE SET
	meta = excluded.meta,
	normalized = excluded.normalized`
	if _, err := s.pool.Exec(ctx, query, info.SiteID, info.URL, metaJSON, normalizedJSON); err != nil {
		return fmt.Errorf("upsert page info %s: %w", info.URL, err)
	}
	return nil
}

// GetPageInfo fetches the info record for (site, url).
func (s *Store) GetPageInfo(ctx context.Context, siteID, url string) (site.PageInfo, error) {
	const query = `
SELECT site_id, url, meta, normalized
FROM site_page_info
WHERE site_id = $1 AND url = $2`
	var (
		info           site.PageInfo
		metaJSON       []byte
		normalizedJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, siteID, url).Scan(&info.SiteID, &info.URL, &metaJSON, &normalizedJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return site.PageInfo{}, fmt.Errorf("page info %s: %w", url, site.ErrNotFound)
	}
	if err != nil {
		return site.PageInfo{}, fmt.Errorf("get page info: %w", err)
	}
	if err := unmarshalMeta(metaJSON, &info.Meta); err != nil {
		return site.PageInfo{}, err
	}
	if err := unmarshalMeta(normalizedJSON, &info.Normalized); err != nil {
		return site.PageInfo{}, err
	}
	return info, nil
}

// ListPageInfo returns every info record for a site ordered by URL.
func (s *Store) ListPageInfo(ctx context.Context, siteID string) ([]site.PageInfo, error) {
	const query = `
SELECT site_id, url, meta, normalized
FROM site_page_info
WHERE site_id = $1
ORDER BY url ASC`
	rows, err := s.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("list page info: %w", err)
	}
	defer rows.Close()
	var out []site.PageInfo
	for rows.Next() {
		var (
			info           site.PageInfo
			metaJSON       []byte
			normalizedJSON []byte
		)
		if err := rows.Scan(&info.SiteID, &info.URL, &metaJSON, &normalizedJSON); err != nil {
			return nil, fmt.Errorf("scan page info: %w", err)
		}
		if err := unmarshalMeta(metaJSON, &info.Meta); err != nil {
			return nil, err
		}
		if err := unmarshalMeta(normalizedJSON, &info.Normalized); err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list page info: %w", err)
	}
	return out, nil
}

// UpsertAtlas replaces the atlas snapshot for (site, url) wholesale.
func (s *Store) UpsertAtlas(ctx context.Context, a site.Atlas) error {
	elementsJSON, err := json.Marshal(a.Elements)
	if err != nil {
		return fmt.Errorf("marshal atlas elements: %w", err)
	}
	const query = `
INSERT INTO site_atlases (site_id, url, atlas_id, dom_hash, captured_at, elements)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (site_id, url) DO UPDATE SET
	atlas_id = excluded.atlas_id,
	dom_hash = excluded.dom_hash,
	captured_at = excluded.captured_at,
	elements = excluded.elements`
	if _, err := s.pool.Exec(ctx, query, a.SiteID, a.URL, a.ID, a.DOMHash, a.CapturedAt, elementsJSON); err != nil {
		return fmt.Errorf("upsert atlas %s: %w", a.URL, err)
	}
	return nil
}

// GetAtlas fetches the atlas snapshot for (site, url).
func (s *Store) GetAtlas(ctx context.Context, siteID, url string) (site.Atlas, error) {
	const query = `
SELECT site_id, url, atlas_id, dom_hash, captured_at, elements
FROM site_atlases
WHERE site_id = $1 AND url = $2`
	row := s.pool.QueryRow(ctx, query, siteID, url)
	a, err := scanAtlas(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return site.Atlas{}, fmt.Errorf("atlas %s: %w", url, site.ErrNotFound)
	}
	if err != nil {
		return site.Atlas{}, fmt.Errorf("get atlas: %w", err)
	}
	return a, nil
}

// ListAtlases returns every atlas snapshot for a site ordered by URL.
func (s *Store) ListAtlases(ctx context.Context, siteID string) ([]site.Atlas, error) {
	const query = `
SELECT site_id, url, atlas_id, dom_hash, captured_at, elements
FROM site_atlases
WHERE site_id = $1
ORDER BY url ASC`
	rows, err := s.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("list atlases: %w", err)
	}
	defer rows.Close()
	var out []site.Atlas
	for rows.Next() {
		a, err := scanAtlas(rows)
		if err != nil {
			return nil, fmt.Errorf("scan atlas: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list atlases: %w", err)
	}
	return out, nil
}

// UpsertEmbedding replaces the embedding record for (site, url).
func (s *Store) UpsertEmbedding(ctx context.Context, rec site.EmbeddingRecord) error {
	vectorJSON, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("marshal embedding vector: %w", err)
	}
	metaJSON, err := marshalMeta(rec.Meta)
	if err != nil {
		return err
	}
	const query = `
INSERT INTO site_embeddings (site_id, url, vector, text, meta)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (site_id, url) DO UPDATE SET
	vector = excluded.vector,
	text = excluded.text,
	meta = excluded.meta`
	if _, err := s.pool.Exec(ctx, query, rec.SiteID, rec.URL, vectorJSON, rec.Text, metaJSON); err != nil {
		return fmt.Errorf("upsert embedding %s: %w", rec.URL, err)
	}
	return nil
}

// GetEmbedding fetches the embedding record for (site, url).
func (s *Store) GetEmbedding(ctx context.Context, siteID, url string) (site.EmbeddingRecord, error) {
	const query = `
SELECT site_id, url, vector, text, meta
FROM site_embeddings
WHERE site_id = $1 AND url = $2`
	row := s.pool.QueryRow(ctx, query, siteID, url)
	rec, err := scanEmbedding(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return site.EmbeddingRecord{}, fmt.Errorf("embedding %s: %w", url, site.ErrNotFound)
	}
	if err != nil {
		return site.EmbeddingRecord{}, fmt.Errorf("get embedding: %w", err)
	}
	return rec, nil
}

// ListEmbeddings returns every embedding record for a site ordered by URL.
func (s *Store) ListEmbeddings(ctx context.Context, siteID string) ([]site.EmbeddingRecord, error) {
	const query = `
SELECT site_id, url, vector, text, meta
FROM site_embeddings
WHERE site_id = $1
ORDER BY url ASC`
	rows, err := s.pool.Query(ctx, query, siteID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	defer rows.Close()
	var out []site.EmbeddingRecord
	for rows.Next() {
		rec, err := scanEmbedding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan embedding: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}
	return out, nil
}

const selectPages = `
SELECT site_id, url, status, meta, content_hash, first_seen_at, last_seen_at,
	last_crawled_at, info_refreshed_at, atlas_refreshed_at, embedding_refreshed_at
FROM site_pages
WHERE site_id = $1`

func scanPage(row pgx.Row) (site.Page, error) {
	var (
		page     site.Page
		status   string
		metaJSON []byte
	)
	err := row.Scan(
		&page.SiteID,
		&page.URL,
		&status,
		&metaJSON,
		&page.ContentHash,
		&page.FirstSeenAt,
		&page.LastSeenAt,
		&page.LastCrawledAt,
		&page.InfoRefreshedAt,
		&page.AtlasRefreshedAt,
		&page.EmbeddingRefreshedAt,
	)
	if err != nil {
		return site.Page{}, err
	}
	page.Status = site.PageStatus(status)
	if err := unmarshalMeta(metaJSON, &page.Meta); err != nil {
		return site.Page{}, err
	}
	return page, nil
}

func scanAtlas(row pgx.Row) (site.Atlas, error) {
	var (
		a            site.Atlas
		elementsJSON []byte
	)
	if err := row.Scan(&a.SiteID, &a.URL, &a.ID, &a.DOMHash, &a.CapturedAt, &elementsJSON); err != nil {
		return site.Atlas{}, err
	}
	if len(elementsJSON) > 0 {
		if err := json.Unmarshal(elementsJSON, &a.Elements); err != nil {
			return site.Atlas{}, fmt.Errorf("unmarshal atlas elements: %w", err)
		}
	}
	return a, nil
}

func scanEmbedding(row pgx.Row) (site.EmbeddingRecord, error) {
	var (
		rec        site.EmbeddingRecord
		vectorJSON []byte
		metaJSON   []byte
	)
	if err := row.Scan(&rec.SiteID, &rec.URL, &vectorJSON, &rec.Text, &metaJSON); err != nil {
		return site.EmbeddingRecord{}, err
	}
	if len(vectorJSON) > 0 {
		if err := json.Unmarshal(vectorJSON, &rec.Vector); err != nil {
			return site.EmbeddingRecord{}, fmt.Errorf("unmarshal embedding vector: %w", err)
		}
	}
	if err := unmarshalMeta(metaJSON, &rec.Meta); err != nil {
		return site.EmbeddingRecord{}, err
	}
	return rec, nil
}

func marshalMeta(meta map[string]any) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	return out, nil
}

func unmarshalMeta(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}
	return nil
}
