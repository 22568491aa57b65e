// Package memory provides an in-memory Store for development and testing.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/domsphere/siteintel/internal/site"
)

// Store implements site.Store with mutex-guarded maps. Reads return copies
// so callers can never mutate shared state.
type Store struct {
	mu         sync.RWMutex
	sites      map[string]site.Site
	pages      map[string]map[string]site.Page
	infos      map[string]map[string]site.PageInfo
	atlases    map[string]map[string]site.Atlas
	embeddings map[string]map[string]site.EmbeddingRecord
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		sites:      make(map[string]site.Site),
		pages:      make(map[string]map[string]site.Page),
		infos:      make(map[string]map[string]site.PageInfo),
		atlases:    make(map[string]map[string]site.Atlas),
		embeddings: make(map[string]map[string]site.EmbeddingRecord),
	}
}

// UpsertSite creates or replaces a site record.
func (s *Store) UpsertSite(_ context.Context, st site.Site) error {
	if st.ID == "" {
		return fmt.Errorf("site id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sites[st.ID] = st
	return nil
}

// GetSite fetches a site by id.
func (s *Store) GetSite(_ context.Context, siteID string) (site.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sites[siteID]
	if !ok {
		return site.Site{}, fmt.Errorf("site %s: %w", siteID, site.ErrNotFound)
	}
	return st, nil
}

// UpsertPages applies a crawled batch, creating rows as active and
// refreshing existing ones in place.
func (s *Store) UpsertPages(_ context.Context, siteID string, pages []site.PageUpsert, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.pages[siteID]
	if rows == nil {
		rows = make(map[string]site.Page)
		s.pages[siteID] = rows
	}
	touched := 0
	for _, p := range pages {
		if p.URL == "" {
			continue
		}
		crawled := at
		record, ok := rows[p.URL]
		if !ok {
			record = site.Page{
				SiteID:      siteID,
				URL:         p.URL,
				Status:      site.PageStatusActive,
				Meta:        p.Meta,
				ContentHash: p.ContentHash,
				FirstSeenAt: at,
			}
		} else {
			record.Status = site.PageStatusActive
			if p.Meta != nil {
				record.Meta = p.Meta
			}
			if p.ContentHash != "" {
				record.ContentHash = p.ContentHash
			}
		}
		record.LastSeenAt = at
		record.LastCrawledAt = &crawled
		rows[p.URL] = record
		touched++
	}
	return touched, nil
}

// GetPage fetches one registry row.
func (s *Store) GetPage(_ context.Context, siteID, url string) (site.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.pages[siteID][url]
	if !ok {
		return site.Page{}, fmt.Errorf("page %s/%s: %w", siteID, url, site.ErrNotFound)
	}
	return record, nil
}

// ListPages returns pages ordered by last-seen time (newest first), URL as
// tiebreak so listings stay deterministic.
func (s *Store) ListPages(_ context.Context, siteID string, status site.PageStatus) ([]site.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]site.Page, 0, len(s.pages[siteID]))
	for _, record := range s.pages[siteID] {
		if status != "" && record.Status != status {
			continue
		}
		out = append(out, record)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastSeenAt.Equal(out[j].LastSeenAt) {
			return out[i].LastSeenAt.After(out[j].LastSeenAt)
		}
		return out[i].URL < out[j].URL
	})
	return out, nil
}

// MarkPagesStatus sets the status on matching rows and reports the count.
func (s *Store) MarkPagesStatus(_ context.Context, siteID string, urls []string, status site.PageStatus, _ time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	marked := 0
	for _, url := range urls {
		record, ok := s.pages[siteID][url]
		if !ok || record.Status == status {
			continue
		}
		record.Status = status
		s.pages[siteID][url] = record
		marked++
	}
	return marked, nil
}

// TouchPage sets the refresh timestamp for kind, creating the row if absent
// and flipping gone pages back to active.
func (s *Store) TouchPage(_ context.Context, siteID, url string, kind site.RefreshKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.pages[siteID]
	if rows == nil {
		rows = make(map[string]site.Page)
		s.pages[siteID] = rows
	}
	record, ok := rows[url]
	if !ok {
		record = site.Page{
			SiteID:      siteID,
			URL:         url,
			Status:      site.PageStatusActive,
			FirstSeenAt: at,
		}
	}
	ts := at
	switch kind {
	case site.RefreshInfo:
		record.InfoRefreshedAt = &ts
	case site.RefreshAtlas:
		record.AtlasRefreshedAt = &ts
	case site.RefreshEmbedding:
		record.EmbeddingRefreshedAt = &ts
	default:
		return fmt.Errorf("unknown refresh kind %q", kind)
	}
	record.LastSeenAt = at
	record.Status = site.PageStatusActive
	rows[url] = record
	return nil
}

// UpsertPageInfo replaces the info record for (site, url).
func (s *Store) UpsertPageInfo(_ context.Context, info site.PageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.infos[info.SiteID]
	if rows == nil {
		rows = make(map[string]site.PageInfo)
		s.infos[info.SiteID] = rows
	}
	rows[info.URL] = info
	return nil
}

// GetPageInfo fetches the info record for (site, url).
func (s *Store) GetPageInfo(_ context.Context, siteID, url string) (site.PageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.infos[siteID][url]
	if !ok {
		return site.PageInfo{}, fmt.Errorf("page info %s/%s: %w", siteID, url, site.ErrNotFound)
	}
	return info, nil
}

// ListPageInfo returns all info records for a site ordered by URL.
func (s *Store) ListPageInfo(_ context.Context, siteID string) ([]site.PageInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]site.PageInfo, 0, len(s.infos[siteID]))
	for _, info := range s.infos[siteID] {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// UpsertAtlas replaces the snapshot for (site, url) wholesale.
func (s *Store) UpsertAtlas(_ context.Context, a site.Atlas) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.atlases[a.SiteID]
	if rows == nil {
		rows = make(map[string]site.Atlas)
		s.atlases[a.SiteID] = rows
	}
	rows[a.URL] = a
	return nil
}

// GetAtlas fetches the snapshot for (site, url).
func (s *Store) GetAtlas(_ context.Context, siteID, url string) (site.Atlas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.atlases[siteID][url]
	if !ok {
		return site.Atlas{}, fmt.Errorf("atlas %s/%s: %w", siteID, url, site.ErrNotFound)
	}
	return a, nil
}

// ListAtlases returns all snapshots for a site ordered by URL.
func (s *Store) ListAtlases(_ context.Context, siteID string) ([]site.Atlas, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]site.Atlas, 0, len(s.atlases[siteID]))
	for _, a := range s.atlases[siteID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// UpsertEmbedding replaces the embedding record for (site, url).
func (s *Store) UpsertEmbedding(_ context.Context, rec site.EmbeddingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.embeddings[rec.SiteID]
	if rows == nil {
		rows = make(map[string]site.EmbeddingRecord)
		s.embeddings[rec.SiteID] = rows
	}
	rows[rec.URL] = rec
	return nil
}

// GetEmbedding fetches the embedding record for (site, url).
func (s *Store) GetEmbedding(_ context.Context, siteID, url string) (site.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.embeddings[siteID][url]
	if !ok {
		return site.EmbeddingRecord{}, fmt.Errorf("embedding %s/%s: %w", siteID, url, site.ErrNotFound)
	}
	return rec, nil
}

// ListEmbeddings returns all embedding records for a site ordered by URL.
func (s *Store) ListEmbeddings(_ context.Context, siteID string) ([]site.EmbeddingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]site.EmbeddingRecord, 0, len(s.embeddings[siteID]))
	for _, rec := range s.embeddings[siteID] {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
