package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/domsphere/siteintel/internal/embedding"
	"github.com/domsphere/siteintel/internal/pipeline"
	"github.com/domsphere/siteintel/internal/site"
)

type registerSiteRequest struct {
	SiteID      string         `json:"site_id"`
	ParentURL   string         `json:"parent_url"`
	DisplayName string         `json:"display_name"`
	Meta        map[string]any `json:"meta"`
}

type buildSiteMapRequest struct {
	StartURL    string `json:"start_url"`
	Depth       *int   `json:"depth"`
	Limit       int    `json:"limit"`
	MarkMissing *bool  `json:"mark_missing"`
}

type refreshRequest struct {
	URL   string `json:"url"`
	Force bool   `json:"force"`
}

type embedRequest struct {
	URLs []string `json:"urls"`
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) registerSite(w http.ResponseWriter, r *http.Request) {
	var req registerSiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ParentURL == "" {
		writeError(w, http.StatusBadRequest, "parent_url is required")
		return
	}
	id, err := s.service.RegisterSite(r.Context(), req.SiteID, req.ParentURL, req.DisplayName, req.Meta)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"site_id": id})
}

func (s *Server) buildSiteMap(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	var req buildSiteMapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	markMissing := true
	if req.MarkMissing != nil {
		markMissing = *req.MarkMissing
	}
	pages, err := s.service.BuildSiteMap(r.Context(), siteID, req.StartURL, req.Depth, req.Limit, markMissing)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site_id": siteID, "pages": pages})
}

func (s *Server) getSiteMap(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	pr := pageRangeFromQuery(r)
	pages, total, err := s.service.GetSiteMap(r.Context(), siteID, pr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingPayload(siteID, "pages", pages, total, pr))
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	status := site.PageStatus(r.URL.Query().Get("status"))
	pr := pageRangeFromQuery(r)
	pages, total, err := s.service.ListPages(r.Context(), siteID, status, pr)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingPayload(siteID, "pages", pages, total, pr))
}

// pageRangeFromQuery reads optional page/page_size query parameters. Absent
// or malformed values leave the zero range, which lists everything.
func pageRangeFromQuery(r *http.Request) pipeline.PageRange {
	var pr pipeline.PageRange
	q := r.URL.Query()
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		pr.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil {
		pr.PageSize = v
	}
	return pr
}

func listingPayload(siteID, key string, items any, total int, pr pipeline.PageRange) map[string]any {
	payload := map[string]any{"site_id": siteID, key: items, "total": total}
	if pr.PageSize > 0 {
		page := pr.Page
		if page < 1 {
			page = 1
		}
		payload["page"] = page
		payload["page_size"] = pr.PageSize
	}
	return payload
}

func (s *Server) refreshInfo(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	info, err := s.service.RefreshInfo(r.Context(), siteID, req.URL, req.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) getPageInfo(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	info, err := s.service.GetPageInfo(r.Context(), siteID, r.URL.Query().Get("url"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) refreshAtlas(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	snapshot, err := s.service.RefreshAtlas(r.Context(), siteID, req.URL, req.Force)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) getAtlas(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	snapshot, err := s.service.GetAtlas(r.Context(), siteID, r.URL.Query().Get("url"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) embedPages(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.URLs) == 0 {
		writeError(w, http.StatusBadRequest, "urls are required")
		return
	}
	result, err := s.service.EmbedPages(r.Context(), siteID, req.URLs)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) searchSite(w http.ResponseWriter, r *http.Request) {
	siteID := chi.URLParam(r, "site_id")
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK == 0 {
		if raw := r.URL.Query().Get("top_k"); raw != "" {
			if k, err := strconv.Atoi(raw); err == nil {
				req.TopK = k
			}
		}
	}
	results, err := s.service.SearchSite(r.Context(), siteID, req.Query, req.TopK)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"site_id": siteID, "results": results})
}

// writeServiceError maps pipeline errors onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, site.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, site.ErrUnresolvableURL), errors.Is(err, embedding.ErrShortQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, site.ErrFetchFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, site.ErrEmbeddingFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
