package embedding

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/domsphere/siteintel/internal/site"
)

// ErrShortQuery is returned when a search query is shorter than the minimum
// after trimming.
var ErrShortQuery = errors.New("query must be at least 3 characters")

const minQueryLength = 3

// Index maintains per-(site, URL) embedding records and answers top-k
// similarity queries against them.
type Index struct {
	store    site.Store
	provider site.EmbeddingProvider
	logger   *zap.Logger
}

// NewIndex wires an index over a store and an embedding provider.
func NewIndex(store site.Store, provider site.EmbeddingProvider, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Index{
		store:    store,
		provider: provider,
		logger:   logger,
	}
}

// EmbedPage builds the text blob for one page, requests a vector and persists
// it. Page meta wins over site-info meta on key conflicts.
func (ix *Index) EmbedPage(ctx context.Context, siteID, url string) error {
	var pageMeta, infoMeta map[string]any
	if page, err := ix.store.GetPage(ctx, siteID, url); err == nil {
		pageMeta = page.Meta
	} else if !errors.Is(err, site.ErrNotFound) {
		return fmt.Errorf("load page %s: %w", url, err)
	}
	if info, err := ix.store.GetPageInfo(ctx, siteID, url); err == nil {
		infoMeta = mergeMeta(info.Normalized, info.Meta)
	} else if !errors.Is(err, site.ErrNotFound) {
		return fmt.Errorf("load page info %s: %w", url, err)
	}

	merged := mergeMeta(infoMeta, pageMeta)
	text := buildText(url, merged)

	embedCalls.Inc()
	vector, err := ix.provider.Embed(ctx, text)
	if err != nil {
		embedFailures.Inc()
		return fmt.Errorf("embed page %s: %w", url, err)
	}
	rec := site.EmbeddingRecord{
		SiteID: siteID,
		URL:    url,
		Vector: Normalize(vector),
		Text:   text,
		Meta:   merged,
	}
	if err := ix.store.UpsertEmbedding(ctx, rec); err != nil {
		return fmt.Errorf("store embedding %s: %w", url, err)
	}
	return nil
}

// EmbedBatch embeds every URL in the batch. A failed provider call is
// recorded and skipped; it never aborts the rest of the batch.
func (ix *Index) EmbedBatch(ctx context.Context, siteID string, urls []string) (site.BatchResult, error) {
	result := site.BatchResult{Total: len(urls)}
	for _, url := range urls {
		if err := ix.EmbedPage(ctx, siteID, url); err != nil {
			if errors.Is(err, site.ErrEmbeddingFailed) {
				ix.logger.Warn("page embedding failed",
					zap.String("site_id", siteID),
					zap.String("url", url),
					zap.Error(err),
				)
				result.Failed = append(result.Failed, url)
				continue
			}
			return result, err
		}
		result.Embedded++
	}
	return result, nil
}

// Search embeds the query and returns the topK most similar pages for the
// site, scores descending. topK <= 0 short-circuits without a provider call.
func (ix *Index) Search(ctx context.Context, siteID, query string, topK int) ([]site.SearchResult, error) {
	if topK <= 0 {
		return []site.SearchResult{}, nil
	}
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minQueryLength {
		return nil, ErrShortQuery
	}

	embedCalls.Inc()
	raw, err := ix.provider.Embed(ctx, query)
	if err != nil {
		embedFailures.Inc()
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec := Normalize(raw)

	records, err := ix.store.ListEmbeddings(ctx, siteID)
	if err != nil {
		return nil, fmt.Errorf("list embeddings: %w", err)
	}

	// Partial top-k selection: keep a k-sized min-heap instead of sorting
	// the whole corpus.
	h := &resultHeap{}
	heap.Init(h)
	for _, rec := range records {
		if len(rec.Vector) != len(queryVec) {
			continue
		}
		score := dot(queryVec, rec.Vector)
		item := site.SearchResult{URL: rec.URL, Score: score, Meta: rec.Meta}
		if h.Len() < topK {
			heap.Push(h, item)
		} else if score > (*h)[0].Score {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}

	out := make([]site.SearchResult, h.Len())
	copy(out, *h)
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// buildText concatenates the URL with every scalar metadata value, keys in
// sorted order so the blob is deterministic.
func buildText(url string, meta map[string]any) string {
	parts := []string{url}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := meta[k].(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case bool, int, int32, int64, float32, float64:
			parts = append(parts, fmt.Sprintf("%v", v))
		}
	}
	return strings.Join(parts, " ")
}

func mergeMeta(base, overlay map[string]any) map[string]any {
	if base == nil && overlay == nil {
		return nil
	}
	merged := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// Normalize scales a vector to unit L2 length. Empty, non-finite and
// all-zero vectors are returned unchanged to avoid dividing by zero.
func Normalize(vec []float32) []float32 {
	if len(vec) == 0 {
		return vec
	}
	var sumsq float64
	for _, v := range vec {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return vec
		}
		sumsq += f * f
	}
	if sumsq == 0 {
		return vec
	}
	norm := math.Sqrt(sumsq)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

type resultHeap []site.SearchResult

func (h resultHeap) Len() int           { return len(h) }
func (h resultHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h resultHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *resultHeap) Push(x any)        { *h = append(*h, x.(site.SearchResult)) }
func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
