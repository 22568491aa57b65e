package embedding

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/domsphere/siteintel/internal/site"
	"github.com/domsphere/siteintel/internal/store/memory"
)

func seedPage(t *testing.T, store site.Store, siteID, url, title string) {
	t.Helper()
	_, err := store.UpsertPages(context.Background(), siteID, []site.PageUpsert{
		{URL: url, Meta: map[string]any{"title": title}},
	}, time.Unix(1700000000, 0).UTC())
	require.NoError(t, err)
}

func TestEmbedPageStoresUnitNormVector(t *testing.T) {
	store := memory.New()
	seedPage(t, store, "shop", "https://shop.test/", "Home")

	provider := new(MockProvider)
	provider.On("Embed", mock.Anything, mock.Anything).Return([]float32{3, 4}, nil)

	ix := NewIndex(store, provider, nil)
	require.NoError(t, ix.EmbedPage(context.Background(), "shop", "https://shop.test/"))

	rec, err := store.GetEmbedding(context.Background(), "shop", "https://shop.test/")
	require.NoError(t, err)
	require.InDelta(t, 0.6, rec.Vector[0], 1e-6)
	require.InDelta(t, 0.8, rec.Vector[1], 1e-6)
	require.Contains(t, rec.Text, "https://shop.test/")
	require.Contains(t, rec.Text, "Home")
	provider.AssertExpectations(t)
}

func TestEmbedPageMergesInfoMetaUnderPageMeta(t *testing.T) {
	store := memory.New()
	seedPage(t, store, "shop", "https://shop.test/", "Fresh Title")
	require.NoError(t, store.UpsertPageInfo(context.Background(), site.PageInfo{
		SiteID: "shop",
		URL:    "https://shop.test/",
		Meta:   map[string]any{"title": "Stale Title", "description": "A shop"},
	}))

	provider := new(MockProvider)
	var captured string
	provider.On("Embed", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { captured = args.String(1) }).
		Return([]float32{1, 0}, nil)

	ix := NewIndex(store, provider, nil)
	require.NoError(t, ix.EmbedPage(context.Background(), "shop", "https://shop.test/"))

	require.Contains(t, captured, "Fresh Title")
	require.Contains(t, captured, "A shop")
	require.NotContains(t, captured, "Stale Title")
}

func TestEmbedBatchReportsPartialFailure(t *testing.T) {
	store := memory.New()
	seedPage(t, store, "shop", "https://shop.test/x", "X")
	seedPage(t, store, "shop", "https://shop.test/y", "Y")

	provider := new(MockProvider)
	provider.On("Embed", mock.Anything, mock.MatchedBy(func(text string) bool {
		return text != "" && text[:len("https://shop.test/x")] == "https://shop.test/x"
	})).Return([]float32{1, 0}, nil)
	provider.On("Embed", mock.Anything, mock.Anything).Return(nil, site.ErrEmbeddingFailed)

	ix := NewIndex(store, provider, nil)
	result, err := ix.EmbedBatch(context.Background(), "shop", []string{"https://shop.test/x", "https://shop.test/y"})
	require.NoError(t, err)
	require.Equal(t, 2, result.Total)
	require.Equal(t, 1, result.Embedded)
	require.Equal(t, []string{"https://shop.test/y"}, result.Failed)

	_, err = store.GetEmbedding(context.Background(), "shop", "https://shop.test/x")
	require.NoError(t, err)
	_, err = store.GetEmbedding(context.Background(), "shop", "https://shop.test/y")
	require.ErrorIs(t, err, site.ErrNotFound)
}

func TestSearchZeroTopKSkipsProvider(t *testing.T) {
	store := memory.New()
	provider := new(MockProvider)

	ix := NewIndex(store, provider, nil)
	results, err := ix.Search(context.Background(), "shop", "anything at all", 0)
	require.NoError(t, err)
	require.Empty(t, results)
	provider.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestSearchRejectsShortQuery(t *testing.T) {
	store := memory.New()
	provider := new(MockProvider)

	ix := NewIndex(store, provider, nil)
	_, err := ix.Search(context.Background(), "shop", "  ab  ", 5)
	require.ErrorIs(t, err, ErrShortQuery)
	provider.AssertNotCalled(t, "Embed", mock.Anything, mock.Anything)
}

func TestSearchRanksByCosineAndSkipsMismatchedDims(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for url, vec := range map[string][]float32{
		"https://shop.test/close":    {0.8, 0.6},
		"https://shop.test/far":      {0, 1},
		"https://shop.test/mismatch": {1, 0, 0},
	} {
		require.NoError(t, store.UpsertEmbedding(ctx, site.EmbeddingRecord{
			SiteID: "shop",
			URL:    url,
			Vector: vec,
		}))
	}

	provider := new(MockProvider)
	provider.On("Embed", mock.Anything, "shoes").Return([]float32{1, 0}, nil)

	ix := NewIndex(store, provider, nil)
	results, err := ix.Search(ctx, "shop", "shoes", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://shop.test/close", results[0].URL)
	require.InDelta(t, 0.8, results[0].Score, 1e-6)
	require.Equal(t, "https://shop.test/far", results[1].URL)
}

func TestSearchLimitsToTopK(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	vectors := [][]float32{{1, 0}, {0.9, float32(math.Sqrt(1 - 0.81))}, {0.5, float32(math.Sqrt(0.75))}, {0, 1}}
	urls := []string{"https://shop.test/a", "https://shop.test/b", "https://shop.test/c", "https://shop.test/d"}
	for i, url := range urls {
		require.NoError(t, store.UpsertEmbedding(ctx, site.EmbeddingRecord{
			SiteID: "shop",
			URL:    url,
			Vector: vectors[i],
		}))
	}

	provider := new(MockProvider)
	provider.On("Embed", mock.Anything, "running shoes").Return([]float32{1, 0}, nil)

	ix := NewIndex(store, provider, nil)
	results, err := ix.Search(ctx, "shop", "running shoes", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "https://shop.test/a", results[0].URL)
	require.Equal(t, "https://shop.test/b", results[1].URL)
	require.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestNormalizeDegenerateVectors(t *testing.T) {
	require.Empty(t, Normalize(nil))

	zero := []float32{0, 0, 0}
	require.Equal(t, zero, Normalize(zero))

	nan := []float32{float32(math.NaN()), 1}
	out := Normalize(nan)
	require.True(t, math.IsNaN(float64(out[0])))
	require.Equal(t, float32(1), out[1])
}

func TestBuildTextSortsKeysAndSkipsNonScalars(t *testing.T) {
	text := buildText("https://shop.test/", map[string]any{
		"title":       "Home",
		"description": "A shop",
		"count":       3,
		"tags":        []string{"never", "included"},
		"empty":       "",
	})
	require.Equal(t, "https://shop.test/ 3 A shop Home", text)
}
