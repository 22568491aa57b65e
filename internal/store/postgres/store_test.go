package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/domsphere/siteintel/internal/site"
)

func TestUpsertSiteInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO sites").
		WithArgs("shop", "https://shop.test", "Shop", []byte(`{"tier":"gold"}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.UpsertSite(context.Background(), site.Site{
		ID:          "shop",
		ParentURL:   "https://shop.test",
		DisplayName: "Shop",
		Meta:        map[string]any{"tier": "gold"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT site_id, parent_url").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.GetSite(context.Background(), "missing")
	require.ErrorIs(t, err, site.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPagesWritesEachRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO site_pages").
		WithArgs("shop", "https://shop.test/", []byte(`{"title":"Home"}`), "h1", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO site_pages").
		WithArgs("shop", "https://shop.test/cart", []byte(`{"title":"Cart"}`), "h2", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	n, err := store.UpsertPages(context.Background(), "shop", []site.PageUpsert{
		{URL: "https://shop.test/", Meta: map[string]any{"title": "Home"}, ContentHash: "h1"},
		{URL: "https://shop.test/cart", Meta: map[string]any{"title": "Cart"}, ContentHash: "h2"},
	}, at)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPagesSkipsEmptyURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	n, err := store.UpsertPages(context.Background(), "shop", []site.PageUpsert{{URL: ""}}, time.Now())
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPagesFiltersByStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	first := time.Unix(1700000000, 0).UTC()
	last := first.Add(time.Hour)

	rows := pgxmock.NewRows([]string{
		"site_id", "url", "status", "meta", "content_hash", "first_seen_at", "last_seen_at",
		"last_crawled_at", "info_refreshed_at", "atlas_refreshed_at", "embedding_refreshed_at",
	}).AddRow(
		"shop", "https://shop.test/", "active", []byte(`{"title":"Home"}`), "h1", first, last,
		&last, (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil),
	)

	mock.ExpectQuery("SELECT site_id, url, status").
		WithArgs("shop", "active").
		WillReturnRows(rows)

	pages, err := store.ListPages(context.Background(), "shop", site.PageStatusActive)
	require.NoError(t, err)
	require.Len(t, pages, 1)
	require.Equal(t, "https://shop.test/", pages[0].URL)
	require.Equal(t, site.PageStatusActive, pages[0].Status)
	require.Equal(t, "Home", pages[0].Meta["title"])
	require.Equal(t, last, *pages[0].LastCrawledAt)
	require.Nil(t, pages[0].InfoRefreshedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkPagesStatusReportsChangedRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	urls := []string{"https://shop.test/a", "https://shop.test/b"}
	mock.ExpectExec("UPDATE site_pages").
		WithArgs("shop", urls, "gone").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	n, err := store.MarkPagesStatus(context.Background(), "shop", urls, site.PageStatusGone, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchPageUsesKindColumn(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("atlas_refreshed_at").
		WithArgs("shop", "https://shop.test/", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.TouchPage(context.Background(), "shop", "https://shop.test/", site.RefreshAtlas, at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchPageRejectsUnknownKind(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	err = store.TouchPage(context.Background(), "shop", "https://shop.test/", site.RefreshKind("bogus"), time.Now())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAtlasMarshalsElements(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	captured := time.Unix(1700000000, 0).UTC()
	a := site.Atlas{
		ID:         "atlas-deadbeef",
		SiteID:     "shop",
		URL:        "https://shop.test/",
		DOMHash:    "abc",
		CapturedAt: captured,
		Elements: []site.AtlasElement{
			{Idx: 0, Tag: "html", CSSPath: "html"},
		},
	}

	mock.ExpectExec("INSERT INTO site_atlases").
		WithArgs(a.SiteID, a.URL, a.ID, a.DOMHash, a.CapturedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.UpsertAtlas(context.Background(), a))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEmbeddingRoundTripsVector(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"site_id", "url", "vector", "text", "meta"}).
		AddRow("shop", "https://shop.test/", []byte(`[0.6,0.8]`), "Home", []byte(`{"title":"Home"}`))

	mock.ExpectQuery("SELECT site_id, url, vector").
		WithArgs("shop", "https://shop.test/").
		WillReturnRows(rows)

	rec, err := store.GetEmbedding(context.Background(), "shop", "https://shop.test/")
	require.NoError(t, err)
	require.Equal(t, []float32{0.6, 0.8}, rec.Vector)
	require.Equal(t, "Home", rec.Text)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPagesPropagatesExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO site_pages").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	n, err := store.UpsertPages(context.Background(), "shop", []site.PageUpsert{
		{URL: "https://shop.test/"},
	}, time.Now())
	require.Error(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
