package reviews

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"reviewharvest/lib/telemetry"
	"reviewharvest/services/reviews/db"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupStore(t testing.TB) Store {
	sqlite, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sqlite.Close() })

	_, err = sqlite.Exec(db.Schema)
	if err != nil {
		t.Fatal(err)
	}
	return NewStore(sqlite)
}

func batchOf(e Extraction) *Batch {
	batch := NewBatch()
	batch.Add(e)
	return batch
}

func TestMergeBatchUpsert(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:reviews")
	defer cleanup()

	store := setupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	published := time.Date(2008, time.September, 14, 0, 0, 0, 0, time.UTC)
	pages := int64(374)
	err := store.MergeBatch(ctx, batchOf(Extraction{
		User:    &User{ID: 7, Name: "Alice"},
		Authors: []Author{{ID: 10, Name: "A", Url: "/author/show/10"}},
		Books: []Book{{
			ID:            42,
			Title:         "a book",
			Author:        "A",
			Url:           "/book/show/42",
			PagesCount:    &pages,
			AvgRating:     4.33,
			RatingsCount:  100,
			DatePublished: &published,
		}},
		Ratings: []Rating{{UserID: 7, BookID: 42, Value: 5}},
	}), nil)
	if err != nil {
		t.Fatal(err)
	}

	// merging the same keys again overwrites instead of duplicating
	err = store.MergeBatch(ctx, batchOf(Extraction{
		User:    &User{ID: 7, Name: "Alice"},
		Authors: []Author{{ID: 10, Name: "B", Url: "/author/show/10"}},
		Books:   []Book{{ID: 42, Title: "a book", Author: "B", Url: "/book/show/42"}},
		Ratings: []Rating{{UserID: 7, BookID: 42, Value: 3}},
	}), nil)
	if err != nil {
		t.Fatal(err)
	}

	var ratingCount, value int64
	row := store.db.QueryRow("SELECT COUNT(*), user_rating FROM ratings WHERE user_id = 7 AND book_id = 42")
	err = row.Scan(&ratingCount, &value)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, int64(1), ratingCount)
	require.Equal(t, int64(3), value)

	var authorCount int64
	var authorName string
	row = store.db.QueryRow("SELECT COUNT(*), name FROM authors WHERE id = 10")
	err = row.Scan(&authorCount, &authorName)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, int64(1), authorCount)
	require.Equal(t, "B", authorName)

	// the second merge carried no page count or date, last write wins
	var pagesCount sql.NullInt64
	var datePublished sql.NullString
	row = store.db.QueryRow("SELECT pages_count, date_published FROM books WHERE id = 42")
	err = row.Scan(&pagesCount, &datePublished)
	if err != nil {
		t.Fatal(err)
	}
	require.False(t, pagesCount.Valid)
	require.False(t, datePublished.Valid)
}

func TestProcessedFiles(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:reviews")
	defer cleanup()

	store := setupStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	err := store.MergeBatch(ctx, NewBatch(), []string{"a.html"})
	if err != nil {
		t.Fatal(err)
	}

	processed, err := store.IsProcessed(ctx, "a.html")
	if err != nil {
		t.Fatal(err)
	}
	require.True(t, processed)

	pending, err := store.FilterUnprocessed(ctx, []string{"a.html", "b.html"})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, []string{"b.html"}, pending)

	// marking the same path twice stays a single row
	err = store.MergeBatch(ctx, NewBatch(), []string{"a.html", "a.html"})
	if err != nil {
		t.Fatal(err)
	}
	var count int64
	err = store.db.QueryRow("SELECT COUNT(*) FROM processed_files").Scan(&count)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, int64(1), count)
}
