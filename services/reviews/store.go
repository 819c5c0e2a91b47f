package reviews

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("services/reviews")

// dates are persisted as ISO calendar days, precision beyond the day is
// never present in the source.
const dateLayout = "2006-01-02"

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

const upsertUser = `
INSERT INTO users (id, name) VALUES (?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name
`

const upsertAuthor = `
INSERT INTO authors (id, name, url) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET name = excluded.name, url = excluded.url
`

const upsertBook = `
INSERT INTO books (
	id, title, author, isbn, isbn13, url, cover_url,
	pages_count, avg_rating, ratings_count, date_published
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	title = excluded.title,
	author = excluded.author,
	isbn = excluded.isbn,
	isbn13 = excluded.isbn13,
	url = excluded.url,
	cover_url = excluded.cover_url,
	pages_count = excluded.pages_count,
	avg_rating = excluded.avg_rating,
	ratings_count = excluded.ratings_count,
	date_published = excluded.date_published
`

const upsertRating = `
INSERT INTO ratings (user_id, book_id, user_rating) VALUES (?, ?, ?)
ON CONFLICT (user_id, book_id) DO UPDATE SET user_rating = excluded.user_rating
`

const insertProcessed = `
INSERT OR IGNORE INTO processed_files (path) VALUES (?)
`

// MergeBatch applies one batch and its processed-file markers in a single
// transaction. every write is an upsert on the record's natural key, so
// replaying a batch is harmless. users and authors go in before books
// before ratings, keeping app-level integrity without deferred FK checks.
func (s Store) MergeBatch(ctx context.Context, batch *Batch, processed []string) error {
	ctx, span := tracer.Start(ctx, "MergeBatch", trace.WithAttributes(
		attribute.Int("records", batch.Len()),
		attribute.Int("processed_paths", len(processed)),
	))
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range batch.Users() {
		_, err := tx.ExecContext(ctx, upsertUser, u.ID, u.Name)
		if err != nil {
			return fmt.Errorf("merge user %d: %w", u.ID, err)
		}
	}
	for _, a := range batch.Authors() {
		_, err := tx.ExecContext(ctx, upsertAuthor, a.ID, a.Name, a.Url)
		if err != nil {
			return fmt.Errorf("merge author %d: %w", a.ID, err)
		}
	}
	for _, b := range batch.Books() {
		var datePublished sql.NullString
		if b.DatePublished != nil {
			datePublished = sql.NullString{
				String: b.DatePublished.Format(dateLayout),
				Valid:  true,
			}
		}
		var pagesCount sql.NullInt64
		if b.PagesCount != nil {
			pagesCount = sql.NullInt64{Int64: *b.PagesCount, Valid: true}
		}

		_, err := tx.ExecContext(
			ctx, upsertBook,
			b.ID, b.Title, b.Author, b.Isbn, b.Isbn13, b.Url, b.CoverUrl,
			pagesCount, b.AvgRating, b.RatingsCount, datePublished,
		)
		if err != nil {
			return fmt.Errorf("merge book %d: %w", b.ID, err)
		}
	}
	for _, r := range batch.Ratings() {
		_, err := tx.ExecContext(ctx, upsertRating, r.UserID, r.BookID, r.Value)
		if err != nil {
			return fmt.Errorf("merge rating (%d, %d): %w", r.UserID, r.BookID, err)
		}
	}
	for _, path := range processed {
		_, err := tx.ExecContext(ctx, insertProcessed, path)
		if err != nil {
			return fmt.Errorf("mark processed %s: %w", path, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		span.SetStatus(codes.Error, "commit failed")
		span.RecordError(err)
	}
	return err
}

// IsProcessed reports whether a source file was already ingested.
func (s Store) IsProcessed(ctx context.Context, path string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx, "SELECT COUNT(*) FROM processed_files WHERE path = ?", path,
	)
	var count int64
	err := row.Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// FilterUnprocessed returns the candidates that have not been ingested
// yet, preserving their order.
func (s Store) FilterUnprocessed(ctx context.Context, candidates []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT path FROM processed_files")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	processed := map[string]bool{}
	for rows.Next() {
		var path string
		err := rows.Scan(&path)
		if err != nil {
			return nil, err
		}
		processed[path] = true
	}
	err = rows.Err()
	if err != nil {
		return nil, err
	}

	var out []string
	for _, c := range candidates {
		if !processed[c] {
			out = append(out, c)
		}
	}
	return out, nil
}
