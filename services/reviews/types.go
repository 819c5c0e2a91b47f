package reviews

import (
	"fmt"
	"time"
)

// entities carry the natural keys extracted from the source markup, never
// surrogate ids. merge into the store is an upsert on those keys.

type User struct {
	ID   int64
	Name string
}

type Author struct {
	ID   int64
	Name string
	Url  string
}

type Book struct {
	ID       int64
	Title    string
	Author   string
	Isbn     string
	Isbn13   string
	Url      string
	CoverUrl string
	// nil when the source lists the page count as unknown
	PagesCount   *int64
	AvgRating    float64
	RatingsCount int64
	// nil when the source has no usable publication date
	DatePublished *time.Time
}

// Rating is a user's score for one book, 0 when the source row carried no
// recognized star label. at most one per (user, book) pair.
type Rating struct {
	UserID int64
	BookID int64
	Value  int64
}

// Extraction is everything one source page yields. a nil User means the
// page failed the validity checks and contributes nothing.
type Extraction struct {
	User    *User
	Authors []Author
	Books   []Book
	Ratings []Rating
}

// SourceError tags a schema violation with the user id of the source that
// produced it. the orchestrator catches these per source, skips the source
// and keeps going.
type SourceError struct {
	UserID int64
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("unparsable source (user %d): %s", e.UserID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
