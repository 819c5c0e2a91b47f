package reviews

import "sync"

type ratingKey struct {
	UserID int64
	BookID int64
}

// Batch accumulates extraction results from concurrently processed sources
// into one write set, deduplicated on natural keys. a record seen twice
// keeps the last value merged, identity fields are source-independent so
// the winner does not matter.
type Batch struct {
	mu      sync.Mutex
	users   map[int64]User
	authors map[int64]Author
	books   map[int64]Book
	ratings map[ratingKey]Rating
}

func NewBatch() *Batch {
	return &Batch{
		users:   map[int64]User{},
		authors: map[int64]Author{},
		books:   map[int64]Book{},
		ratings: map[ratingKey]Rating{},
	}
}

func (b *Batch) Add(e Extraction) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e.User != nil {
		b.users[e.User.ID] = *e.User
	}
	for _, a := range e.Authors {
		b.authors[a.ID] = a
	}
	for _, bk := range e.Books {
		b.books[bk.ID] = bk
	}
	for _, r := range e.Ratings {
		b.ratings[ratingKey{UserID: r.UserID, BookID: r.BookID}] = r
	}
}

func (b *Batch) Users() []User {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]User, 0, len(b.users))
	for _, u := range b.users {
		out = append(out, u)
	}
	return out
}

func (b *Batch) Authors() []Author {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Author, 0, len(b.authors))
	for _, a := range b.authors {
		out = append(out, a)
	}
	return out
}

func (b *Batch) Books() []Book {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Book, 0, len(b.books))
	for _, bk := range b.books {
		out = append(out, bk)
	}
	return out
}

func (b *Batch) Ratings() []Rating {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Rating, 0, len(b.ratings))
	for _, r := range b.ratings {
		out = append(out, r)
	}
	return out
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.users) + len(b.authors) + len(b.books) + len(b.ratings)
}
