package reviews

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBatchDedup(t *testing.T) {
	batch := NewBatch()

	batch.Add(Extraction{
		User:    &User{ID: 1, Name: "first"},
		Authors: []Author{{ID: 10, Name: "A", Url: "/author/show/10"}},
		Books:   []Book{{ID: 42, Title: "a book"}},
		Ratings: []Rating{{UserID: 1, BookID: 42, Value: 5}},
	})
	batch.Add(Extraction{
		User:    &User{ID: 1, Name: "second"},
		Authors: []Author{{ID: 10, Name: "B", Url: "/author/show/10"}},
		Books:   []Book{{ID: 42, Title: "a book"}},
		Ratings: []Rating{{UserID: 1, BookID: 42, Value: 3}},
	})

	require.Len(t, batch.Users(), 1)
	require.Len(t, batch.Authors(), 1)
	require.Len(t, batch.Books(), 1)
	require.Len(t, batch.Ratings(), 1)

	// last merged extraction wins
	require.Equal(t, "second", batch.Users()[0].Name)
	require.Equal(t, "B", batch.Authors()[0].Name)
	require.Equal(t, int64(3), batch.Ratings()[0].Value)
}

func TestBatchConcurrentAdd(t *testing.T) {
	batch := NewBatch()

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			batch.Add(Extraction{
				User: &User{ID: int64(i % 8), Name: fmt.Sprintf("user %d", i)},
				Books: []Book{
					{ID: int64(i), Title: fmt.Sprintf("book %d", i)},
					{ID: int64(i % 4), Title: "shared"},
				},
			})
		}(i)
	}
	wg.Wait()

	require.Len(t, batch.Users(), 8)
	require.Len(t, batch.Books(), 64)
}
