package reviews

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	_ "embed"
)

//go:embed testdata/review_list.html
var reviewListPage []byte

//go:embed testdata/restricted.html
var restrictedPage []byte

//go:embed testdata/empty_shelf.html
var emptyShelfPage []byte

//go:embed testdata/bad_book_link.html
var badBookLinkPage []byte

func datePtr(year int, month time.Month, day int) *time.Time {
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return &t
}

func int64Ptr(n int64) *int64 { return &n }

func TestExtractReviewList(t *testing.T) {
	got, err := Extract(7, reviewListPage)
	if err != nil {
		t.Fatal(err)
	}

	want := Extraction{
		User: &User{ID: 7, Name: "Alice"},
		Authors: []Author{
			{ID: 153394, Name: "Collins, Suzanne", Url: "/author/show/153394.Suzanne_Collins"},
			{ID: 3472, Name: "Atwood, Margaret", Url: "/author/show/3472.Margaret_Atwood"},
		},
		Books: []Book{
			{
				ID:            2767052,
				Title:         "The Hunger Games (The Hunger Games, #1)",
				Author:        "Collins, Suzanne",
				Isbn:          "0439023483",
				Isbn13:        "9780439023481",
				Url:           "/book/show/2767052-the-hunger-games",
				CoverUrl:      "https://images.example.com/books/1447303603s/2767052.jpg",
				PagesCount:    int64Ptr(374),
				AvgRating:     4.33,
				RatingsCount:  6376528,
				DatePublished: datePtr(2008, time.September, 14),
			},
			{
				ID:           46756,
				Title:        "Oryx and Crake (MaddAddam, #1)",
				Author:       "Atwood, Margaret",
				Isbn:         "0385721676",
				Isbn13:       "",
				Url:          "/book/show/46756-oryx-and-crake",
				CoverUrl:     "https://images.example.com/books/1327896599s/46756.jpg",
				AvgRating:    4.02,
				RatingsCount: 312,
			},
		},
		Ratings: []Rating{
			{UserID: 7, BookID: 2767052, Value: 5},
			{UserID: 7, BookID: 46756, Value: 0},
		},
	}

	diff := cmp.Diff(want, got)
	require.Empty(t, diff)
}

func TestExtractRestrictedPage(t *testing.T) {
	got, err := Extract(8, restrictedPage)
	if err != nil {
		t.Fatal(err)
	}
	require.Nil(t, got.User)
	require.Empty(t, got.Books)
}

func TestExtractEmptyShelf(t *testing.T) {
	got, err := Extract(9, emptyShelfPage)
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, &User{ID: 9, Name: "Bob"}, got.User)
	require.Empty(t, got.Authors)
	require.Empty(t, got.Books)
	require.Empty(t, got.Ratings)
}

func TestExtractBadBookLink(t *testing.T) {
	_, err := Extract(10, badBookLinkPage)

	var srcErr *SourceError
	require.ErrorAs(t, err, &srcErr)
	require.Equal(t, int64(10), srcErr.UserID)
}

func TestExtractNoTitleMatch(t *testing.T) {
	body := []byte(`<html><head>
<title>Some page without the possessive pattern</title>
<meta content="a perfectly ordinary description" />
</head><body></body></html>`)

	got, err := Extract(11, body)
	if err != nil {
		t.Fatal(err)
	}
	require.Nil(t, got.User)
}

func TestParsePublishedDate(t *testing.T) {
	testCases := []struct {
		input string
		want  *time.Time
	}{
		{input: "Jan 5, 2020", want: datePtr(2020, time.January, 5)},
		{input: "Sep 14, 2008", want: datePtr(2008, time.September, 14)},
		{input: "Jan 2020", want: datePtr(2020, time.January, 1)},
		{input: "2020", want: datePtr(2020, time.January, 1)},
		{input: "85", want: datePtr(1985, time.January, 1)},
		{input: "unknown", want: nil},
		{input: "0", want: nil},
		{input: "-5", want: nil},
		{input: "garbage", want: nil},
		{input: "", want: nil},
	}

	for _, tc := range testCases {
		got := ParsePublishedDate(tc.input)
		if tc.want == nil {
			require.Nil(t, got, "input %q", tc.input)
			continue
		}
		require.NotNil(t, got, "input %q", tc.input)
		require.Equal(t, *tc.want, *got, "input %q", tc.input)
	}
}

func TestRatingScores(t *testing.T) {
	require.Equal(t, int64(5), ratingScores["it was amazing"])
	require.Equal(t, int64(4), ratingScores["really liked it"])
	require.Equal(t, int64(3), ratingScores["liked it"])
	require.Equal(t, int64(2), ratingScores["it was ok"])
	require.Equal(t, int64(1), ratingScores["did not like it"])
	require.Equal(t, int64(0), ratingScores["some unseen label"])
	require.Equal(t, int64(0), ratingScores[""])
}

func TestParsePagesCount(t *testing.T) {
	require.Equal(t, int64(374), *parsePagesCount("374"))
	require.Equal(t, int64(374), *parsePagesCount("374 pp"))
	require.Nil(t, parsePagesCount("unknown"))
	require.Nil(t, parsePagesCount(""))
}
